// Package uploadsvc talks to the external file-storage API that hosts
// evidence attachments. Records only ever store the returned URL.
package uploadsvc

import (
	"context"
	"io"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/chuoapp/chuo/core"
)

// Result identifies a stored file.
type Result struct {
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
}

type Service interface {
	Upload(ctx context.Context, filename string, r io.Reader) (Result, error)
}

type restyService struct {
	client *resty.Client
}

var _ Service = (*restyService)(nil)

func NewService(conf core.UploadConfig) Service {
	client := resty.New().
		SetBaseURL(conf.URL).
		SetTimeout(conf.Timeout).
		SetAuthToken(conf.APIKey)
	return &restyService{client: client}
}

func (svc *restyService) Upload(ctx context.Context, filename string, r io.Reader) (Result, error) {
	var res Result
	resp, err := svc.client.R().
		SetContext(ctx).
		SetFileReader("file", filename, r).
		SetResult(&res).
		Post("/upload")
	if err != nil {
		return Result{}, core.NewTransportError("uploading "+filename, err)
	}
	if resp.IsError() {
		return Result{}, core.NewTransportError("uploading "+filename, errors.Errorf("upload API responded %s", resp.Status()))
	}
	return res, nil
}

// dummyService returns canned results; used in DEV/TEST.
type dummyService struct{}

var _ Service = (*dummyService)(nil)

func NewDummyService() Service { return &dummyService{} }

func (dummyService) Upload(_ context.Context, filename string, _ io.Reader) (Result, error) {
	return Result{
		URL:      "https://files.local/" + filename,
		PublicID: filename,
	}, nil
}
