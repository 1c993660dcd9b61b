package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	uploadsvc "github.com/chuoapp/chuo/services/upload"
)

type uploadApi struct {
	svc uploadsvc.Service
}

func registerUploadAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := uploadApi{svc: deps.UploadSvc}

	g.POST("/uploads", api.create, jwt)
}

// create pushes an evidence file to the external file store and returns its
// URL for the record being submitted.
func (api *uploadApi) create(ctx echo.Context) error {
	fh, err := ctx.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}

	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer f.Close()

	res, err := api.svc.Upload(ctx.Request().Context(), fh.Filename, f)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, res)
}
