package echoapi

import (
	"bytes"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/chuoapp/chuo/core/application"
	"github.com/chuoapp/chuo/core/complaint"
	reportsvc "github.com/chuoapp/chuo/services/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type reportApi struct {
	appSvc  *application.Service
	compSvc *complaint.Service
}

func registerReportAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := reportApi{appSvc: deps.AppSvc, compSvc: deps.CompSvc}

	rg := g.Group("/reports", jwt, adminMiddleware())
	rg.GET("/applications", api.applications)
	rg.GET("/complaints", api.complaints)
}

func (api *reportApi) applications(ctx echo.Context) error {
	apps, err := api.appSvc.Query(ctx.Request().Context(), application.QueryFilter{})
	if err != nil {
		return err
	}

	var buff bytes.Buffer
	if err = reportsvc.WriteApplicationsReport(&buff, apps, application.ComputeStats(apps)); err != nil {
		return errors.Wrap(err, "building applications report")
	}
	return sendWorkbook(ctx, "applications", &buff)
}

func (api *reportApi) complaints(ctx echo.Context) error {
	complaints, err := api.compSvc.Query(ctx.Request().Context(), complaint.QueryFilter{})
	if err != nil {
		return err
	}

	var buff bytes.Buffer
	if err = reportsvc.WriteComplaintsReport(&buff, complaints, complaint.ComputeStats(complaints)); err != nil {
		return errors.Wrap(err, "building complaints report")
	}
	return sendWorkbook(ctx, "complaints", &buff)
}

func sendWorkbook(ctx echo.Context, name string, buff *bytes.Buffer) error {
	filename := name + "-" + time.Now().UTC().Format("2006-01-02") + ".xlsx"
	ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return ctx.Blob(http.StatusOK, xlsxContentType, buff.Bytes())
}
