package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/chuoapp/chuo/core/application"
	"github.com/chuoapp/chuo/core/user"
)

type applicationApi struct {
	svc    *application.Service
	usrSvc user.Service
}

func registerApplicationAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := applicationApi{svc: deps.AppSvc, usrSvc: deps.UserSvc}

	ag := g.Group("/applications", jwt)
	ag.POST("", api.create)
	ag.GET("", api.query)
	ag.GET("/stats", api.stats)
	ag.GET("/:id", api.retrieve)
	ag.PUT("/:id", api.update)
	ag.DELETE("/:id", api.destroy)
	ag.PUT("/:id/status", api.setStatus, staffMiddleware())
}

func (api *applicationApi) create(ctx echo.Context) error {
	var data application.NewApplication
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewApplication")
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	app, err := api.svc.Submit(ctx.Request().Context(), ctxUsr, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, app)
}

func (api *applicationApi) query(ctx echo.Context) error {
	filter := new(application.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []application.Application{})
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	// students only see their own records
	if ctxUsr.IsStudent() && !(ctxUsr.IsFaculty() || ctxUsr.IsAdmin()) {
		filter.OwnerID = ctxUsr.ID
	}

	apps, err := api.svc.Query(ctx.Request().Context(), *filter)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, apps)
}

func (api *applicationApi) stats(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	filter := application.QueryFilter{}
	if ctxUsr.IsStudent() && !(ctxUsr.IsFaculty() || ctxUsr.IsAdmin()) {
		filter.OwnerID = ctxUsr.ID
	}
	apps, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, application.ComputeStats(apps))
}

func (api *applicationApi) retrieve(ctx echo.Context) error {
	app, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !(app.OwnerID == ctxUsr.ID || ctxUsr.IsFaculty() || ctxUsr.IsAdmin()) {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, app)
}

func (api *applicationApi) update(ctx echo.Context) error {
	var data application.UpdateApplication
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateApplication")
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	app, err := api.svc.Edit(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, app)
}

func (api *applicationApi) destroy(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	if err := api.svc.Delete(ctx.Request().Context(), ctxUsr, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *applicationApi) setStatus(ctx echo.Context) error {
	var data application.StatusChange
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StatusChange")
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	app, err := api.svc.SetStatus(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, app)
}
