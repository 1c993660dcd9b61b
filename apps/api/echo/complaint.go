package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/chuoapp/chuo/core/complaint"
	"github.com/chuoapp/chuo/core/user"
)

type complaintApi struct {
	svc    *complaint.Service
	usrSvc user.Service
}

func registerComplaintAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := complaintApi{svc: deps.CompSvc, usrSvc: deps.UserSvc}

	cg := g.Group("/complaints", jwt)
	cg.POST("", api.create)
	cg.GET("", api.query)
	cg.GET("/stats", api.stats)
	cg.GET("/:id", api.retrieve)
	cg.PUT("/:id", api.update)
	cg.DELETE("/:id", api.destroy)
	cg.PUT("/:id/status", api.setStatus, staffMiddleware())
}

func (api *complaintApi) create(ctx echo.Context) error {
	var data complaint.NewComplaint
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewComplaint")
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	c, err := api.svc.Submit(ctx.Request().Context(), ctxUsr, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, c)
}

func (api *complaintApi) query(ctx echo.Context) error {
	filter := new(complaint.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []complaint.Complaint{})
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	// students only see their own records
	if ctxUsr.IsStudent() && !(ctxUsr.IsFaculty() || ctxUsr.IsAdmin()) {
		filter.OwnerID = ctxUsr.ID
	}

	complaints, err := api.svc.Query(ctx.Request().Context(), *filter)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, complaints)
}

func (api *complaintApi) stats(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	filter := complaint.QueryFilter{}
	if ctxUsr.IsStudent() && !(ctxUsr.IsFaculty() || ctxUsr.IsAdmin()) {
		filter.OwnerID = ctxUsr.ID
	}
	complaints, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, complaint.ComputeStats(complaints))
}

func (api *complaintApi) retrieve(ctx echo.Context) error {
	c, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !(c.OwnerID == ctxUsr.ID || ctxUsr.IsFaculty() || ctxUsr.IsAdmin()) {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *complaintApi) update(ctx echo.Context) error {
	var data complaint.UpdateComplaint
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateComplaint")
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	c, err := api.svc.Edit(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, c)
}

func (api *complaintApi) destroy(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	if err := api.svc.Delete(ctx.Request().Context(), ctxUsr, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *complaintApi) setStatus(ctx echo.Context) error {
	var data complaint.StatusChange
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StatusChange")
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	c, err := api.svc.SetStatus(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, c)
}
