package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/chuoapp/chuo/core/booking"
	"github.com/chuoapp/chuo/core/user"
)

type bookingApi struct {
	svc    *booking.Service
	usrSvc user.Service
}

func registerBookingAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := bookingApi{svc: deps.BookSvc, usrSvc: deps.UserSvc}

	fg := g.Group("/facilities", jwt)
	fg.GET("", api.queryFacilities)
	fg.POST("", api.createFacility, adminMiddleware())
	fg.PUT("/:id/active", api.setFacilityActive, adminMiddleware())

	bg := g.Group("/bookings", jwt)
	bg.POST("", api.create)
	bg.GET("", api.query)
	bg.GET("/stats", api.stats)
	bg.GET("/:id", api.retrieve)
	bg.DELETE("/:id", api.destroy)
	bg.PUT("/:id/cancel", api.cancel)
	bg.PUT("/:id/status", api.setStatus, staffMiddleware())
}

func (api *bookingApi) queryFacilities(ctx echo.Context) error {
	facilities, err := api.svc.QueryFacilities(ctx.Request().Context(), ctx.QueryParam("category"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, facilities)
}

func (api *bookingApi) createFacility(ctx echo.Context) error {
	var data booking.NewFacility
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewFacility")
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	fac, err := api.svc.CreateFacility(ctx.Request().Context(), ctxUsr, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, fac)
}

func (api *bookingApi) setFacilityActive(ctx echo.Context) error {
	var data struct {
		IsActive *bool `json:"is_active" validate:"required"`
	}
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding facility active flag")
	}
	if data.IsActive == nil {
		return errHttpNotFound
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	fac, err := api.svc.SetFacilityActive(ctx.Request().Context(), ctxUsr, ctx.Param("id"), *data.IsActive)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, fac)
}

func (api *bookingApi) create(ctx echo.Context) error {
	var data booking.NewBooking
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBooking")
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	b, err := api.svc.Request(ctx.Request().Context(), ctxUsr, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, b)
}

func (api *bookingApi) query(ctx echo.Context) error {
	filter := new(booking.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []booking.Booking{})
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	// students only see their own records
	if ctxUsr.IsStudent() && !(ctxUsr.IsFaculty() || ctxUsr.IsAdmin()) {
		filter.OwnerID = ctxUsr.ID
	}

	bookings, err := api.svc.Query(ctx.Request().Context(), *filter)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, bookings)
}

func (api *bookingApi) stats(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	filter := booking.QueryFilter{}
	if ctxUsr.IsStudent() && !(ctxUsr.IsFaculty() || ctxUsr.IsAdmin()) {
		filter.OwnerID = ctxUsr.ID
	}
	bookings, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, booking.ComputeStats(bookings))
}

func (api *bookingApi) retrieve(ctx echo.Context) error {
	b, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if !(b.OwnerID == ctxUsr.ID || ctxUsr.IsFaculty() || ctxUsr.IsAdmin()) {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *bookingApi) destroy(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	if err := api.svc.Delete(ctx.Request().Context(), ctxUsr, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *bookingApi) cancel(ctx echo.Context) error {
	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	b, err := api.svc.Cancel(ctx.Request().Context(), ctxUsr, ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *bookingApi) setStatus(ctx echo.Context) error {
	var data booking.StatusChange
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StatusChange")
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	b, err := api.svc.SetStatus(ctx.Request().Context(), ctxUsr, ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, b)
}
