package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chuoapp/chuo/core/notification"
)

type notificationApi struct {
	svc *notification.Service
}

func registerNotificationAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps *Deps) {
	api := notificationApi{svc: deps.NotifSvc}

	ng := g.Group("/notifications", jwt)
	ng.GET("", api.query)
	ng.GET("/unread-count", api.unreadCount)
	ng.GET("/new", api.newArrivals)
	ng.POST("/seen", api.touchLastSeen)
	ng.PUT("/read-all", api.markAllRead)
	ng.PUT("/:id/read", api.markRead)
}

func (api *notificationApi) query(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	notes, err := api.svc.Query(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, notes)
}

func (api *notificationApi) unreadCount(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	count, err := api.svc.UnreadCount(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, echo.Map{"unread": count})
}

// newArrivals returns the unread notifications that arrived since the user
// last opened the tray; the frontend toasts these.
func (api *notificationApi) newArrivals(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	notes, err := api.svc.NewArrivals(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, notes)
}

func (api *notificationApi) touchLastSeen(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	if err := api.svc.TouchLastSeen(ctx.Request().Context(), claims.Subject); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *notificationApi) markAllRead(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	if err := api.svc.MarkAllRead(ctx.Request().Context(), claims.Subject); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *notificationApi) markRead(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	if err := api.svc.MarkRead(ctx.Request().Context(), claims.Subject, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}
