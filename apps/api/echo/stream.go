package echoapi

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/chuoapp/chuo/core"
	"github.com/chuoapp/chuo/core/application"
	"github.com/chuoapp/chuo/core/booking"
	"github.com/chuoapp/chuo/core/complaint"
	"github.com/chuoapp/chuo/core/notification"
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true }, // CORS is handled upstream
}

type streamApi struct {
	deps *Deps
}

// registerStreamAPI mounts the websocket push endpoints. Browsers cannot set
// an Authorization header on websocket handshakes, so auth rides in the
// "token" query param instead of the JWT middleware.
func registerStreamAPI(g *echo.Group, deps *Deps) {
	api := streamApi{deps: deps}

	sg := g.Group("/stream")
	sg.GET("/applications", api.applications)
	sg.GET("/complaints", api.complaints)
	sg.GET("/bookings", api.bookings)
	sg.GET("/notifications", api.notifications)
}

type (
	applicationsFrame struct {
		Records []application.Application `json:"records"`
		Stats   application.Stats         `json:"stats"`
	}
	complaintsFrame struct {
		Records []complaint.Complaint `json:"records"`
		Stats   complaint.Stats       `json:"stats"`
	}
	bookingsFrame struct {
		Records []booking.Booking `json:"records"`
		Stats   booking.Stats     `json:"stats"`
	}
	notificationsFrame struct {
		Records []notification.Notification `json:"records"`
		Unread  int                         `json:"unread"`
	}
)

func (api *streamApi) applications(ctx echo.Context) error {
	claims, conn, err := api.open(ctx)
	if err != nil {
		return err
	}

	view, err := api.deps.AppSvc.LiveView(ownerScope(claims), func(apps []application.Application, stats application.Stats) {
		writeFrame(conn, applicationsFrame{Records: apps, Stats: stats}, api.deps.Logger)
	})
	if err != nil {
		conn.Close()
		return err
	}
	serveStream(conn, view, api.deps.Logger)
	return nil
}

func (api *streamApi) complaints(ctx echo.Context) error {
	claims, conn, err := api.open(ctx)
	if err != nil {
		return err
	}

	view, err := api.deps.CompSvc.LiveView(ownerScope(claims), func(comps []complaint.Complaint, stats complaint.Stats) {
		writeFrame(conn, complaintsFrame{Records: comps, Stats: stats}, api.deps.Logger)
	})
	if err != nil {
		conn.Close()
		return err
	}
	serveStream(conn, view, api.deps.Logger)
	return nil
}

func (api *streamApi) bookings(ctx echo.Context) error {
	claims, conn, err := api.open(ctx)
	if err != nil {
		return err
	}

	view, err := api.deps.BookSvc.LiveView(ownerScope(claims), func(bks []booking.Booking, stats booking.Stats) {
		writeFrame(conn, bookingsFrame{Records: bks, Stats: stats}, api.deps.Logger)
	})
	if err != nil {
		conn.Close()
		return err
	}
	serveStream(conn, view, api.deps.Logger)
	return nil
}

func (api *streamApi) notifications(ctx echo.Context) error {
	claims, conn, err := api.open(ctx)
	if err != nil {
		return err
	}

	view, err := api.deps.NotifSvc.Inbox(claims.Subject, func(notes []notification.Notification) {
		unread := 0
		for _, note := range notes {
			if !note.Read {
				unread++
			}
		}
		writeFrame(conn, notificationsFrame{Records: notes, Unread: unread}, api.deps.Logger)
	})
	if err != nil {
		conn.Close()
		return err
	}
	serveStream(conn, view, api.deps.Logger)
	return nil
}

// open authenticates the handshake and upgrades the connection.
func (api *streamApi) open(ctx echo.Context) (*Claims, *websocket.Conn, error) {
	claims, err := verifyStreamToken(ctx.QueryParam("token"))
	if err != nil {
		return nil, nil, err
	}
	conn, err := streamUpgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return nil, nil, core.NewTransportError("upgrading websocket", err)
	}
	return claims, conn, nil
}

// ownerScope narrows live views to the caller's own records unless they are
// staff.
func ownerScope(claims *Claims) string {
	if claims.IsFaculty || claims.IsAdmin {
		return ""
	}
	return claims.Subject
}

// writeFrame pushes one whole-state frame to the client. WriteJSON calls are
// already serialized by the view's change lock.
func writeFrame(conn *websocket.Conn, frame interface{}, logger core.Logger) {
	if err := conn.WriteJSON(frame); err != nil {
		logger.Debug("writing stream frame", err)
	}
}

// serveStream blocks reading the connection until the client goes away, then
// tears the view down. Clients never send data; the read loop only detects
// disconnects.
func serveStream(conn *websocket.Conn, view interface{ Close() }, logger core.Logger) {
	defer view.Close()
	defer conn.Close()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("stream closed", err)
			}
			return
		}
	}
}
