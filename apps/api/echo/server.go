package echoapi

import (
	"context"
	"net/http"
	"os"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/chuoapp/chuo/core"
	"github.com/chuoapp/chuo/core/application"
	"github.com/chuoapp/chuo/core/booking"
	"github.com/chuoapp/chuo/core/complaint"
	"github.com/chuoapp/chuo/core/notification"
	"github.com/chuoapp/chuo/core/user"
	uploadsvc "github.com/chuoapp/chuo/services/upload"
)

type (
	// Deps are the services the API serves.
	Deps struct {
		Logger    core.Logger
		UserSvc   user.Service
		AppSvc    *application.Service
		CompSvc   *complaint.Service
		BookSvc   *booking.Service
		NotifSvc  *notification.Service
		UploadSvc uploadsvc.Service

		DisableReqLogs bool
	}

	Server interface {
		http.Handler
		Start()
		Stop(context.Context) error
	}

	server struct {
		addr     string
		shutdown chan os.Signal
		deps     *Deps
		app      *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(addr string, shutdown chan os.Signal, deps *Deps) Server {
	s := &server{
		addr:     addr,
		shutdown: shutdown,
		deps:     deps,
		app:      echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.deps.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(core.Conf.Debug || core.Conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.signalShutdown)
	s.app.Debug = core.Conf.Debug

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(appJWTConfig)

	registerUserAPI(v1, jwt, s.deps.UserSvc)
	registerApplicationAPI(v1, jwt, s.deps)
	registerComplaintAPI(v1, jwt, s.deps)
	registerBookingAPI(v1, jwt, s.deps)
	registerNotificationAPI(v1, jwt, s.deps)
	registerUploadAPI(v1, jwt, s.deps)
	registerReportAPI(v1, jwt, s.deps)
	registerStreamAPI(v1, s.deps)
}

// signalShutdown asks main for a graceful stop; used when a handler returns
// an unrecoverable error.
func (s *server) signalShutdown() {
	if s.shutdown != nil {
		s.shutdown <- syscall.SIGTERM
	}
}

func (s *server) Start() {
	s.app.Logger.Fatal(s.app.Start(s.addr))
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Chuo API!")
}
