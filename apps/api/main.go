package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chuoapp/chuo/apps/api/echo"
	"github.com/chuoapp/chuo/core"
	"github.com/chuoapp/chuo/core/application"
	"github.com/chuoapp/chuo/core/booking"
	"github.com/chuoapp/chuo/core/complaint"
	"github.com/chuoapp/chuo/core/notification"
	"github.com/chuoapp/chuo/core/user"
	emailsvc "github.com/chuoapp/chuo/services/email"
	logsvc "github.com/chuoapp/chuo/services/logger"
	uploadsvc "github.com/chuoapp/chuo/services/upload"
	"github.com/chuoapp/chuo/storage/store"
	inmemdb "github.com/chuoapp/chuo/storage/store/inmem"
	pgdb "github.com/chuoapp/chuo/storage/store/postgres"
	usersdb "github.com/chuoapp/chuo/storage/users"
)

const shutdownTimeout = 20 * time.Second

func main() {
	std := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	// set up logger
	var logger core.Logger
	if core.Conf.Debug {
		zl, err := logsvc.NewZapLogger(core.Conf)
		errAndDie(std, err)
		logger = zl
	} else {
		logger = logsvc.NewRollbarLogger(std, core.Conf)
	}
	logger.Enable(true)
	logger.Info("starting " + core.Conf.AppName + " API, build " + core.Conf.Build)

	// set up DB
	var db store.Store
	if core.Conf.Debug || core.Conf.TestMode {
		db = inmemdb.Open(logger)
	} else {
		errAndDie(std, pgdb.CreateIfNotExist(core.Conf))
		pg, err := pgdb.Open(core.Conf, logger)
		errAndDie(std, err)
		errAndDie(std, pgdb.Migrate(pg.SQL()))
		db = pg
	}
	defer func() { _ = db.Close() }()

	// set up services
	var mailSvc core.EmailService
	if core.Conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}
	var uplSvc uploadsvc.Service
	if core.Conf.Upload.URL == "" {
		uplSvc = uploadsvc.NewDummyService()
	} else {
		uplSvc = uploadsvc.NewService(core.Conf.Upload)
	}

	usrSvc := user.NewService(usersdb.NewUserRepository(db), mailSvc, logger)
	outbox := notification.NewOutbox(db, mailSvc, logger)
	defer outbox.Close()

	deps := &echoapi.Deps{
		Logger:    logger,
		UserSvc:   usrSvc,
		AppSvc:    application.NewService(db, outbox, usrSvc, logger),
		CompSvc:   complaint.NewService(db, outbox, usrSvc, logger),
		BookSvc:   booking.NewService(db, outbox, usrSvc, logger),
		NotifSvc:  notification.NewService(db, logger),
		UploadSvc: uplSvc,
	}

	// start API server
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	app := echoapi.NewServer(core.Conf.Server.Addr, shutdown, deps)
	go app.Start()

	sig := <-shutdown
	logger.Info("shutdown started", "signal", sig.String())
	defer logger.Info("shutdown complete")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		logger.Error("could not stop server gracefully", err)
	}
}

func errAndDie(std *log.Logger, err error) {
	if err != nil {
		std.Fatal(err)
	}
}
