package main

import (
	"log"
	"os"

	"github.com/chuoapp/chuo/core"
	"github.com/chuoapp/chuo/core/booking"
	"github.com/chuoapp/chuo/core/notification"
	"github.com/chuoapp/chuo/core/user"
	emailsvc "github.com/chuoapp/chuo/services/email"
	logsvc "github.com/chuoapp/chuo/services/logger"
	"github.com/chuoapp/chuo/storage/store"
	inmemdb "github.com/chuoapp/chuo/storage/store/inmem"
	pgdb "github.com/chuoapp/chuo/storage/store/postgres"
	usersdb "github.com/chuoapp/chuo/storage/users"
)

var logger *log.Logger

func main() {
	defer os.Exit(0)

	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	// set up DB
	var db store.Store
	if core.Conf.Debug || core.Conf.TestMode {
		db = inmemdb.Open(logsvc.NewNopLogger())
	} else {
		errAndDie(pgdb.CreateIfNotExist(core.Conf))
		pg, err := pgdb.Open(core.Conf, logsvc.NewNopLogger())
		errAndDie(err)
		db = pg
		migrateFunc = func() error { return pgdb.Migrate(pg.SQL()) }
	}
	defer func() { _ = db.Close() }()

	// start CLI
	mailSvc := emailsvc.NewConsoleService()
	outbox := notification.NewOutbox(db, mailSvc, logsvc.NewNopLogger())
	defer outbox.Close()

	usrRepo := usersdb.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo, mailSvc, logsvc.NewNopLogger())
	cli := commandLine{
		usrRepo: usrRepo,
		bookSvc: booking.NewService(db, outbox, usrSvc, logsvc.NewNopLogger()),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
