package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/pkg/errors"

	"github.com/chuoapp/chuo/core/booking"
	"github.com/chuoapp/chuo/core/notification"
	"github.com/chuoapp/chuo/core/user"
	emailsvc "github.com/chuoapp/chuo/services/email"
	logsvc "github.com/chuoapp/chuo/services/logger"
	inmemdb "github.com/chuoapp/chuo/storage/store/inmem"
	usersdb "github.com/chuoapp/chuo/storage/users"
)

func setup(t *testing.T) *commandLine {
	t.Helper()
	db := inmemdb.Open(logsvc.NewNopLogger())
	t.Cleanup(func() { _ = db.Close() })

	mailSvc := emailsvc.NewConsoleServiceMock()
	outbox := notification.NewOutbox(db, mailSvc, logsvc.NewNopLogger())
	t.Cleanup(outbox.Close)

	usrRepo := usersdb.NewUserRepository(db)
	return &commandLine{
		usrRepo: usrRepo,
		bookSvc: booking.NewService(db, outbox, user.NewServiceMock(usrRepo, mailSvc), logsvc.NewNopLogger()),
	}
}

type cliTest struct {
	name     string
	args     []string // without program name
	pwd      string
	wantErr  error
	wantFail bool // any non-nil error
}

func runCliTests(t *testing.T, cli *commandLine, tests []cliTest) {
	t.Helper()
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			return []byte(tt.pwd), nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			switch {
			case tt.wantErr != nil:
				if errors.Cause(err) != tt.wantErr {
					t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
				}
			case tt.wantFail:
				if err == nil {
					t.Error("cli.run() error = nil, want an error")
				}
			default:
				if err != nil {
					t.Errorf("cli.run() unexpected error = %v", err)
				}
			}
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "username but no email", args: []string{"adduser", "-username", "awe"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-username", "awe", "-email", "awe@test.cd"}, wantErr: errHelp},
		{name: "create", args: []string{"adduser", "-username", "awe", "-email", "awe@test.cd"}, pwd: "mdr"},
		{name: "create admin", args: []string{"adduser", "-username", "root", "-email", "root@test.cd", "-admin"}, pwd: "mdr"},
		{name: "update existing", args: []string{"adduser", "-username", "awe", "-email", "awe@test.cd", "-admin"}, pwd: "lol"},
	}
	runCliTests(t, cli, tests)

	usr, err := cli.usrRepo.GetUserByUsername(context.Background(), "root")
	if err != nil {
		t.Fatalf("GetUserByUsername() failed, %v", err)
	}
	if !usr.IsAdmin() {
		t.Errorf("roles = %v, want admin", usr.Roles)
	}

	// the last adduser run promoted and re-keyed the existing user
	usr, err = cli.usrRepo.GetUserByUsername(context.Background(), "awe")
	if err != nil {
		t.Fatalf("GetUserByUsername() failed, %v", err)
	}
	if !usr.IsAdmin() {
		t.Errorf("roles = %v, want admin after update", usr.Roles)
	}
	if err = usr.CheckPassword("lol"); err != nil {
		t.Error("password not updated")
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	usr := user.User{Username: "awe", Email: "awe@test.cd", IsActive: true}
	if err := usr.SetPassword("mdr"); err != nil {
		t.Fatalf("SetPassword() failed, %v", err)
	}
	usr, err := cli.usrRepo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed, %v", err)
	}

	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, pwd: "lol", wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, pwd: "lol"},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, pwd: "lmao"},
	}
	runCliTests(t, cli, tests)

	refreshed, err := cli.usrRepo.GetUserByID(context.Background(), usr.ID)
	if err != nil {
		t.Fatalf("GetUserByID() failed, %v", err)
	}
	if bytes.Equal(refreshed.PasswordHash, usr.PasswordHash) {
		t.Error("failed to update new password")
	}
	if err = refreshed.CheckPassword("lmao"); err != nil {
		t.Error("new password does not verify")
	}
}

func Test_commandLine_addFacility(t *testing.T) {
	cli := setup(t)

	tests := []cliTest{
		{name: "no args", args: []string{"addfacility"}, wantErr: errHelp},
		{name: "missing category", args: []string{"addfacility", "-name", "Lab 1"}, wantErr: errHelp},
		{name: "bad category", args: []string{"addfacility", "-name", "Lab 1", "-category", "pool"}, wantFail: true},
		{name: "create", args: []string{"addfacility", "-name", "Lab 1", "-category", "lab", "-location", "Block B", "-capacity", "40"}},
	}
	runCliTests(t, cli, tests)

	facilities, err := cli.bookSvc.QueryFacilities(context.Background(), booking.CategoryLab)
	if err != nil {
		t.Fatalf("QueryFacilities() failed, %v", err)
	}
	if len(facilities) != 1 {
		t.Fatalf("got %d facilities, want 1", len(facilities))
	}
	if fac := facilities[0]; fac.Name != "Lab 1" || !fac.IsActive || fac.Capacity != 40 {
		t.Errorf("facility = %+v", fac)
	}
}
