package main

import (
	"errors"
	"flag"
	"fmt"
	"syscall"

	"golang.org/x/term"

	"github.com/chuoapp/chuo/core/booking"
	"github.com/chuoapp/chuo/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	migrateFunc      = func() error { return errors.New("migrations only apply to a postgres database") }

	errHelp = errors.New("help provided")
)

type commandLine struct {
	usrRepo user.Repository
	bookSvc *booking.Service
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  adduser -username USERNAME -email EMAIL [-admin] - create or update a user; the password is prompted next")
	fmt.Println("  resetpassword -username USERNAME|EMAIL - reset a user's password")
	fmt.Println("  addfacility -name NAME -category CATEGORY [-location LOCATION] [-capacity N] - register a bookable facility")
	fmt.Println("  migrate - apply pending database migrations")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserUname := addUserCmd.String("username", "", "The user's username.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Grant the user all roles.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	addFacilityCmd := flag.NewFlagSet("addfacility", flag.ExitOnError)
	addFacilityName := addFacilityCmd.String("name", "", "The facility's name.")
	addFacilityCategory := addFacilityCmd.String("category", "", "One of: sports, auditorium, lab, library.")
	addFacilityLocation := addFacilityCmd.String("location", "", "Where the facility is found on campus.")
	addFacilityCapacity := addFacilityCmd.Int("capacity", 1, "How many people the facility holds.")

	switch args[1] {
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserUname == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserUname, *addUserEmail, string(pwd), *addUserAdmin)
	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, string(pwd))
	case "addfacility":
		if err := addFacilityCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addFacilityName == "" || *addFacilityCategory == "" {
			addFacilityCmd.Usage()
			return errHelp
		}
		return cli.addFacility(*addFacilityName, *addFacilityCategory, *addFacilityLocation, *addFacilityCapacity)
	case "migrate":
		return migrateFunc()
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword() ([]byte, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(syscall.Stdin)
	fmt.Println()
	return pwd, err
}
