package main

import (
	"context"

	"github.com/chuoapp/chuo/core/booking"
	"github.com/chuoapp/chuo/core/user"
)

// addFacility registers a bookable facility, acting as an admin.
func (cli *commandLine) addFacility(name, category, location string, capacity int) error {
	admin := user.User{Roles: user.AdminRoles}
	_, err := cli.bookSvc.CreateFacility(context.Background(), admin, booking.NewFacility{
		Name:     name,
		Category: category,
		Location: location,
		Capacity: capacity,
	})
	return err
}
