package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/lms/core/user"
)

// addUser updates or creates the local mirror of an identity provider's user.
func (cli *commandLine) addUser(id, name, email string, roles []string) error {
	data := user.NewUser{ID: id, Name: name, Email: email, Roles: roles}
	if err := data.Validate(cli.validate); err != nil {
		return err
	}

	ctx := context.Background()
	now := time.Now().UTC()
	usr, err := cli.stores.Users.GetUser(ctx, data.ID)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			return err
		}
		usr, err = cli.stores.Users.CreateUser(ctx, user.User{
			ID:        data.ID,
			Name:      data.Name,
			Email:     data.Email,
			Roles:     user.ParseRoles(data.Roles),
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "created user %s\n", usr.ID)
		return nil
	}

	usr.Name = data.Name
	usr.Email = data.Email
	usr.Roles = user.ParseRoles(data.Roles)
	usr.UpdatedAt = now
	if err = cli.stores.Users.SaveUser(ctx, usr); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "updated user %s\n", usr.ID)
	return nil
}
