package main

import (
	"context"
	"fmt"

	"github.com/mpkschool/backend/core/user"
)

func (cli *commandLine) addUser(name, email, avatar string, roles []string, pwd string) error {
	nu := user.NewUser{
		Name:            name,
		Email:           email,
		AvatarURL:       avatar,
		Password:        pwd,
		PasswordConfirm: pwd,
		Roles:           roles,
	}
	if err := nu.Validate(cli.validate); err != nil {
		return err
	}

	usr, err := cli.usrSvc.Create(context.Background(), nu)
	if err != nil {
		return err
	}
	fmt.Printf("user %s <%s> created: %s\n", usr.Name, usr.Email, usr.ID)
	return nil
}
