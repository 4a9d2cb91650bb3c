package main

import (
	"context"

	"github.com/mpkschool/backend/core/auth"
)

// token issues an access token, e.g. to open a chat session from a websocket client by hand.
func (cli *commandLine) token(email string) (string, error) {
	ctx := context.Background()
	usr, err := cli.usrSvc.GetByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if !usr.IsActive {
		return "", auth.ErrAccountDeactivated
	}
	return cli.tokens.TokenFor(usr)
}
