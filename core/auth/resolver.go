package auth

import (
	"context"

	"github.com/pkg/errors"

	"github.com/mpkschool/backend/core"
	"github.com/mpkschool/backend/core/chat"
	"github.com/mpkschool/backend/core/user"
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAccountDeactivated   = errors.New("account deactivated")
)

// Resolver turns credentials and tokens into verified chat identities.
type Resolver struct {
	tokens *TokenIssuer
	users  user.ServiceInterface
}

func NewResolver(tokens *TokenIssuer, users user.ServiceInterface) *Resolver {
	return &Resolver{tokens: tokens, users: users}
}

func (r *Resolver) Tokens() *TokenIssuer {
	return r.tokens
}

// Resolve returns the identity behind `token`.
// Any failure, including an unknown or deactivated user, is core.ErrUnauthenticated.
func (r *Resolver) Resolve(ctx context.Context, token string) (chat.Identity, error) {
	claims, err := r.tokens.Parse(token)
	if err != nil {
		return chat.Identity{}, core.ErrUnauthenticated
	}
	usr, err := r.UserOf(ctx, claims)
	if err != nil {
		return chat.Identity{}, err
	}
	return chat.IdentityOf(usr), nil
}

// UserOf loads the active user the claims were issued to.
func (r *Resolver) UserOf(ctx context.Context, claims *Claims) (user.User, error) {
	usr, err := r.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if core.IsNotFound(err) {
			return user.User{}, core.ErrUnauthenticated
		}
		return user.User{}, core.NewStorageError("finding user by ID", err)
	}
	if !usr.IsActive {
		return user.User{}, core.ErrUnauthenticated
	}
	return usr, nil
}

// Authenticate checks the credentials of a user and returns a fresh token.
func (r *Resolver) Authenticate(ctx context.Context, email, pwd string) (string, user.User, error) {
	usr, err := r.users.GetByEmail(ctx, email)
	if err != nil {
		if core.IsNotFound(err) {
			return "", user.User{}, ErrAuthenticationFailed
		}
		return "", user.User{}, core.NewStorageError("finding user by email", err)
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return "", user.User{}, ErrAuthenticationFailed
	}
	if !usr.IsActive {
		return "", user.User{}, ErrAccountDeactivated
	}

	usr, err = r.users.SetLastLogin(ctx, usr)
	if err != nil {
		return "", user.User{}, errors.Wrap(err, "setting lastLogin")
	}
	token, err := r.tokens.TokenFor(usr)
	if err != nil {
		return "", user.User{}, errors.Wrap(err, "generating token")
	}
	return token, usr, nil
}

// Refresh issues a new token for still valid claims, keeping their original issue time.
func (r *Resolver) Refresh(ctx context.Context, claims *Claims) (string, error) {
	usr, err := r.UserOf(ctx, claims)
	if err != nil {
		if errors.Is(err, core.ErrUnauthenticated) {
			return "", ErrAccountDeactivated
		}
		return "", err
	}
	if !r.tokens.CanRefresh(claims) {
		return "", ErrRefreshExpired
	}
	token, err := r.tokens.Generate(r.tokens.ClaimsFor(usr, claims.OrigIssuedAt))
	return token, errors.Wrap(err, "generating token")
}
