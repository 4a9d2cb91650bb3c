package echoapi

import (
	"strings"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/mpkschool/backend/core/auth"
	"github.com/mpkschool/backend/core/chat"
	"github.com/mpkschool/backend/core/user"
)

const (
	contextTokenKey    = "userToken"
	contextUserKey     = "user"
	contextIdentityKey = "identity"
)

// jwtMiddleware verifies the bearer token, then loads the active user behind it into the context.
func jwtMiddleware(resolver *auth.Resolver) echo.MiddlewareFunc {
	verify := middleware.JWTWithConfig(middleware.JWTConfig{
		SigningKey:    resolver.Tokens().SigningKey(),
		SigningMethod: auth.SigningMethod,
		ContextKey:    contextTokenKey,
		Claims:        new(auth.Claims),
	})

	load := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return err
			}
			usr, err := resolver.UserOf(ctx.Request().Context(), claims)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			ctx.Set(contextUserKey, usr)
			ctx.Set(contextIdentityKey, chat.IdentityOf(usr))
			return next(ctx)
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return verify(load(next))
	}
}

func getContextClaims(ctx echo.Context) (*auth.Claims, error) {
	if token, ok := ctx.Get(contextTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*auth.Claims); ok {
			return claims, nil
		}
	}
	return nil, errUnauthorized
}

func getContextUser(ctx echo.Context) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}
	return user.User{}, errUnauthorized
}

// contextIdentity returns the identity behind the request; the zero Identity when unauthenticated.
func contextIdentity(ctx echo.Context) chat.Identity {
	id, _ := ctx.Get(contextIdentityKey).(chat.Identity)
	return id
}

// requestToken reads the bearer token of a request, from the Authorization header or the `token` query param.
func requestToken(ctx echo.Context) string {
	if h := ctx.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	return ctx.QueryParam("token")
}
