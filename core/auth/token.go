package auth

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"

	"github.com/mpkschool/backend/core"
	"github.com/mpkschool/backend/core/user"
)

const (
	SigningMethod = "HS256"
	audience      = "MPK School"
)

var (
	nowFunc = time.Now // mockable

	// errors
	ErrInvalidToken   = errors.New("invalid or expired jwt")
	ErrRefreshExpired = errors.New("refresh has expired")
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	OrigIssuedAt int64    `json:"oriat,omitempty"`
	Name         string   `json:"name,omitempty"`
	Email        string   `json:"email,omitempty"`
	Roles        []string `json:"roles,omitempty"`
}

// TokenIssuer signs and verifies the access tokens of the app.
type TokenIssuer struct {
	key     []byte
	issuer  string
	expires time.Duration
	refresh time.Duration
}

func NewTokenIssuer(conf *core.Config) *TokenIssuer {
	return &TokenIssuer{
		key:     []byte(conf.SecretKey),
		issuer:  conf.AppName,
		expires: conf.Server.JWTExpirationDelta,
		refresh: conf.Server.JWTRefreshExpirationDelta,
	}
}

// SigningKey is exposed for the HTTP JWT middleware.
func (ti *TokenIssuer) SigningKey() []byte {
	return ti.key
}

// ClaimsFor builds the claims of `usr`. `origIat` keeps the original issue time across refreshes.
func (ti *TokenIssuer) ClaimsFor(usr user.User, origIat ...int64) *Claims {
	now := nowFunc()
	nownix := now.Unix()

	oriat := nownix
	if len(origIat) > 0 && origIat[0] > 0 {
		oriat = origIat[0]
	}

	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    ti.issuer,
			Subject:   usr.ID,
			Audience:  audience,
			ExpiresAt: now.Add(ti.expires).Unix(),
			IssuedAt:  nownix,
		},
		OrigIssuedAt: oriat,
		Name:         usr.Name,
		Email:        usr.Email,
		Roles:        usr.Roles,
	}
}

// Generate generates a signed JWT token string representing the user Claims.
func (ti *TokenIssuer) Generate(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.GetSigningMethod(SigningMethod), claims)
	ss, err := token.SignedString(ti.key)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// TokenFor is a shortcut for Generate(ClaimsFor(usr)).
func (ti *TokenIssuer) TokenFor(usr user.User) (string, error) {
	return ti.Generate(ti.ClaimsFor(usr))
}

// Parse verifies the signature and expiry of `token` and returns its claims.
func (ti *TokenIssuer) Parse(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := new(Claims)
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != SigningMethod {
			return nil, errors.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return ti.key, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// CanRefresh reports whether a token with these claims is still within its refresh window.
func (ti *TokenIssuer) CanRefresh(claims *Claims) bool {
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(ti.refresh)
	return !nowFunc().After(expTime)
}
