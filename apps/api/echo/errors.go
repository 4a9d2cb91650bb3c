package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/mpkschool/backend/core"
	"github.com/mpkschool/backend/core/auth"
)

var (
	errUnauthorized   = echo.NewHTTPError(http.StatusUnauthorized, core.ErrUnauthenticated.Error())
	errHttpForbidden  = echo.NewHTTPError(http.StatusForbidden, core.ErrForbidden.Error())
	errTooManyRequest = echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
)

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var (
			code      int
			message   interface{}
			retryable bool

			httpErr *echo.HTTPError
			vErrs   validator.ValidationErrors
			valErr  *core.ValidationError
		)

		switch {
		case errors.As(err, &httpErr):
			if httpErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = httpErr.Message
				break
			}
			if httpErr.Internal != nil {
				if herr, ok := httpErr.Internal.(*echo.HTTPError); ok {
					httpErr = herr
				}
			}
			code = httpErr.Code
			message = httpErr.Message
		case errors.As(err, &vErrs):
			code = http.StatusBadRequest
			message = core.TranslateValidationErrors(vErrs, translator)
		case errors.As(err, &valErr):
			if valErr.Fields != nil {
				message = valErr.FieldErrors()
			} else {
				message = valErr.Error()
			}
			code = http.StatusBadRequest
		case errors.Is(err, core.ErrUnauthenticated):
			code = http.StatusUnauthorized
			message = core.ErrUnauthenticated.Error()
		case errors.Is(err, core.ErrForbidden):
			code = http.StatusForbidden
			message = core.ErrForbidden.Error()
		case errors.Is(err, auth.ErrAuthenticationFailed):
			code = http.StatusBadRequest
			message = auth.ErrAuthenticationFailed.Error()
		case errors.Is(err, auth.ErrAccountDeactivated), errors.Is(err, auth.ErrRefreshExpired):
			code = http.StatusForbidden
			message = errors.Cause(err).Error()
		case core.IsNotFound(err):
			var nfErr *core.NotFoundError
			errors.As(err, &nfErr)
			code = http.StatusNotFound
			message = nfErr.Error()
		case core.IsStorageError(err):
			code = http.StatusServiceUnavailable
			message = "storage unavailable, please retry"
			retryable = true
			logger.Error("storage unavailable", err, contextIdentity(ctx))
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg
			logger.Error(msg, errors.Wrap(err, msg), contextIdentity(ctx))

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code >= http.StatusInternalServerError {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			body := echo.Map{"error": m}
			if retryable {
				body["retryable"] = true
			}
			message = body
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
