package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/eloschool/backend/core"
	"github.com/eloschool/backend/core/access"
	"github.com/eloschool/backend/storage/docstore"
)

var (
	errUnauthorized   = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errInvalidToken   = echo.NewHTTPError(http.StatusUnauthorized, access.ErrInvalidToken.Error())
	errNoSession      = echo.NewHTTPError(http.StatusUnauthorized, "no session")
	errHttpNotFound   = echo.NewHTTPError(http.StatusNotFound, "not found")
	errSchoolSwitched = echo.NewHTTPError(http.StatusConflict, "school changed, retry")
)

// accessErrCode returns the status of the access errors a client can cause.
func accessErrCode(err error) (int, bool) {
	switch err {
	case access.ErrSchoolNotFound, access.ErrRequestNotFound:
		return http.StatusNotFound, true
	case access.ErrNotLinked, access.ErrManagementDenied:
		return http.StatusForbidden, true
	case access.ErrInvalidChoice:
		return http.StatusBadRequest, true
	case access.ErrUnauthenticated, access.ErrInvalidToken:
		return http.StatusUnauthorized, true
	case access.ErrNotReady:
		return http.StatusConflict, true
	default:
		return 0, false
	}
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		cause := errors.Cause(err)
		if cause == docstore.ErrClosed {
			cause = errSchoolSwitched
		}
		if c, ok := accessErrCode(cause); ok {
			code = c
			message = cause.Error()
		} else {
			switch origErr := cause.(type) {
			case *echo.HTTPError:
				if origErr.Internal != nil {
					if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
						origErr = herr
					}
				}
				code = origErr.Code
				message = origErr.Message
			case validator.ValidationErrors:
				fldErrs := make(map[string]string, len(origErr))
				for _, vErr := range origErr {
					fldErrs[vErr.Field()] = vErr.Translate(translator)
				}
				code = http.StatusBadRequest
				message = fldErrs
			case *core.ValidationError:
				if origErr.Fields != nil {
					message = origErr.FieldMap()
				} else {
					message = origErr.Error()
				}
				code = http.StatusBadRequest
			default: // any other error is a server error
				code = http.StatusInternalServerError
				msg := http.StatusText(http.StatusInternalServerError)
				message = msg

				if id, iErr := contextIdentity(ctx); iErr == nil {
					logger.Error(msg, errors.Wrap(err, msg), id)
				} else {
					logger.Error(msg, errors.Wrap(err, msg))
				}

				// shutting down...
				if core.IsShutdown(err) {
					signalShutdown()
				}
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		} else if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
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
