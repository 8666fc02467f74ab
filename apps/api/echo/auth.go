package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/eloschool/backend/core/access"
)

var contextIdentityKey = "identity"

// identityMiddleware verifies the bearer ID token and stores the identity in the context.
func identityMiddleware(provider access.IdentityProvider) echo.MiddlewareFunc {
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(token string, ctx echo.Context) (bool, error) {
			id, err := provider.Verify(ctx.Request().Context(), token)
			if err != nil {
				return false, err
			}
			ctx.Set(contextIdentityKey, id)
			return true, nil
		},
		ErrorHandler: func(err error, ctx echo.Context) error {
			// a missing or malformed header is reported as unauthenticated
			if errors.Cause(err) == access.ErrInvalidToken {
				return errInvalidToken
			}
			return errUnauthorized
		},
	})
}

func contextIdentity(ctx echo.Context) (access.Identity, error) {
	if id, ok := ctx.Get(contextIdentityKey).(access.Identity); ok && id.UID != "" {
		return id, nil
	}
	return access.Identity{}, errUnauthorized
}
