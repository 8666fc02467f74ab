package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/eloschool/backend/core"
	"github.com/eloschool/backend/core/access"
	"github.com/eloschool/backend/storage/docstore"
)

var (
	sessionCookie        = "elo_sid"
	contextControllerKey = "controller"
	contextTenantKey     = "tenant"
)

type sessionApi struct {
	conf     *core.Config
	sessions *access.Sessions
	requests *access.Requests
	validate *validator.Validate
}

func registerSessionAPI(g *echo.Group, auth echo.MiddlewareFunc, deps ServerDeps) {
	api := sessionApi{
		conf:     deps.Conf,
		sessions: deps.Sessions,
		requests: deps.Requests,
		validate: deps.Validate,
	}
	sess := []echo.MiddlewareFunc{auth, api.sessionMiddleware}

	g.POST("/session", api.signIn, auth)
	g.GET("/session", api.retrieve, sess...)
	g.DELETE("/session", api.signOut, sess...)
	g.POST("/session/refresh", api.refresh, sess...)
	g.GET("/session/schools", api.schools, sess...)
	g.POST("/session/school", api.selectSchool, sess...)
	g.POST("/session/management", api.selectManagement, sess...)
	g.POST("/session/choice", api.choose, sess...)
	g.DELETE("/session/selection", api.resetSelection, sess...)

	g.POST("/access-requests", api.requestAccess, sess...)

	// tenant-bound endpoints
	g.GET("/school/profile", api.profile, append(sess, requireTenant)...)
}

// sessionID returns the session id from the cookie, or "" when absent or malformed.
func sessionID(ctx echo.Context) string {
	cookie, err := ctx.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	id, err := uuid.Parse(cookie.Value)
	if err != nil {
		return ""
	}
	return id.String()
}

func (api *sessionApi) setCookie(ctx echo.Context, sid string, maxAge time.Duration) {
	ctx.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    sid,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   api.conf.Server.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// sessionMiddleware loads the session's controller, signing the bearer in when
// the controller does not know them yet (new process, pruned session or a different user).
func (api *sessionApi) sessionMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		id, err := contextIdentity(ctx)
		if err != nil {
			return err
		}
		sid := sessionID(ctx)
		if sid == "" {
			return errNoSession
		}
		ctrl := api.sessions.Open(sid)
		if ctrl.Snapshot().UID() != id.UID {
			ctrl.SignIn(ctx.Request().Context(), id)
		}
		ctx.Set(contextControllerKey, ctrl)
		return next(ctx)
	}
}

func contextController(ctx echo.Context) (*access.Controller, error) {
	if ctrl, ok := ctx.Get(contextControllerKey).(*access.Controller); ok {
		return ctrl, nil
	}
	return nil, errNoSession
}

// requireTenant rejects requests of sessions that have no school database selected.
func requireTenant(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		ctrl, err := contextController(ctx)
		if err != nil {
			return err
		}
		t, ok := ctrl.Handle()
		if !ok {
			return access.ErrNotReady
		}
		ctx.Set(contextTenantKey, t)
		return next(ctx)
	}
}

// Handlers

func (api *sessionApi) signIn(ctx echo.Context) error {
	id, err := contextIdentity(ctx)
	if err != nil {
		return err
	}
	sid := sessionID(ctx)
	if sid == "" {
		sid = uuid.NewString()
	}
	api.setCookie(ctx, sid, api.conf.Session.TTL)

	snap := api.sessions.Open(sid).SignIn(ctx.Request().Context(), id)
	return ctx.JSON(http.StatusOK, snap)
}

func (api *sessionApi) retrieve(ctx echo.Context) error {
	ctrl, err := contextController(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ctrl.Snapshot())
}

func (api *sessionApi) signOut(ctx echo.Context) error {
	ctrl, err := contextController(ctx)
	if err != nil {
		return err
	}
	snap := ctrl.SignOut(ctx.Request().Context())
	api.sessions.Close(ctrl.SessionID())
	api.setCookie(ctx, "", -time.Second)
	return ctx.JSON(http.StatusOK, snap)
}

func (api *sessionApi) refresh(ctx echo.Context) error {
	ctrl, err := contextController(ctx)
	if err != nil {
		return err
	}
	snap, err := ctrl.Refresh(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, snap)
}

// schools lists what the user may select: every school for super admins, the linked ones otherwise.
func (api *sessionApi) schools(ctx echo.Context) error {
	id, err := contextIdentity(ctx)
	if err != nil {
		return err
	}
	rctx := ctx.Request().Context()
	deps := api.sessions.Deps()

	if deps.SuperAdmins.Contains(id.UID) {
		all, err := deps.Directory.AllSchools(rctx)
		if err != nil {
			return errors.Wrap(err, "listing schools")
		}
		return ctx.JSON(http.StatusOK, all)
	}
	linked := deps.Directory.LinkedSchools(rctx, id.UID)
	return ctx.JSON(http.StatusOK, deps.Directory.Schools(rctx, linked))
}

func (api *sessionApi) selectSchool(ctx echo.Context) error {
	ctrl, err := contextController(ctx)
	if err != nil {
		return err
	}
	var data access.SchoolRef
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SchoolRef")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}
	snap, err := ctrl.SelectSchool(ctx.Request().Context(), data.SchoolID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (api *sessionApi) selectManagement(ctx echo.Context) error {
	ctrl, err := contextController(ctx)
	if err != nil {
		return err
	}
	snap, err := ctrl.SelectManagement(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (api *sessionApi) choose(ctx echo.Context) error {
	ctrl, err := contextController(ctx)
	if err != nil {
		return err
	}
	var data access.Choice
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Choice")
	}
	snap, err := ctrl.Choose(ctx.Request().Context(), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (api *sessionApi) resetSelection(ctx echo.Context) error {
	ctrl, err := contextController(ctx)
	if err != nil {
		return err
	}
	snap, err := ctrl.ResetSelection(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (api *sessionApi) requestAccess(ctx echo.Context) error {
	id, err := contextIdentity(ctx)
	if err != nil {
		return err
	}
	var data access.SchoolRef
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SchoolRef")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}
	p, err := api.requests.RequestAccess(ctx.Request().Context(), id, data.SchoolID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, p)
}

type profileResponse struct {
	School access.Descriptor      `json:"school"`
	Role   string                 `json:"role"`
	User   map[string]interface{} `json:"user"`
}

// profile reads usuarios/{uid} from the selected school database.
func (api *sessionApi) profile(ctx echo.Context) error {
	id, err := contextIdentity(ctx)
	if err != nil {
		return err
	}
	t, ok := ctx.Get(contextTenantKey).(access.Tenant)
	if !ok {
		return access.ErrNotReady
	}
	usr, err := t.Handle.User(ctx.Request().Context(), id.UID)
	if err != nil {
		if err == docstore.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "reading school user")
	}
	return ctx.JSON(http.StatusOK, profileResponse{School: t.School, Role: t.Role, User: usr})
}
