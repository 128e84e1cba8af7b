package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban/domain"
)

const healthzTimeout = 2 * time.Second

// Register wires up all routes on the provided Echo instance.
func Register(e *echo.Echo, deps Deps, logger *log.Logger) {
	h := &handlers{deps: deps, log: logger}
	sess := sessionMiddleware(deps.Auth)
	route := func(path string, next echo.HandlerFunc) echo.HandlerFunc {
		return instrument(path, logger, next)
	}

	e.GET("/", route("/", h.landing), sess)
	e.POST("/", route("/", dispatch(actions{"logout": h.logout})), sess)
	e.POST("/login", route("/login", dispatch(actions{"signin": h.signIn})), sess)
	e.GET("/auth/callback", route("/auth/callback", h.callback), sess)

	e.GET("/dashboard", route("/dashboard", h.gate(h.loadDashboard)), sess)
	e.POST("/dashboard", route("/dashboard", dispatch(actions{"createBoard": h.createBoard})), sess)
	e.GET("/dashboard/:boardId", route("/dashboard/:boardId", h.gate(h.loadBoard)), sess)
	e.POST("/dashboard/:boardId", route("/dashboard/:boardId", dispatch(actions{
		"createTask": h.createTask,
		"updateTask": h.updateTask,
		"deleteTask": h.deleteTask,
	})), sess)

	e.GET("/healthz", h.healthz)
}

type handlers struct {
	deps Deps
	log  *log.Logger
}

// user resolves the verified caller, or nil.
func (h *handlers) user(c echo.Context) *domain.User {
	start := time.Now()
	u := sessionFrom(c, h.deps.Auth).User(c.Request().Context())
	metricsFrom(c).ObserveAuth(time.Since(start))
	return u
}

// gate redirects page loads without a verified user to the login page,
// remembering where they were headed.
func (h *handlers) gate(next func(c echo.Context, user *domain.User) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		u := h.user(c)
		if u == nil {
			metricsFrom(c).SetErrorStage("auth")
			target := "/login?redirectTo=" + url.QueryEscape(c.Request().URL.Path)
			return c.Redirect(http.StatusSeeOther, target)
		}
		return next(c, u)
	}
}

type actions map[string]echo.HandlerFunc

// dispatch routes a form POST to the action named by the first query key
// beginning with "/", e.g. POST /dashboard?/createBoard.
func dispatch(acts actions) echo.HandlerFunc {
	return func(c echo.Context) error {
		name := actionName(c.Request().URL.RawQuery)
		next, ok := acts[name]
		if !ok {
			metricsFrom(c).SetErrorStage("unknown_action")
			return writeFailure(c, http.StatusNotFound, msgUnknownAction)
		}
		metricsFrom(c).SetAction(name)
		return next(c)
	}
}

func actionName(rawQuery string) string {
	for _, part := range strings.Split(rawQuery, "&") {
		key := part
		if i := strings.IndexByte(part, '='); i >= 0 {
			key = part[:i]
		}
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		if strings.HasPrefix(key, "/") {
			return key[1:]
		}
	}
	return ""
}

func (h *handlers) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthzTimeout)
	defer cancel()
	if err := h.deps.Auth.Ping(ctx); err != nil {
		h.log.WithError(err).Warn("healthz: session store unreachable")
		return c.NoContent(http.StatusServiceUnavailable)
	}
	if h.deps.Store != nil {
		if err := h.deps.Store.Ping(ctx); err != nil {
			h.log.WithError(err).Warn("healthz: row store unreachable")
			return c.NoContent(http.StatusServiceUnavailable)
		}
	}
	return c.NoContent(http.StatusOK)
}

// origin is the base URL for links sent to users.
func (h *handlers) origin(c echo.Context) string {
	if h.deps.PublicURL != "" {
		return h.deps.PublicURL
	}
	return c.Scheme() + "://" + c.Request().Host
}
