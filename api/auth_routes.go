package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban/auth"
)

func (h *handlers) landing(c echo.Context) error {
	if h.user(c) != nil {
		return c.Redirect(http.StatusSeeOther, "/dashboard")
	}
	return c.JSON(http.StatusOK, struct{}{})
}

func (h *handlers) signIn(c echo.Context) error {
	email := strings.TrimSpace(c.FormValue("email"))
	if email == "" {
		metricsFrom(c).SetErrorStage("validation")
		return writeFailure(c, http.StatusBadRequest, msgEmailRequired)
	}
	err := h.deps.Auth.SignInWithOTP(c.Request().Context(), email, h.origin(c), c.FormValue("redirectTo"))
	if errors.Is(err, auth.ErrEmailRequired) {
		metricsFrom(c).SetErrorStage("validation")
		return writeFailure(c, http.StatusBadRequest, msgEmailRequired)
	}
	if err != nil {
		m := metricsFrom(c)
		m.SetErrorStage("auth_backend")
		m.SetCause(err)
		h.log.WithError(err).Error("sign-in link failed")
		return writeFailure(c, http.StatusInternalServerError, msgMagicLinkFailed)
	}
	return c.JSON(http.StatusOK, successResponse{Success: true})
}

func (h *handlers) callback(c echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		return c.Redirect(http.StatusSeeOther, "/login")
	}
	sess, err := h.deps.Auth.ExchangeCodeForSession(c.Request().Context(), code)
	if err != nil {
		metricsFrom(c).SetErrorStage("exchange")
		h.log.WithError(err).Warn("code exchange failed")
		return c.Redirect(http.StatusSeeOther, "/login")
	}
	setSessionCookie(c, sess, int(h.deps.Auth.SessionTTL().Seconds()), h.deps.CookieSecure)
	h.log.WithFields(log.Fields{"user_id": sess.User.ID}).Info("signed in")

	target := c.QueryParam("redirect_to")
	if !auth.IsLocalPath(target) {
		target = "/dashboard"
	}
	return c.Redirect(http.StatusSeeOther, target)
}

func (h *handlers) logout(c echo.Context) error {
	token := sessionFrom(c, h.deps.Auth).Token()
	if err := h.deps.Auth.SignOut(c.Request().Context(), token); err != nil {
		h.log.WithError(err).Warn("sign out failed")
	}
	clearSessionCookie(c, h.deps.CookieSecure)
	return c.Redirect(http.StatusSeeOther, "/login")
}
