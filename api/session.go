package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"kanban/auth"
	"kanban/domain"
)

// SessionCookie holds the session access token.
const SessionCookie = "kanban_session"

const sessionContextKey = "session"

// SessionProvider resolves the caller's session for a single request. Results
// are memoised; any backend error is treated as "not signed in".
type SessionProvider struct {
	auth  Authenticator
	token string

	sessionLoaded bool
	session       *auth.Session
	userLoaded    bool
	user          *domain.User
}

func newSessionProvider(a Authenticator, r *http.Request) *SessionProvider {
	return &SessionProvider{auth: a, token: tokenFromRequest(r)}
}

// Token returns the raw access token presented by the client, if any.
func (p *SessionProvider) Token() string { return p.token }

// Session decodes the presented token without checking that the session is
// still live. It is for callers that need token metadata such as the expiry;
// use User for authorization decisions.
func (p *SessionProvider) Session(ctx context.Context) *auth.Session {
	if p.sessionLoaded {
		return p.session
	}
	p.sessionLoaded = true
	if p.token == "" {
		return nil
	}
	sess, err := p.auth.GetSession(ctx, p.token)
	if err != nil {
		return nil
	}
	p.session = sess
	return sess
}

// User returns the verified user or nil.
func (p *SessionProvider) User(ctx context.Context) *domain.User {
	if p.userLoaded {
		return p.user
	}
	p.userLoaded = true
	if p.token == "" {
		return nil
	}
	u, err := p.auth.GetUser(ctx, p.token)
	if err != nil {
		return nil
	}
	p.user = u
	return u
}

// sessionMiddleware attaches a fresh SessionProvider to every request.
func sessionMiddleware(a Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(sessionContextKey, newSessionProvider(a, c.Request()))
			return next(c)
		}
	}
}

func sessionFrom(c echo.Context, a Authenticator) *SessionProvider {
	if p, ok := c.Get(sessionContextKey).(*SessionProvider); ok {
		return p
	}
	p := newSessionProvider(a, c.Request())
	c.Set(sessionContextKey, p)
	return p
}

// tokenFromRequest prefers the session cookie and falls back to a bearer
// token.
func tokenFromRequest(r *http.Request) string {
	if ck, err := r.Cookie(SessionCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	token, err := bearerTokenFromHeader(r.Header)
	if err != nil {
		return ""
	}
	return token
}

func bearerTokenFromHeader(header http.Header) (string, error) {
	values := header.Values(echo.HeaderAuthorization)
	if len(values) == 0 {
		return "", errMissingAuthorization
	}
	return bearerTokenFromString(values[0])
}

func bearerTokenFromString(raw string) (string, error) {
	trimmed := strings.Trim(raw, " ")
	if trimmed == "" {
		return "", errMissingAuthorization
	}
	const prefix = "Bearer "
	if len(trimmed) <= len(prefix) || !strings.HasPrefix(trimmed, prefix) {
		return "", errBadAuthorization
	}
	token := trimmed[len(prefix):]
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}

func setSessionCookie(c echo.Context, sess *auth.Session, maxAge int, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    sess.AccessToken,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(c echo.Context, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
