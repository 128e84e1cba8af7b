package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"kanban/domain"
)

const (
	DefaultSessionTTL = 7 * 24 * time.Hour
	DefaultLinkTTL    = 15 * time.Minute

	codeBytes = 32
)

var (
	ErrEmailRequired = errors.New("email is required")
	ErrInvalidCode   = errors.New("invalid or expired link code")
	ErrInvalidToken  = errors.New("invalid session token")
)

// UserStorage registers users by email.
type UserStorage interface {
	// EnsureUser returns the user for email, creating it when missing.
	EnsureUser(ctx context.Context, email string) (domain.User, error)
}

// Mailer delivers sign-in links.
type Mailer interface {
	SendSignInLink(ctx context.Context, to, link string) error
}

// Session is an authenticated session as seen by request handlers.
type Session struct {
	ID          string
	User        domain.User
	AccessToken string
	ExpiresAt   time.Time
}

// Options tunes session and link lifetimes.
type Options struct {
	SessionTTL time.Duration
	LinkTTL    time.Duration
}

// Service implements the passwordless sign-in flow.
type Service struct {
	users  UserStorage
	store  *RedisStore
	tokens *Tokens
	mailer Mailer
	opts   Options
	log    *log.Logger
	now    func() time.Time
}

// NewService wires the auth backend. Zero TTLs fall back to the defaults.
func NewService(users UserStorage, store *RedisStore, tokens *Tokens, mailer Mailer, opts Options, logger *log.Logger) *Service {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.LinkTTL <= 0 {
		opts.LinkTTL = DefaultLinkTTL
	}
	return &Service{
		users:  users,
		store:  store,
		tokens: tokens,
		mailer: mailer,
		opts:   opts,
		log:    logger,
		now:    time.Now,
	}
}

// SessionTTL is the lifetime of newly issued sessions.
func (s *Service) SessionTTL() time.Duration { return s.opts.SessionTTL }

// SignInWithOTP registers the email if needed and mails a one-time link back
// to origin's callback. redirectTo is carried through the link only when it
// is a local path.
func (s *Service) SignInWithOTP(ctx context.Context, email, origin, redirectTo string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ErrEmailRequired
	}
	user, err := s.users.EnsureUser(ctx, email)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	code, err := newCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	if err := s.store.SaveCode(ctx, code, linkRecord{UserID: user.ID, Email: user.Email}, s.opts.LinkTTL); err != nil {
		return fmt.Errorf("store code: %w", err)
	}

	q := url.Values{}
	q.Set("code", code)
	if IsLocalPath(redirectTo) {
		q.Set("redirect_to", redirectTo)
	}
	link := strings.TrimRight(origin, "/") + "/auth/callback?" + q.Encode()
	if err := s.mailer.SendSignInLink(ctx, user.Email, link); err != nil {
		return fmt.Errorf("send link: %w", err)
	}
	s.log.WithFields(log.Fields{"user_id": user.ID}).Info("sign-in link issued")
	return nil
}

// ExchangeCodeForSession consumes a link code and opens a session. A code can
// be exchanged only once.
func (s *Service) ExchangeCodeForSession(ctx context.Context, code string) (*Session, error) {
	if code == "" {
		return nil, ErrInvalidCode
	}
	rec, err := s.store.TakeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrInvalidCode
	}

	sess := sessionRecord{ID: uuid.NewString(), UserID: rec.UserID, Email: rec.Email, CreatedAt: s.now().UTC()}
	if err := s.store.SaveSession(ctx, sess, s.opts.SessionTTL); err != nil {
		return nil, err
	}
	token, exp, err := s.tokens.Issue(sess.UserID, sess.Email, sess.ID, s.opts.SessionTTL)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:          sess.ID,
		User:        domain.User{ID: sess.UserID, Email: sess.Email},
		AccessToken: token,
		ExpiresAt:   exp,
	}, nil
}

// GetSession decodes the token without consulting the live session store.
func (s *Service) GetSession(ctx context.Context, token string) (*Session, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:          claims.SessionID,
		User:        domain.User{ID: claims.UserID, Email: claims.Email},
		AccessToken: token,
		ExpiresAt:   claims.ExpiresAt,
	}, nil
}

// GetUser verifies the token and, for locally issued tokens, that its session
// is still live. Tokens from the external provider carry no session id and
// are trusted on signature alone.
func (s *Service) GetUser(ctx context.Context, token string) (*domain.User, error) {
	sess, err := s.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess.ID == "" {
		u := sess.User
		return &u, nil
	}
	rec, err := s.store.GetSession(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.UserID != sess.User.ID {
		return nil, ErrInvalidToken
	}
	return &domain.User{ID: rec.UserID, Email: rec.Email}, nil
}

// SignOut revokes the session behind token. Unknown or invalid tokens are
// ignored.
func (s *Service) SignOut(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claims, err := s.tokens.Verify(token)
	if err != nil || claims.SessionID == "" {
		return nil
	}
	return s.store.DeleteSession(ctx, claims.SessionID)
}

// Ping reports whether the session store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// IsLocalPath reports whether p is a same-origin absolute path, safe to use as
// a redirect target. Browsers drop tab and newline while parsing, so any
// control character is rejected: "/\t/host" would otherwise become "//host".
func IsLocalPath(p string) bool {
	for i := 0; i < len(p); i++ {
		if p[i] < 0x20 || p[i] == 0x7f {
			return false
		}
	}
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, "\\")
}

func newCode() (string, error) {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
