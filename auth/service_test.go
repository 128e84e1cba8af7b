package auth

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"kanban/domain"
)

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]domain.User
	err   error
}

func (f *fakeUsers) EnsureUser(ctx context.Context, email string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.User{}, f.err
	}
	if f.users == nil {
		f.users = map[string]domain.User{}
	}
	email = strings.ToLower(email)
	if u, ok := f.users[email]; ok {
		return u, nil
	}
	u := domain.User{ID: "user-" + email, Email: email}
	f.users[email] = u
	return u, nil
}

type fakeMailer struct {
	mu    sync.Mutex
	links []string
	err   error
}

func (f *fakeMailer) SendSignInLink(ctx context.Context, to, link string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.links = append(f.links, link)
	return nil
}

func (f *fakeMailer) last(t *testing.T) *url.URL {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.links) == 0 {
		t.Fatalf("no link sent")
	}
	u, err := url.Parse(f.links[len(f.links)-1])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	return u
}

type serviceFixture struct {
	svc    *Service
	mr     *miniredis.Miniredis
	users  *fakeUsers
	mailer *fakeMailer
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	users := &fakeUsers{}
	mailer := &fakeMailer{}
	logger, _ := test.NewNullLogger()
	svc := NewService(users, NewRedisStore(client), newTestTokens(t), mailer, Options{}, logger)
	return serviceFixture{svc: svc, mr: mr, users: users, mailer: mailer}
}

func (f serviceFixture) signIn(t *testing.T, email string) *Session {
	t.Helper()
	ctx := context.Background()
	if err := f.svc.SignInWithOTP(ctx, email, "https://kanban.test", ""); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	code := f.mailer.last(t).Query().Get("code")
	sess, err := f.svc.ExchangeCodeForSession(ctx, code)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	return sess
}

func TestSignInRequiresEmail(t *testing.T) {
	f := newServiceFixture(t)
	if err := f.svc.SignInWithOTP(context.Background(), "   ", "https://kanban.test", ""); !errors.Is(err, ErrEmailRequired) {
		t.Fatalf("expected ErrEmailRequired, got %v", err)
	}
	if len(f.mailer.links) != 0 {
		t.Fatalf("expected no mail")
	}
}

func TestSignInSendsCallbackLink(t *testing.T) {
	f := newServiceFixture(t)
	if err := f.svc.SignInWithOTP(context.Background(), "a@example.com", "https://kanban.test/", "/dashboard/b1"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	link := f.mailer.last(t)
	if link.Host != "kanban.test" || link.Path != "/auth/callback" {
		t.Fatalf("unexpected link: %s", link)
	}
	if link.Query().Get("code") == "" {
		t.Fatalf("missing code in %s", link)
	}
	if got := link.Query().Get("redirect_to"); got != "/dashboard/b1" {
		t.Fatalf("unexpected redirect_to: %q", got)
	}
	if _, ok := f.users.users["a@example.com"]; !ok {
		t.Fatalf("expected user to be registered")
	}
	keys := f.mr.Keys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], codeKeyPrefix) || strings.Contains(keys[0], link.Query().Get("code")) {
		t.Fatalf("expected one hashed code key, got %v", keys)
	}
}

func TestSignInDropsNonLocalRedirect(t *testing.T) {
	f := newServiceFixture(t)
	if err := f.svc.SignInWithOTP(context.Background(), "a@example.com", "https://kanban.test", "//evil.example/x"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if got := f.mailer.last(t).Query().Get("redirect_to"); got != "" {
		t.Fatalf("expected redirect_to to be dropped, got %q", got)
	}
}

func TestSignInBackendFailures(t *testing.T) {
	f := newServiceFixture(t)
	f.users.err = errors.New("db down")
	if err := f.svc.SignInWithOTP(context.Background(), "a@example.com", "https://kanban.test", ""); err == nil {
		t.Fatalf("expected user store error")
	}

	f = newServiceFixture(t)
	f.mailer.err = errors.New("queue down")
	if err := f.svc.SignInWithOTP(context.Background(), "a@example.com", "https://kanban.test", ""); err == nil {
		t.Fatalf("expected mailer error")
	}

	f = newServiceFixture(t)
	f.mr.Close()
	if err := f.svc.SignInWithOTP(context.Background(), "a@example.com", "https://kanban.test", ""); err == nil {
		t.Fatalf("expected redis error")
	}
}

func TestCodeExchangesOnlyOnce(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	if err := f.svc.SignInWithOTP(ctx, "a@example.com", "https://kanban.test", ""); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	code := f.mailer.last(t).Query().Get("code")

	sess, err := f.svc.ExchangeCodeForSession(ctx, code)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if sess.User.ID != "user-a@example.com" || sess.AccessToken == "" || sess.ID == "" {
		t.Fatalf("unexpected session: %#v", sess)
	}
	if _, err := f.svc.ExchangeCodeForSession(ctx, code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected second exchange to fail, got %v", err)
	}
	if _, err := f.svc.ExchangeCodeForSession(ctx, ""); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected empty code to fail, got %v", err)
	}
}

func TestCodeExpires(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	if err := f.svc.SignInWithOTP(ctx, "a@example.com", "https://kanban.test", ""); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	code := f.mailer.last(t).Query().Get("code")
	f.mr.FastForward(DefaultLinkTTL + time.Second)
	if _, err := f.svc.ExchangeCodeForSession(ctx, code); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected expired code to fail, got %v", err)
	}
}

func TestGetUserRequiresLiveSession(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	sess := f.signIn(t, "a@example.com")

	user, err := f.svc.GetUser(ctx, sess.AccessToken)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.ID != sess.User.ID || user.Email != "a@example.com" {
		t.Fatalf("unexpected user: %#v", user)
	}

	if err := f.svc.SignOut(ctx, sess.AccessToken); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if _, err := f.svc.GetUser(ctx, sess.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected revoked session, got %v", err)
	}
	// the token itself is still well-formed
	if _, err := f.svc.GetSession(ctx, sess.AccessToken); err != nil {
		t.Fatalf("get session: %v", err)
	}
}

func TestGetUserAcceptsExternalTokenWithoutSession(t *testing.T) {
	f := newServiceFixture(t)
	signed, _, err := f.svc.tokens.Issue("ext-user", "x@example.com", "", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	user, err := f.svc.GetUser(context.Background(), signed)
	if err != nil || user.ID != "ext-user" {
		t.Fatalf("expected external user, got %#v %v", user, err)
	}
}

func TestSignOutWithoutSession(t *testing.T) {
	f := newServiceFixture(t)
	if err := f.svc.SignOut(context.Background(), ""); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if err := f.svc.SignOut(context.Background(), "garbage"); err != nil {
		t.Fatalf("sign out: %v", err)
	}
}

func TestIsLocalPath(t *testing.T) {
	cases := map[string]bool{
		"/dashboard":       true,
		"/dashboard/b?x=1": true,
		"":                 false,
		"dashboard":        false,
		"//evil.example":   false,
		"/\\evil.example":  false,
		"https://evil":     false,
		"/\t/evil.example": false,
		"/\n/evil.example": false,
		"/\r/evil.example": false,
		"/dash\x7fboard":   false,
		"/\x00":            false,
	}
	for in, want := range cases {
		if got := IsLocalPath(in); got != want {
			t.Fatalf("IsLocalPath(%q) = %v, want %v", in, got, want)
		}
	}
}
