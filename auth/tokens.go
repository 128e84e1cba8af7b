package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// DefaultJWKSCacheTTL is how long a JWKS key is reused for its kid.
const DefaultJWKSCacheTTL = 15 * time.Minute

// Claims is the verified content of a session token.
type Claims struct {
	UserID    string
	Email     string
	SessionID string
	ExpiresAt time.Time
}

// Tokens issues HS256 session tokens and verifies them. When a JWKS is
// configured, RS256 tokens from the external identity provider are accepted
// as well.
type Tokens struct {
	JWKS     *keyfunc.JWKS
	Audience string
	Issuer   string

	secret      []byte
	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
	now         func() time.Time
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewTokens creates a token issuer/verifier. secret must not be empty.
func NewTokens(secret []byte, issuer, audience string, jwks *keyfunc.JWKS) (*Tokens, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret must not be empty")
	}
	methods := []string{"HS256"}
	if jwks != nil {
		methods = append(methods, "RS256")
	}
	return &Tokens{
		JWKS:        jwks,
		Audience:    audience,
		Issuer:      issuer,
		secret:      secret,
		parser:      jwt.NewParser(jwt.WithValidMethods(methods)),
		keyCacheTTL: DefaultJWKSCacheTTL,
		now:         time.Now,
	}, nil
}

// SetKeyCacheTTL overrides how long JWKS keys are cached by kid. Zero disables
// the cache.
func (a *Tokens) SetKeyCacheTTL(ttl time.Duration) {
	a.keyCacheTTL = ttl
}

// Issue signs a session token for the given user and session.
func (a *Tokens) Issue(userID, email, sessionID string, ttl time.Duration) (string, time.Time, error) {
	now := a.now()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"sid":   sessionID,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
	}
	if a.Issuer != "" {
		claims["iss"] = a.Issuer
	}
	if a.Audience != "" {
		claims["aud"] = a.Audience
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, time.Unix(exp.Unix(), 0).UTC(), nil
}

// Verify checks the token signature and registered claims.
func (a *Tokens) Verify(token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrInvalidToken
	}
	parsed, err := a.parser.Parse(token, a.keyForToken)
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errors.New("invalid claims")
	}

	now := a.now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return Claims{}, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return Claims{}, errors.New("token not valid yet")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, true) {
		return Claims{}, errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, true) {
		return Claims{}, errors.New("invalid issuer")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Claims{}, errors.New("missing sub")
	}
	out := Claims{UserID: sub}
	out.Email, _ = claims["email"].(string)
	out.SessionID, _ = claims["sid"].(string)
	if exp, ok := claims["exp"].(float64); ok {
		out.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}
	return out, nil
}

func (a *Tokens) keyForToken(token *jwt.Token) (any, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		return a.secret, nil
	case *jwt.SigningMethodRSA:
	default:
		return nil, errors.New("invalid signing method")
	}
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if a.now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: a.now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
