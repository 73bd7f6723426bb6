// internal/security/auth.go - Authentication and session handling.
//
// This file implements the three sign-in paths (password with the demo
// bypass, OAuth redirect, and the biometric path's session issuance), the
// demo-session token, and the session middleware gating the admin surface.
// The middleware is an advisory gate; the backend independently authorizes
// mutating calls.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// The literal demo credential pair accepted when the backend auth call fails.
// The resulting session is locally signed and never verified by the backend.
const (
	demoEmail      = "admin@nexus.com"
	demoPassword   = "password123"
	demoUserID     = "demo-admin"
	demoSessionTTL = 24 * time.Hour
)

// ErrInvalidCredentials is returned when neither the backend nor the demo
// bypass accepts a credential pair.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Session is the resolved identity attached to authenticated requests.
type Session struct {
	UserID string
	Email  string
	Demo   bool
}

// SessionResolver turns a bearer token into a Session. It is an interface so
// handlers can be tested with a canned resolver.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*Session, error)
}

// AuthService implements sign-in, demo-session minting, and session
// resolution over the backend auth sub-interface.
type AuthService struct {
	auth          AuthBackend
	secret        []byte
	publicBaseURL string
	logger        zerolog.Logger
}

// NewAuthService creates a new AuthService instance.
func NewAuthService(cfg *Config, auth AuthBackend, logger zerolog.Logger) *AuthService {
	return &AuthService{
		auth:          auth,
		secret:        []byte(cfg.SessionSecret),
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:        logger.With().Str("component", "auth").Logger(),
	}
}

// Login performs password sign-in against the backend. When the backend call
// fails and the literal demo pair was submitted, a locally signed demo
// session is issued instead of a real one.
func (as *AuthService) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	session, err := as.auth.SignInWithPassword(ctx, email, password)
	if err == nil {
		return &LoginResponse{AccessToken: session.AccessToken, Email: session.User.Email}, nil
	}

	if email == demoEmail && password == demoPassword {
		as.logger.Warn().Err(err).Msg("backend sign-in failed, issuing demo session")
		return as.DemoSession(email)
	}
	return nil, ErrInvalidCredentials
}

// DemoSession mints a demo-session token for the given email.
func (as *AuthService) DemoSession(email string) (*LoginResponse, error) {
	token, err := as.mintDemoToken(email)
	if err != nil {
		return nil, fmt.Errorf("failed to mint demo session: %w", err)
	}
	return &LoginResponse{AccessToken: token, Demo: true, Email: email}, nil
}

// OAuthURL returns the backend authorize URL for a provider, redirecting back
// to the admin console after the identity-provider dance.
func (as *AuthService) OAuthURL(provider string) string {
	return as.auth.OAuthAuthorizeURL(provider, as.publicBaseURL+"/admin")
}

// Logout signs the session out of the backend. Demo sessions have nothing to
// invalidate server-side; real-session sign-out failures are logged only.
func (as *AuthService) Logout(ctx context.Context, token string) {
	if _, err := as.parseDemoToken(token); err == nil {
		return
	}
	if err := as.auth.SignOut(ctx, token); err != nil {
		as.logger.Warn().Err(err).Msg("backend sign-out failed")
	}
}

// Resolve implements SessionResolver: a token is either a locally signed demo
// session or a backend session validated via the auth API.
func (as *AuthService) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, fmt.Errorf("missing session token")
	}
	if session, err := as.parseDemoToken(token); err == nil {
		return session, nil
	}
	user, err := as.auth.GetUser(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("session validation failed: %w", err)
	}
	return &Session{UserID: user.ID, Email: user.Email}, nil
}

// mintDemoToken signs a short-lived HS256 token marking a demo session.
func (as *AuthService) mintDemoToken(email string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   demoUserID,
		"email": email,
		"demo":  true,
		"iat":   now.Unix(),
		"exp":   now.Add(demoSessionTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(as.secret)
}

// parseDemoToken validates a demo-session token and returns its session.
func (as *AuthService) parseDemoToken(token string) (*Session, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return as.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || claims["demo"] != true {
		return nil, fmt.Errorf("not a demo session token")
	}
	userID, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	return &Session{UserID: userID, Email: email, Demo: true}, nil
}

// --- Session middleware ---

// Context keys for storing session information in request context.
type contextKey string

// ContextKeySession is the key for the resolved session in context.
var ContextKeySession contextKey = "session"

// SessionFromContext retrieves the resolved session from the request context.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(ContextKeySession).(*Session)
	return session, ok
}

// SessionMiddleware gates a route group behind session resolution. Requests
// without a resolvable bearer token are rejected with 401.
func SessionMiddleware(resolver SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				respondError(w, http.StatusUnauthorized, "Session token required in Authorization header")
				return
			}

			session, err := resolver.Resolve(r.Context(), token)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "Invalid or expired session")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySession, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractBearerToken extracts the bearer token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "" // Invalid format
	}
	return strings.TrimSpace(parts[1])
}
