package myMiddleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"mpchat/internal/httpx"
	"mpchat/internal/logging"
	"mpchat/internal/session"
)

type contextKey string

const (
	UserKey     contextKey = "user_id"
	UsernameKey contextKey = "username"
	SessionKey  contextKey = "session"
)

// TokenValidator checks a signed token and returns the session id and user
// id it names.
type TokenValidator interface {
	ValidateToken(tokenString string) (string, string, error)
}

type AuthMiddleware struct {
	validator TokenValidator
	sessions  session.Store
	log       logging.Logger
}

func NewAuthMiddleware(v TokenValidator, sessions session.Store, log logging.Logger) *AuthMiddleware {
	return &AuthMiddleware{validator: v, sessions: sessions, log: log}
}

var (
	errMissingToken = errors.New("missing authentication token")
	errInvalidToken = errors.New("invalid token")
)

// Handle rejects requests without a live session.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := am.authenticate(r)
		if err != nil {
			httpx.WriteJSON(w, http.StatusUnauthorized, map[string]any{
				"success": false,
				"message": err.Error(),
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sess)))
	})
}

// Optional attaches the session when the request carries a valid token and
// passes the request through untouched otherwise.
func (am *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sess, err := am.authenticate(r); err == nil {
			r = r.WithContext(withSession(r.Context(), sess))
		}
		next.ServeHTTP(w, r)
	})
}

func (am *AuthMiddleware) authenticate(r *http.Request) (*session.Session, error) {
	tokenString := ""

	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			tokenString = parts[1]
		}
	}

	// browsers cannot set headers on a websocket upgrade
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}

	if tokenString == "" {
		return nil, errMissingToken
	}

	sessionID, userID, err := am.validator.ValidateToken(tokenString)
	if err != nil {
		return nil, errInvalidToken
	}

	sess, err := am.sessions.Get(r.Context(), sessionID)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			am.log.Error(r.Context(), "session lookup failed", "err", err)
		}
		return nil, errInvalidToken
	}
	if sess.UserID != userID {
		return nil, errInvalidToken
	}
	return sess, nil
}

// RequireAdmin must run after Handle.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := SessionFrom(r.Context())
		if !ok || !sess.IsAdmin {
			httpx.WriteJSON(w, http.StatusForbidden, map[string]any{
				"success": false,
				"message": "Unauthorized",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withSession(ctx context.Context, sess *session.Session) context.Context {
	ctx = context.WithValue(ctx, SessionKey, sess)
	ctx = context.WithValue(ctx, UserKey, sess.UserID)
	return context.WithValue(ctx, UsernameKey, sess.Username)
}

func SessionFrom(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(SessionKey).(*session.Session)
	return sess, ok
}
