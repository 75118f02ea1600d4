package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"mpchat/internal/apperr"
	"mpchat/internal/db"
	"mpchat/internal/logging"
	"mpchat/internal/session"
)

const issuer = "mpchat"

type Service struct {
	repo          *Repository
	sessions      session.Store
	log           logging.Logger
	jwtSecret     []byte
	lifetime      time.Duration
	adminUsername string
}

type Options struct {
	JWTSecret       string
	SessionLifetime time.Duration
	AdminUsername   string
}

// Claims identify a server-side session. The session id is the token id and
// the user id is the subject.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewService(repo *Repository, sessions session.Store, log logging.Logger, opts Options) *Service {
	return &Service{
		repo:          repo,
		sessions:      sessions,
		log:           log,
		jwtSecret:     []byte(opts.JWTSecret),
		lifetime:      opts.SessionLifetime,
		adminUsername: NormalizeUsername(opts.AdminUsername),
	}
}

func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// defaultDisplayName upper-cases the first letter of a normalized username.
func defaultDisplayName(username string) string {
	r, size := utf8.DecodeRuneInString(username)
	if r == utf8.RuneError {
		return username
	}
	return string(unicode.ToUpper(r)) + username[size:]
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	req.Username = NormalizeUsername(req.Username)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := apperr.Validate(req); err != nil {
		return nil, err
	}

	u := s.newUser(req.Username, req.DisplayName)
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return nil, apperr.Validation("Username already exists")
		}
		return nil, apperr.Persistence("Registration failed", err)
	}

	s.log.Info(ctx, "user registered", "user_id", u.ID, "username", u.Username)
	return u, nil
}

// Login finds or creates the user, marks them online and opens a session.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	req.Username = NormalizeUsername(req.Username)
	if err := apperr.Validate(req); err != nil {
		return nil, err
	}

	u, err := s.findOrCreate(ctx, req.Username)
	if err != nil {
		return nil, err
	}

	now := db.Now()
	if err := s.repo.SetOnline(ctx, u.ID, true, now); err != nil {
		return nil, apperr.Persistence("Login failed", err)
	}
	u.IsOnline = true
	u.LastSeen = &now

	sess := &session.Session{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		Username:  u.Username,
		IsAdmin:   u.IsAdmin,
		CreatedAt: now,
		ExpiresAt: now.Add(s.lifetime),
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, apperr.Persistence("Login failed", err)
	}

	token, err := s.issueToken(sess)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	s.log.Info(ctx, "user logged in", "user_id", u.ID, "username", u.Username)
	return &LoginResponse{Token: token, ExpiresAt: sess.ExpiresAt, User: u}, nil
}

func (s *Service) findOrCreate(ctx context.Context, username string) (*User, error) {
	u, err := s.repo.GetByUsername(ctx, username)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Persistence("Login failed", err)
	}

	u = s.newUser(username, defaultDisplayName(username))
	err = s.repo.Create(ctx, u)
	if errors.Is(err, ErrUsernameTaken) {
		// lost a race with a concurrent first login
		return s.repo.GetByUsername(ctx, username)
	}
	if err != nil {
		return nil, apperr.Persistence("Login failed", err)
	}
	s.log.Info(ctx, "user created on first login", "user_id", u.ID, "username", u.Username)
	return u, nil
}

func (s *Service) newUser(username, displayName string) *User {
	return &User{
		ID:          uuid.NewString(),
		Username:    username,
		DisplayName: displayName,
		Avatar:      DefaultAvatar,
		IsAdmin:     username == s.adminUsername,
		CreatedAt:   db.Now(),
	}
}

// Logout marks the user offline and revokes the session.
func (s *Service) Logout(ctx context.Context, sess *session.Session) error {
	err := s.repo.SetOnline(ctx, sess.UserID, false, db.Now())
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return apperr.Persistence("Logout failed", err)
	}
	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		return apperr.Persistence("Logout failed", err)
	}
	s.log.Info(ctx, "user logged out", "user_id", sess.UserID)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Persistence("Failed to load user", err)
	}
	return u, err
}

// ListOthers returns every user except the caller.
func (s *Service) ListOthers(ctx context.Context, id string) ([]User, error) {
	users, err := s.repo.ListExcluding(ctx, id)
	if err != nil {
		return nil, apperr.Persistence("Failed to list users", err)
	}
	return users, nil
}

// EnsureAdmin creates the configured admin account if it is missing and
// makes sure it carries the admin flag.
func (s *Service) EnsureAdmin(ctx context.Context) (*User, error) {
	if s.adminUsername == "" {
		return nil, nil
	}
	u, err := s.findOrCreate(ctx, s.adminUsername)
	if err != nil {
		return nil, err
	}
	if !u.IsAdmin {
		if err := s.repo.SetAdmin(ctx, u.ID, true); err != nil {
			return nil, apperr.Persistence("Failed to promote admin", err)
		}
		u.IsAdmin = true
	}
	return u, nil
}

// ResetPresence marks every user offline. The in-memory registry starts
// empty, so any online flag left by a previous run is stale.
func (s *Service) ResetPresence(ctx context.Context) (int64, error) {
	n, err := s.repo.ResetPresence(ctx, db.Now())
	if err != nil {
		return 0, apperr.Persistence("Failed to reset presence", err)
	}
	return n, nil
}

func (s *Service) issueToken(sess *session.Session) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: sess.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sess.ID,
			Subject:   sess.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	})
	return token.SignedString(s.jwtSecret)
}

// ValidateToken checks the signature and expiry and returns the session id
// and user id it names.
func (s *Service) ValidateToken(tokenString string) (string, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return "", "", err
	}
	if !token.Valid || claims.ID == "" || claims.Subject == "" {
		return "", "", errors.New("invalid token")
	}
	return claims.ID, claims.Subject, nil
}
