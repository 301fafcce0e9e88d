package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pulsemetrics/pulse/internal/apperr"
	"github.com/pulsemetrics/pulse/internal/model"
	"github.com/pulsemetrics/pulse/internal/store"
	"github.com/pulsemetrics/pulse/internal/telemetry"
)

const (
	minPasswordLength = 8
	usageTimeout      = 5 * time.Second

	msgInvalidAPIKey      = "Invalid API key"
	msgInvalidCredentials = "Incorrect email or password"
	msgInvalidToken       = "Invalid or expired token"
)

// UserPrincipal is the identity carried by a valid session token.
type UserPrincipal struct {
	UserID string
	Email  string
}

// AuthService resolves API keys and manages user accounts and sessions.
type AuthService struct {
	store     *store.Store
	creds     *Credentials
	passwords *PasswordHasher
	jwtSecret []byte
	jwtTTL    time.Duration
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	now       func() time.Time

	// background tracks usage-counter goroutines so shutdown can drain them.
	background sync.WaitGroup
}

func NewAuthService(st *store.Store, creds *Credentials, passwords *PasswordHasher, jwtSecret string, jwtTTL time.Duration, metrics *telemetry.Metrics, logger *slog.Logger) *AuthService {
	return &AuthService{
		store:     st,
		creds:     creds,
		passwords: passwords,
		jwtSecret: []byte(jwtSecret),
		jwtTTL:    jwtTTL,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// ResolveAPIKey finds the active key matching plaintext and returns it. The
// key's usage counter is bumped in the background; a failure there is only
// logged.
func (s *AuthService) ResolveAPIKey(ctx context.Context, plaintext string) (*model.APIKey, error) {
	if plaintext == "" {
		s.metrics.APIKey(telemetry.ResultFailure)
		return nil, apperr.Unauthorized("API key required")
	}

	candidates, err := s.store.FindKeysByPrefix(ctx, s.creds.LookupPrefix(plaintext))
	if err != nil {
		return nil, apperr.Internal("Internal server error", err)
	}

	now := s.now()
	for i := range candidates {
		key := candidates[i]
		if !s.creds.CompareAPIKey(plaintext, key.KeyHash) {
			continue
		}
		if !model.KeyIsValid(key, now) {
			break
		}
		s.metrics.APIKey(telemetry.ResultSuccess)
		s.recordUsage(ctx, key.ID, now)
		return &key, nil
	}

	s.metrics.APIKey(telemetry.ResultFailure)
	return nil, apperr.Unauthorized(msgInvalidAPIKey)
}

func (s *AuthService) recordUsage(ctx context.Context, keyID string, at time.Time) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageTimeout)
		defer cancel()
		if err := s.store.RecordAPIKeyUsage(bg, keyID, at); err != nil {
			s.logger.WarnContext(bg, "failed to record api key usage", "key_id", keyID, "error", err)
		}
	}()
}

// Wait blocks until background usage updates have finished.
func (s *AuthService) Wait() {
	s.background.Wait()
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// Register creates an active user account.
func (s *AuthService) Register(ctx context.Context, email, password, fullName string) (*model.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < minPasswordLength {
		return nil, apperr.Validationf("password must be at least %d characters", minPasswordLength)
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, apperr.Internal("Internal server error", err)
	}

	u := &model.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(fullName),
		IsActive:     true,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, apperr.Conflict("Email already registered")
		}
		return nil, storeError(err, "User not found")
	}
	return u, nil
}

// AuthenticateUser checks an email and password. Every failure returns the
// same message, and unknown or inactive accounts still pay for one hash
// verification.
func (s *AuthService) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Internal("Internal server error", err)
	}
	if u == nil || !u.IsActive {
		s.passwords.VerifyDummy(password)
		return nil, apperr.Unauthorized(msgInvalidCredentials)
	}

	match, rehash, err := s.passwords.Verify(password, u.PasswordHash)
	if err != nil {
		s.logger.ErrorContext(ctx, "stored password hash is unreadable", "user_id", u.ID, "error", err)
		return nil, apperr.Unauthorized(msgInvalidCredentials)
	}
	if !match {
		return nil, apperr.Unauthorized(msgInvalidCredentials)
	}

	if rehash {
		if hash, err := s.passwords.Hash(password); err == nil {
			if err := s.store.UpdatePasswordHash(ctx, u.ID, hash); err != nil {
				s.logger.WarnContext(ctx, "failed to upgrade password hash", "user_id", u.ID, "error", err)
			} else {
				u.PasswordHash = hash
			}
		}
	}
	return u, nil
}

// Login authenticates a user and issues a session token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.AccessToken, error) {
	u, err := s.AuthenticateUser(ctx, email, password)
	if err != nil {
		return nil, err
	}
	token, err := s.IssueJWT(u)
	if err != nil {
		return nil, apperr.Internal("Internal server error", err)
	}
	return &model.AccessToken{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(s.jwtTTL.Seconds()),
	}, nil
}

// CurrentUser returns the active user behind a session.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Unauthorized(msgInvalidToken)
	}
	if err != nil {
		return nil, apperr.Internal("Internal server error", err)
	}
	if !u.IsActive {
		return nil, apperr.Unauthorized("Inactive user")
	}
	return u, nil
}

func (s *AuthService) ListUsers(ctx context.Context) ([]model.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, apperr.Internal("Internal server error", err)
	}
	return users, nil
}

// DeactivateUser disables sign-in for a user. Existing tokens stop working
// at the next CurrentUser check.
func (s *AuthService) DeactivateUser(ctx context.Context, userID string) error {
	return storeError(s.store.SetUserActive(ctx, userID, false), "User not found")
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Validation("email is not a valid address")
	}
	return email, nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

type jwtClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// IssueJWT creates a signed session token for u.
func (s *AuthService) IssueJWT(u *model.User) (string, error) {
	now := s.now()
	claims := jwtClaims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtTTL)),
			Issuer:    "pulse",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateJWT verifies a session token and returns its principal.
func (s *AuthService) ValidateJWT(tokenStr string) (*UserPrincipal, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid || claims.Subject == "" {
		return nil, apperr.Unauthorized(msgInvalidToken)
	}

	return &UserPrincipal{UserID: claims.Subject, Email: claims.Email}, nil
}
