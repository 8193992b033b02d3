package services

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AdminSession is the verified admin identity carried by one request.
type AdminSession struct {
	Subject   string    `json:"subject"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Valid reports whether the session is still usable at t.
func (a AdminSession) Valid(t time.Time) bool { return t.Before(a.ExpiresAt) }

type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthService checks the admin credential and issues short-lived signed
// session tokens in place of a process-wide logged-in flag.
type AuthService struct {
	passHash []byte
	secret   []byte
	now      func() time.Time
	tokenTTL time.Duration
}

type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewAuthService hashes the configured admin password once at startup.
func NewAuthService(adminPassword, secret string, ttl time.Duration) (*AuthService, error) {
	if strings.TrimSpace(adminPassword) == "" {
		return nil, errors.New("admin password required")
	}
	if len(secret) < 16 {
		return nil, errors.New("session secret must be at least 16 bytes")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &AuthService{
		passHash: hash,
		secret:   []byte(secret),
		now:      func() time.Time { return time.Now().UTC() },
		tokenTTL: ttl,
	}, nil
}

func (s *AuthService) Login(password string) (*AuthResult, error) {
	if strings.TrimSpace(password) == "" {
		return nil, NewInvalidError("password required")
	}
	if err := bcrypt.CompareHashAndPassword(s.passHash, []byte(password)); err != nil {
		return nil, NewUnauthorizedError("invalid credentials")
	}
	now := s.now()
	exp := now.Add(s.tokenTTL)
	claims := adminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, ExpiresAt: exp.Truncate(time.Second)}, nil
}

// Verify parses token and checks its signature and expiry against the
// service clock.
func (s *AuthService) Verify(token string) (*AdminSession, error) {
	claims := &adminClaims{}
	t, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !t.Valid || claims.Role != "admin" || claims.ExpiresAt == nil {
		return nil, NewUnauthorizedError("invalid session")
	}
	sess := &AdminSession{Subject: claims.Subject, ExpiresAt: claims.ExpiresAt.Time}
	if !sess.Valid(s.now()) {
		return nil, NewUnauthorizedError("session expired")
	}
	return sess, nil
}

func (s *AuthService) TokenTTL() time.Duration {
	return s.tokenTTL
}
