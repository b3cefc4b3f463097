package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any credential that fails verification.
var ErrInvalidToken = errors.New("auth: invalid token")

const (
	sessionTTL = 7 * 24 * time.Hour
	adminTTL   = 12 * time.Hour
)

// Identity is the verified subject of a session credential.
type Identity struct {
	UserID uuid.UUID
	Name   string
}

// Manager issues and verifies the signed session and admin credentials.
// Issuing and verification live together so the session endpoint, the
// gateway handshake and the tests share one token shape.
type Manager struct {
	sessionSecret []byte
	adminSecret   []byte
}

// NewManager creates a Manager. adminSecret falls back to sessionSecret when
// empty.
func NewManager(sessionSecret, adminSecret string) *Manager {
	if adminSecret == "" {
		adminSecret = sessionSecret
	}
	return &Manager{
		sessionSecret: []byte(sessionSecret),
		adminSecret:   []byte(adminSecret),
	}
}

// IssueSession signs a session credential for the given identity.
func (m *Manager) IssueSession(id Identity) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  id.UserID.String(),
		"name": id.Name,
		"iat":  now.Unix(),
		"exp":  now.Add(sessionTTL).Unix(),
	})
	return token.SignedString(m.sessionSecret)
}

// VerifySession validates a session credential and returns its identity.
func (m *Manager) VerifySession(tokenString string) (Identity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, m.keyFunc(m.sessionSecret),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sub, _ := claims["sub"].(string)
	userID, err := uuid.Parse(sub)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	name, _ := claims["name"].(string)
	return Identity{UserID: userID, Name: name}, nil
}

// IssueAdmin signs an administrative credential.
func (m *Manager) IssueAdmin() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": "admin",
		"iat":  now.Unix(),
		"exp":  now.Add(adminTTL).Unix(),
	})
	return token.SignedString(m.adminSecret)
}

// VerifyAdmin validates an administrative credential.
func (m *Manager) VerifyAdmin(tokenString string) error {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, m.keyFunc(m.adminSecret),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if role, _ := claims["role"].(string); role != "admin" {
		return fmt.Errorf("%w: not an admin credential", ErrInvalidToken)
	}
	return nil
}

func (m *Manager) keyFunc(secret []byte) jwt.Keyfunc {
	return func(*jwt.Token) (any, error) {
		return secret, nil
	}
}
