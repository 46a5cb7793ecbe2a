// ABOUTME: JWT token issuance and verification for authenticating connections
// ABOUTME: Uses HS256 signing with configurable secret; claims carry the subject kind

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// SubjectKind distinguishes the two identity spaces carried in tokens
type SubjectKind string

const (
	KindManager SubjectKind = "manager"
	KindClient  SubjectKind = "client"
)

// Subject is the verified identity behind a connection or request
type Subject struct {
	ID          string
	Kind        SubjectKind
	DisplayName string
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Subject, error)
}

// JWTVerifier issues and verifies HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the subject from its claims
func (v *JWTVerifier) Verify(tokenString string) (*Subject, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	kind, ok := claims["kind"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: kind", ErrMissingClaim)
	}
	switch SubjectKind(kind) {
	case KindManager, KindClient:
	default:
		return nil, fmt.Errorf("%w: unknown subject kind %q", ErrInvalidToken, kind)
	}

	name, _ := claims["name"].(string)

	return &Subject{
		ID:          sub,
		Kind:        SubjectKind(kind),
		DisplayName: name,
	}, nil
}

// Generate creates a new JWT token for the given subject with expiration
func (v *JWTVerifier) Generate(subject *Subject, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  subject.ID,
		"kind": string(subject.Kind),
		"name": subject.DisplayName,
		"iat":  now.Unix(),
		"exp":  now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
