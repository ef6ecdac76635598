package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Role constants carried in token claims.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Identity is the authenticated principal behind a credential.
type Identity struct {
	UserID string
	Role   string
}

// Validator verifies HS256 JWT credentials issued by the platform's auth
// service. Token issuance is out of scope here; only validation is.
type Validator struct {
	secret []byte
}

// NewValidator creates a validator for the given signing secret.
func NewValidator(secret []byte) *Validator {
	return &Validator{secret: secret}
}

// ValidateToken parses and verifies a token and returns the identity it
// carries.
func (v *Validator) ValidateToken(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	userID, ok := (*claims)["user_id"].(string)
	if !ok || userID == "" {
		return nil, ErrInvalidToken
	}

	role, _ := (*claims)["role"].(string)
	return &Identity{UserID: userID, Role: role}, nil
}

// ValidateFor verifies a token and additionally requires its subject to
// match the claimed user id. A mismatch is a policy violation, not just a
// bad token.
func (v *Validator) ValidateFor(tokenString, userID string) (*Identity, error) {
	identity, err := v.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if identity.UserID != userID {
		return nil, ErrIdentityMismatch
	}
	return identity, nil
}

// FromRequest extracts and validates a bearer token from an HTTP request's
// Authorization header.
func (v *Validator) FromRequest(r *http.Request) (*Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrMissingCredential
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return nil, ErrMissingCredential
	}
	return v.ValidateToken(token)
}
