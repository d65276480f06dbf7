package jwt

import (
	"fmt"
	"time"

	"campus-chat-backend/internal/env"

	"github.com/golang-jwt/jwt"
)

const (
	RoleStaff Role = iota
)

const AccessTokenTTL = 8 * time.Hour

// roleSecret resolves the signing secret at call time so the environment is
// read after process setup, not at package init.
func roleSecret(role Role) (string, error) {
	switch role {
	case RoleStaff:
		return env.Get(env.StaffSecretKey), nil
	}
	return "", fmt.Errorf("invalid role specified")
}

func appendRoleChar(token string, role Role) string {
	switch role {
	case RoleStaff:
		return token + "1"
	}
	return token
}

func expectedRoleChar(role Role) string {
	switch role {
	case RoleStaff:
		return "1"
	}
	return ""
}

func CreateToken(staff Staff, role Role, validUntil int64) (string, error) {
	secret, err := roleSecret(role)
	if err != nil {
		return "", err
	}
	if secret == "" {
		return "", fmt.Errorf("signing secret not configured")
	}

	if validUntil == 0 {
		validUntil = time.Now().Add(AccessTokenTTL).Unix()
	}

	claims := jwt.MapClaims{
		"id":    staff.Id,
		"email": staff.Email,
		"exp":   validUntil,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", err
	}

	return appendRoleChar(tokenString, role), nil
}

// ParseToken validates the trailing role char, the signature and the claim
// shape. Expiry is checked by the caller.
func ParseToken(tokenString string, role Role) (jwt.MapClaims, error) {
	if len(tokenString) == 0 {
		return nil, fmt.Errorf("token string is empty")
	}

	if tokenString[len(tokenString)-1:] != expectedRoleChar(role) {
		return nil, fmt.Errorf("invalid role character in token")
	}
	tokenString = tokenString[:len(tokenString)-1]

	secret, err := roleSecret(role)
	if err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, fmt.Errorf("signing secret not configured")
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("unauthorized: %v", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid - unauthorized")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("claims of unauthorized type")
	}

	return claims, nil
}
