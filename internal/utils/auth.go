package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Operator is who a token was issued to.
type Operator struct {
	Name string
	Role string
}

// GenerateToken issues an HS256 token for an operator. Counting stations
// use it as the bearer credential for REST and the realtime channel.
func GenerateToken(name, role, secret string, ttl time.Duration) (string, error) {
	if name == "" {
		return "", errors.New("operator name required")
	}
	claims := jwt.MapClaims{
		"name": name,
		"role": role,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateToken parses and validates a token
func ValidateToken(tokenString string, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// OperatorFromClaims reads the operator out of validated claims.
func OperatorFromClaims(claims jwt.MapClaims) (Operator, error) {
	name, _ := claims["name"].(string)
	if name == "" {
		return Operator{}, errors.New("token has no operator name")
	}
	role, _ := claims["role"].(string)
	return Operator{Name: name, Role: role}, nil
}
