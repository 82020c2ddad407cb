package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired = &TokenError{Message: "token已过期"}
	ErrTokenInvalid = &TokenError{Message: "token无效"}
)

type TokenError struct {
	Message string
}

func (e *TokenError) Error() string {
	return e.Message
}

// Claims API token 内容
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

const issuer = "hubsync"

// GenerateToken 生成 HS256 token
func GenerateToken(secret, subject, scope string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("未配置 jwt.secret")
	}
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("签发token失败: %w", err)
	}
	return signed, nil
}

// ParseToken 校验签名和有效期
func ParseToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
