// Package auth проверяет bearer-токены, выданные сервисом авторизации.
// Сам выпуск токенов (OAuth, логин) живёт в отдельном сервисе; здесь только
// HS256-проверка и извлечение (user_id, tenant_id).
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims — полезная нагрузка токена: кто и из какого тенанта.
type Claims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// GenerateToken подписывает токен для пользователя (используется сервисом
// авторизации и тестами).
func GenerateToken(userID, tenantID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "teamchat",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth.GenerateToken: %w", err)
	}
	return signed, nil
}

// ParseToken проверяет подпись и срок действия токена.
// Принимаются только HMAC-токены (защита от подмены алгоритма).
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("auth.ParseToken: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("auth.ParseToken: invalid claims")
	}
	return claims, nil
}
