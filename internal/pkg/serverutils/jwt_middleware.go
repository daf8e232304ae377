package serverutils

import (
	"errors"
	"fmt"
	"strconv"

	"ragout-bot/internal/entity"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const userLocalKey = "user_id"

var ErrInvalidToken = errors.New("invalid token")

// ParseUserToken validates an HMAC-signed token and returns its user_id claim
// in the API namespace. The claim may be a string or a JSON number.
func ParseUserToken(secret, tokenStr string) (entity.UserID, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	switch v := claims["user_id"].(type) {
	case string:
		if v != "" {
			return entity.APIUser(v), nil
		}
	case float64:
		return entity.APIUser(strconv.FormatInt(int64(v), 10)), nil
	}
	return "", ErrInvalidToken
}

// BearerToken reads "Authorization: Bearer <token>".
func BearerToken(ctx *fiber.Ctx) string {
	authHeader := ctx.Get("Authorization")
	if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
		return ""
	}
	return authHeader[7:]
}

func JwtMiddleware(secret string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		tokenStr := BearerToken(ctx)
		if tokenStr == "" {
			return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Missing token"})
		}

		user, err := ParseUserToken(secret, tokenStr)
		if err != nil {
			return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "Invalid token"})
		}

		ctx.Locals(userLocalKey, user)
		return ctx.Next()
	}
}

// CurrentUser returns the user set by JwtMiddleware.
func CurrentUser(ctx *fiber.Ctx) entity.UserID {
	user, _ := ctx.Locals(userLocalKey).(entity.UserID)
	return user
}
