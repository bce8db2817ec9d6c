package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"assistant_server/pkg/logger"
)

// AdminAuth validates HS256 bearer tokens on the admin API. The backend
// serves a single operator, so there is no user lookup: a valid
// signature with an unexpired token is enough.
func AdminAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == "OPTIONS" {
			return c.Next()
		}

		var tokenString string
		authHeader := c.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
		if tokenString == "" {
			return c.Status(401).JSON(fiber.Map{"error": "missing authorization"})
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unsupported signing method: %v", token.Header["alg"])
			}
			if secret == "" {
				return nil, fmt.Errorf("JWT secret not configured")
			}
			return []byte(secret), nil
		})
		if err != nil {
			logger.WithError(err).Warn("JWT validation failed")
			return c.Status(401).JSON(fiber.Map{"error": "invalid token"})
		}
		if !token.Valid {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token"})
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return c.Status(401).JSON(fiber.Map{"error": "invalid claims"})
		}

		if exp, ok := claims["exp"].(float64); ok {
			if time.Now().Unix() > int64(exp) {
				return c.Status(401).JSON(fiber.Map{"error": "token expired"})
			}
		}
		// reject tokens minted in the future, allowing a minute of skew
		if iat, ok := claims["iat"].(float64); ok {
			if time.Unix(int64(iat), 0).After(time.Now().Add(time.Minute)) {
				return c.Status(401).JSON(fiber.Map{"error": "token issued in the future"})
			}
		}

		if sub, ok := claims["sub"].(string); ok {
			c.Locals("admin_subject", sub)
		}
		c.Locals("claims", claims)

		return c.Next()
	}
}
