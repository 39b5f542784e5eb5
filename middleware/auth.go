package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/noturnachs/wasteph-sub000/config"
	"github.com/noturnachs/wasteph-sub000/model"
	"github.com/noturnachs/wasteph-sub000/pkg/logger"
)

// Claims represents the JWT claims
type Claims struct {
	UserID      uint   `json:"user_id"`
	Role        string `json:"role"`
	MasterSales bool   `json:"master_sales"`
	jwt.RegisteredClaims
}

// GenerateToken generates a new JWT token for a staff user
func GenerateToken(actor model.Actor, cfg *config.AuthConfig) (string, time.Time, error) {
	expiresAt := time.Now().Add(time.Duration(cfg.TokenExpireHours) * time.Hour)

	claims := Claims{
		UserID:      actor.ID,
		Role:        actor.Role,
		MasterSales: actor.MasterSales,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// AuthMiddleware validates JWT token and extracts the acting staff user
func AuthMiddleware(cfg *config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		tokenString := parts[1]

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(cfg.JWTSecret), nil
		})

		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		if claims.Role != model.RoleAdmin && claims.Role != model.RoleSales {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unknown role"})
			c.Abort()
			return
		}

		actor := model.Actor{
			ID:          claims.UserID,
			Role:        claims.Role,
			MasterSales: claims.MasterSales,
		}
		c.Set("actor", actor)

		// Add actor info to request context for logger
		ctx := context.WithValue(c.Request.Context(), logger.ActorIDKey, strconv.FormatUint(uint64(actor.ID), 10))
		ctx = context.WithValue(ctx, logger.RoleKey, actor.Role)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetActor gets the acting staff user from context
func GetActor(c *gin.Context) model.Actor {
	if actor, exists := c.Get("actor"); exists {
		return actor.(model.Actor)
	}
	return model.Actor{}
}
