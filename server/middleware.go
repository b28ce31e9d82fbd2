package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"library-ledger/auth"
)

const claimsKey = "claims"

func setupCORS(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.LogAttrs(c.Request.Context(), level, "request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}

// authMiddleware verifies the bearer token and stores its claims on the context.
func authMiddleware(issuer *auth.Issuer) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := strings.TrimSpace(ctx.GetHeader("Authorization"))
		if authHeader == "" {
			abortWithError(ctx, http.StatusUnauthorized, "Unauthorized", "Authorization header is required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortWithError(ctx, http.StatusUnauthorized, "Unauthorized", "Invalid authorization format")
			return
		}

		claims, err := issuer.Parse(parts[1])
		if err != nil {
			abortWithError(ctx, http.StatusUnauthorized, "Unauthorized", "Invalid token")
			return
		}

		ctx.Set(claimsKey, claims)
		ctx.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !currentClaims(ctx).IsAdmin() {
			abortWithError(ctx, http.StatusForbidden, "Forbidden", "admin role required")
			return
		}
		ctx.Next()
	}
}

func currentClaims(ctx *gin.Context) *auth.Claims {
	if v, ok := ctx.Get(claimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return &auth.Claims{}
}

func abortWithError(ctx *gin.Context, status int, code, msg string) {
	ctx.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}
