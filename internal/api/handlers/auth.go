package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/cryptodash/autopilot/internal/config"
	"github.com/cryptodash/autopilot/internal/middleware"
)

const adminUsername = "admin"

// AuthHandler issues JWT tokens for the single admin operator.
type AuthHandler struct {
	security config.SecurityConfig
	auth     *middleware.AuthMiddleware
	logger   *logrus.Logger
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewAuthHandler(security config.SecurityConfig, auth *middleware.AuthMiddleware, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{security: security, auth: auth, logger: logger}
}

// Login verifies the admin credentials and returns a bearer token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	if req.Username != adminUsername || h.security.AdminPasswordHash == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h.security.AdminPasswordHash), []byte(req.Password)); err != nil {
		h.logger.WithField("username", req.Username).Warn("Failed login attempt")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	expiry := 24 * time.Hour
	if parsed, err := time.ParseDuration(h.security.JWTExpiry); err == nil && parsed > 0 {
		expiry = parsed
	}

	token, err := h.auth.GenerateToken(adminUsername, "admin", expiry)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}
	c.JSON(http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(expiry),
	})
}
