package handlers

import (
	"time"

	"ctms-server/internal/audit"
	"ctms-server/internal/config"
	"ctms-server/internal/middleware"
	"ctms-server/internal/models"
	"ctms-server/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AuthHandler handles authentication-related requests.
type AuthHandler struct {
	DB  *gorm.DB
	Cfg *config.Config
	Log *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(db *gorm.DB, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{DB: db, Cfg: cfg, Log: log}
}

// LoginRequest represents the request body for user login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the response body for successful login.
type LoginResponse struct {
	Token        string               `json:"token"`
	RefreshToken string               `json:"refreshToken"`
	User         models.UserSanitized `json:"user"`
}

// Login handles user login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	var user models.User
	if err := h.DB.Where("username = ?", req.Username).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.Unauthorized(c, "Invalid username or password")
		} else {
			internalError(c, h.Log, "login lookup failed", err)
		}
		return
	}

	if !user.IsActive {
		utils.Unauthorized(c, "Account is deactivated")
		return
	}

	if !user.CheckPassword(req.Password) {
		utils.Unauthorized(c, "Invalid username or password")
		return
	}

	accessToken, refreshTokenString, err := utils.GenerateTokens(&user, h.Cfg)
	if err != nil {
		internalError(c, h.Log, "token generation failed", err)
		return
	}

	// Store the refresh token and the LOGIN audit entry together.
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		refreshToken := models.RefreshToken{
			UserID:    user.ID,
			Token:     refreshTokenString,
			ExpiresAt: time.Now().Add(time.Duration(h.Cfg.JWTRefreshExpirationHours) * time.Hour),
			IsRevoked: false,
		}
		if err := tx.Create(&refreshToken).Error; err != nil {
			return err
		}
		return audit.Record(tx, audit.Entry{
			ActorID:   user.ID,
			ActorName: user.Username,
			Action:    models.AuditLogin,
			Table:     "users",
			RecordID:  user.ID,
		})
	})
	if err != nil {
		internalError(c, h.Log, "login persistence failed", err)
		return
	}

	utils.Success(c, "Login successful", LoginResponse{
		Token:        accessToken,
		RefreshToken: refreshTokenString,
		User:         user.Sanitize(),
	})
}

// RefreshTokenRequest represents the request body for token refresh.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshTokenResponse represents the response body for successful token refresh.
type RefreshTokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshToken handles refreshing an access token using a refresh token,
// rotating the stored token in the process.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	claims, err := utils.ValidateToken(req.RefreshToken, h.Cfg.JWTRefreshSecret)
	if err != nil {
		utils.Unauthorized(c, "Invalid refresh token")
		return
	}

	var storedToken models.RefreshToken
	if err := h.DB.Where("token = ? AND user_id = ? AND is_revoked = ? AND expires_at > ?",
		req.RefreshToken, claims.UserID, false, time.Now()).First(&storedToken).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.Unauthorized(c, "Refresh token not found, expired, or revoked")
		} else {
			internalError(c, h.Log, "refresh token lookup failed", err)
		}
		return
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", claims.UserID).Error; err != nil {
		internalError(c, h.Log, "refresh token user lookup failed", err)
		return
	}
	if !user.IsActive {
		utils.Unauthorized(c, "Account is deactivated")
		return
	}

	newAccessToken, newRefreshTokenString, err := utils.GenerateTokens(&user, h.Cfg)
	if err != nil {
		internalError(c, h.Log, "token generation failed", err)
		return
	}

	// Rotate: revoke the old token and store the new one atomically.
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&storedToken).Update("is_revoked", true).Error; err != nil {
			return err
		}
		return tx.Create(&models.RefreshToken{
			UserID:    user.ID,
			Token:     newRefreshTokenString,
			ExpiresAt: time.Now().Add(time.Duration(h.Cfg.JWTRefreshExpirationHours) * time.Hour),
			IsRevoked: false,
		}).Error
	})
	if err != nil {
		internalError(c, h.Log, "refresh token rotation failed", err)
		return
	}

	utils.Success(c, "Access token refreshed successfully", RefreshTokenResponse{
		Token:        newAccessToken,
		RefreshToken: newRefreshTokenString,
	})
}

// LogoutRequest represents the request body for user logout.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Logout revokes the caller's refresh token and records a LOGOUT audit entry.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req LogoutRequest
	_ = c.ShouldBindJSON(&req) // token is optional; logout always succeeds

	actorID, actorName := actor(c, h.DB)

	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if req.RefreshToken != "" {
			var storedToken models.RefreshToken
			err := tx.Where("token = ? AND is_revoked = ?", req.RefreshToken, false).First(&storedToken).Error
			if err == nil {
				storedToken.IsRevoked = true
				storedToken.ExpiresAt = time.Now()
				if err := tx.Save(&storedToken).Error; err != nil {
					return err
				}
			} else if err != gorm.ErrRecordNotFound {
				return err
			}
		}
		return audit.Record(tx, audit.Entry{
			ActorID:   actorID,
			ActorName: actorName,
			Action:    models.AuditLogout,
			Table:     "users",
			RecordID:  actorID,
		})
	})
	if err != nil {
		internalError(c, h.Log, "logout failed", err)
		return
	}

	utils.Success(c, "Logout successful", nil)
}

// GetProfile handles fetching the currently authenticated user's profile.
func (h *AuthHandler) GetProfile(c *gin.Context) {
	userID, exists := middleware.GetUserIDFromContext(c)
	if !exists {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.NotFound(c, "User profile not found")
		} else {
			internalError(c, h.Log, "profile lookup failed", err)
		}
		return
	}

	utils.Success(c, "Profile fetched successfully", user.Sanitize())
}
