package handlers

import (
	"ctms-server/internal/audit"
	"ctms-server/internal/models"
	"ctms-server/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UserHandler handles user-related requests (admin operations).
type UserHandler struct {
	DB  *gorm.DB
	Log *zap.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(db *gorm.DB, log *zap.Logger) *UserHandler {
	return &UserHandler{DB: db, Log: log}
}

// CreateUserRequest represents the request body for creating a user by an admin.
type CreateUserRequest struct {
	Username string `json:"username" binding:"required,min=3"`
	Password string `json:"password" binding:"required,min=8"`
	Email    string `json:"email" binding:"omitempty,email"`
	Role     string `json:"role" binding:"required,oneof=admin coordinator monitor auditor doctor"`
	SiteID   string `json:"siteId"`
}

// CreateUser handles creating a new user (admin).
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	var existingUser models.User
	if err := h.DB.Where("username = ?", req.Username).First(&existingUser).Error; err == nil {
		utils.BadRequest(c, "User with this username already exists")
		return
	} else if err != gorm.ErrRecordNotFound {
		internalError(c, h.Log, "user uniqueness check failed", err)
		return
	}

	user := models.User{
		Username: req.Username,
		Email:    req.Email,
		Role:     models.Role(req.Role),
		IsActive: true,
	}
	if req.SiteID != "" {
		var site models.Site
		if err := h.DB.First(&site, "id = ?", req.SiteID).Error; err != nil {
			utils.BadRequest(c, "Assigned site does not exist")
			return
		}
		user.SiteID = &req.SiteID
	}
	if err := user.SetPassword(req.Password); err != nil {
		internalError(c, h.Log, "password hashing failed", err)
		return
	}

	actorID, actorName := actor(c, h.DB)
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return audit.Record(tx, audit.Entry{
			ActorID:   actorID,
			ActorName: actorName,
			Action:    models.AuditCreate,
			Table:     "users",
			RecordID:  user.ID,
			New:       user.Sanitize(),
		})
	})
	if err != nil {
		internalError(c, h.Log, "user creation failed", err)
		return
	}

	utils.Created(c, "User created successfully", user.Sanitize())
}

// GetUsers handles fetching all users (admin).
func (h *UserHandler) GetUsers(c *gin.Context) {
	var users []models.User
	if err := h.DB.Order("username").Find(&users).Error; err != nil {
		internalError(c, h.Log, "user listing failed", err)
		return
	}

	sanitizedUsers := make([]models.UserSanitized, len(users))
	for i, u := range users {
		sanitizedUsers[i] = u.Sanitize()
	}

	utils.Success(c, "Users fetched successfully", sanitizedUsers)
}

// GetUserByID handles fetching a single user by ID (admin).
func (h *UserHandler) GetUserByID(c *gin.Context) {
	userID := c.Param("id")

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.NotFound(c, "User not found")
		} else {
			internalError(c, h.Log, "user lookup failed", err)
		}
		return
	}
	utils.Success(c, "User fetched successfully", user.Sanitize())
}

// UpdateUserRequest represents the request body for updating a user by an admin.
type UpdateUserRequest struct {
	Email    string  `json:"email,omitempty"`
	Role     string  `json:"role,omitempty"`
	SiteID   *string `json:"siteId,omitempty"`
	IsActive *bool   `json:"isActive,omitempty"`
}

// UpdateUser handles updating a user by ID (admin).
func (h *UserHandler) UpdateUser(c *gin.Context) {
	userID := c.Param("id")

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil { // partial update
		utils.BadRequest(c, "Invalid request payload: "+err.Error())
		return
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		utils.NotFound(c, "User not found")
		return
	}
	before := user.Sanitize()

	if req.Email != "" {
		user.Email = req.Email
	}
	if req.Role != "" {
		if !models.ValidRole(req.Role) {
			utils.BadRequest(c, "Unknown role: "+req.Role)
			return
		}
		user.Role = models.Role(req.Role)
	}
	if req.SiteID != nil {
		if *req.SiteID == "" {
			user.SiteID = nil
		} else {
			var site models.Site
			if err := h.DB.First(&site, "id = ?", *req.SiteID).Error; err != nil {
				utils.BadRequest(c, "Assigned site does not exist")
				return
			}
			user.SiteID = req.SiteID
		}
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}

	actorID, actorName := actor(c, h.DB)
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&user).Error; err != nil {
			return err
		}
		return audit.Record(tx, audit.Entry{
			ActorID:   actorID,
			ActorName: actorName,
			Action:    models.AuditUpdate,
			Table:     "users",
			RecordID:  user.ID,
			Old:       before,
			New:       user.Sanitize(),
		})
	})
	if err != nil {
		internalError(c, h.Log, "user update failed", err)
		return
	}

	utils.Success(c, "User updated successfully", user.Sanitize())
}

// DeactivateUser handles deactivating a user by ID (admin). Accounts are
// never hard-deleted; the audit trail references them.
func (h *UserHandler) DeactivateUser(c *gin.Context) {
	userID := c.Param("id")

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			utils.NotFound(c, "User not found")
		} else {
			internalError(c, h.Log, "user lookup failed", err)
		}
		return
	}
	before := user.Sanitize()

	user.IsActive = false
	actorID, actorName := actor(c, h.DB)
	err := h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&user).Error; err != nil {
			return err
		}
		return audit.Record(tx, audit.Entry{
			ActorID:   actorID,
			ActorName: actorName,
			Action:    models.AuditUpdate,
			Table:     "users",
			RecordID:  user.ID,
			Old:       before,
			New:       user.Sanitize(),
			Reason:    "account deactivated",
		})
	})
	if err != nil {
		internalError(c, h.Log, "user deactivation failed", err)
		return
	}

	utils.Success(c, "User deactivated successfully", nil)
}
