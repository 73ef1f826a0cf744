package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Role enum
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleCoordinator Role = "coordinator"
	RoleMonitor     Role = "monitor"
	RoleAuditor     Role = "auditor"
	RoleDoctor      Role = "doctor"
)

// ValidRole reports whether s is one of the known roles.
func ValidRole(s string) bool {
	switch Role(s) {
	case RoleAdmin, RoleCoordinator, RoleMonitor, RoleAuditor, RoleDoctor:
		return true
	}
	return false
}

// User represents a system account. Role and site assignment together gate
// visibility: non-admin users only see subjects and drug units at their site.
type User struct {
	BaseModel
	Username string  `gorm:"uniqueIndex;size:100;not null" json:"username"`
	Password string  `gorm:"size:255;not null" json:"-"` // Never send password in JSON
	Email    string  `gorm:"size:255" json:"email"`
	Role     Role    `gorm:"size:20;default:'coordinator'" json:"role"`
	SiteID   *string `gorm:"size:36;index" json:"siteId,omitempty"`
	IsActive bool    `gorm:"default:true" json:"isActive"`

	// Relations (not always preloaded)
	Site          *Site          `gorm:"foreignKey:SiteID" json:"-"`
	RefreshTokens []RefreshToken `gorm:"foreignKey:UserID" json:"-"`
}

// UserSanitized represents the user data that is safe to send in API responses.
type UserSanitized struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	SiteID    *string   `json:"siteId,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SetPassword hashes a password and sets it on the user
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.Password = string(hashedPassword)
	return nil
}

// CheckPassword compares a password with the user's hashed password
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password))
	return err == nil
}

// Sanitize creates a UserSanitized struct from a User model, excluding sensitive data.
func (u *User) Sanitize() UserSanitized {
	return UserSanitized{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		SiteID:    u.SiteID,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
