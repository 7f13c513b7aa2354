package httpapi

import (
	"time"

	"github.com/azora-os/azauth"
)

type registerRequest struct {
	Email     string `json:"email" binding:"required"`
	Username  string `json:"username" binding:"required"`
	Password  string `json:"password" binding:"required"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type deviceRequest struct {
	Name string `json:"name" binding:"required"`
	Type string `json:"type"`
}

type loginRequest struct {
	Identifier string         `json:"identifier" binding:"required"`
	Password   string         `json:"password" binding:"required"`
	TOTPCode   string         `json:"totpCode"`
	BackupCode string         `json:"backupCode"`
	Device     *deviceRequest `json:"device"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type logoutAllRequest struct {
	KeepCurrent bool `json:"keepCurrent"`
}

type extendRequest struct {
	TTLSeconds int64 `json:"ttlSeconds" binding:"required,min=1"`
}

type codeRequest struct {
	Code string `json:"code" binding:"required"`
}

type backupCodesRequest struct {
	Count int `json:"count"`
}

type passwordRequest struct {
	Password string `json:"password" binding:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required"`
}

type resetRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenRequest struct {
	Token string `json:"token" binding:"required"`
}

type oauthLinkRequest struct {
	Provider   string `json:"provider" binding:"required"`
	ProviderID string `json:"providerId" binding:"required"`
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

type activeRequest struct {
	Active *bool `json:"active" binding:"required"`
}

type permissionsResponse struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type userResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	FirstName     string    `json:"firstName,omitempty"`
	LastName      string    `json:"lastName,omitempty"`
	Role          string    `json:"role"`
	Active        bool      `json:"active"`
	EmailVerified bool      `json:"emailVerified"`
	OAuthProvider string    `json:"oauthProvider,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func newUserResponse(u *azauth.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		Username:      u.Username,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		Role:          string(u.Role),
		Active:        u.Active,
		EmailVerified: u.EmailVerified,
		OAuthProvider: u.OAuthProvider,
		CreatedAt:     u.CreatedAt,
	}
}
