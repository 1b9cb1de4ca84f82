package auth

import "time"

// User is the domain representation of an authenticated account. It
// mirrors the users table and carries no JSON annotations so it can be
// reused by different presentation layers. Capabilities are granted
// separately through role grants, not stored on the user row.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
