package user

import (
	"time"

	"homepro/internal/account"
	"homepro/internal/auth"
)

type User struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         auth.Role `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// principal is what the user's tokens carry. The user id doubles as the id of
// the account opened at registration.
func (u *User) principal() auth.Principal {
	return auth.Principal{AccountID: u.ID, Email: u.Email, Role: u.Role}
}

type RegisterRequest struct {
	Name              string `json:"name" binding:"required,min=2,max=100"`
	Email             string `json:"email" binding:"required,email"`
	Password          string `json:"password" binding:"required,min=8"`
	PrimaryCategory   string `json:"primary_category" binding:"required,max=100"`
	PaymentCustomerID string `json:"payment_customer_id,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	User         User              `json:"user"`
	Account      *account.Snapshot `json:"account,omitempty"`
}
