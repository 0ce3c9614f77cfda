package domain

import (
	"strings"
	"time"
)

type Role string

const (
	RoleCashier Role = "Cashier"
	RoleManager Role = "Manager"
	RoleAdmin   Role = "Admin"
)

func (r Role) Valid() bool {
	return r == RoleCashier || r == RoleManager || r == RoleAdmin
}

type Employee struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	Role         Role      `json:"role"`
	BranchID     string    `json:"branch_id,omitempty"`
	Position     string    `json:"position,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (e Employee) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// NormalizeEmail lower-cases and trims an address; emails are unique in this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type EmployeeRequest struct {
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone"`
	Role      Role   `json:"role" validate:"required,oneof=Cashier Manager Admin"`
	BranchID  string `json:"branch_id"`
	Position  string `json:"position"`
	// Password is required on create and optional on update.
	Password string `json:"password" validate:"omitempty,min=6"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	Employee    Employee `json:"employee"`
	ExpiresAt   string   `json:"expires_at"`
}

// Actor is the authenticated employee behind a request.
type Actor struct {
	EmployeeID string `json:"employee_id"`
	Email      string `json:"email"`
	Role       Role   `json:"role"`
	BranchID   string `json:"branch_id,omitempty"`
}

// CanManage reports whether the actor may change the catalog and read reports.
func (a Actor) CanManage() bool {
	return a.Role == RoleManager || a.Role == RoleAdmin
}
