package staff

import "time"

// Member maps to the staff table. DepartmentName is joined from department.
type Member struct {
	ID             int64     `db:"id" json:"staffId"`
	Name           string    `db:"staff_name" json:"staffName"`
	Username       string    `db:"username" json:"username"`
	PasswordHash   string    `db:"password_hash" json:"-"`
	Role           string    `db:"role" json:"role"`
	DepartmentID   *int64    `db:"department_id" json:"departmentId"`
	DepartmentName *string   `json:"departmentName"`
	IsActive       bool      `db:"is_active" json:"isActive"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Success        bool      `json:"success"`
	StaffID        int64     `json:"staffId"`
	StaffName      string    `json:"staffName"`
	Role           string    `json:"role"`
	DepartmentID   *int64    `json:"departmentId"`
	DepartmentName *string   `json:"departmentName"`
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expiresAt"`
}
