package models

// Operator is an account allowed to drive the monitor and read reports.
// The password hash never leaves the service layer.
type Operator struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}
