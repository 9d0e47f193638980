// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data. Go favours composition over inheritance.
package model

import "time"

// User represents a registered Jamflow account.
//
// Identity (passwords, sessions, token issuance) lives in Supabase. We still keep
// our own row with an internal xid so chats reference a key we control. AuthID is the
// Supabase subject (a UUID) and is UNIQUE: one Supabase identity maps to exactly one
// Jamflow account.
type User struct {
	ID        string    `json:"id"        db:"id"`
	AuthID    string    `json:"-"         db:"auth_id"`  // Supabase "sub" claim
	Username  string    `json:"username"  db:"username"` // unique, chosen at signup
	Email     string    `json:"email"     db:"email"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
