package models

import "time"

// Session binds an issued refresh token to its owner. The row is the
// revocation anchor: a refresh token is trusted only while an unexpired row
// with that exact value exists.
type Session struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}
