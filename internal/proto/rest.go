package proto

import "time"

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=32"`
	FullName string `json:"full_name" binding:"max=64"`
	Password string `json:"password" binding:"required,min=6"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token  string `json:"token"`
	UserID int64  `json:"user_id"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// User is a conversation partner with presence.
type User struct {
	ID       int64      `json:"id"`
	Username string     `json:"username"`
	FullName string     `json:"full_name,omitempty"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// EditMessageRequest replaces the text of a message.
type EditMessageRequest struct {
	Text string `json:"text"`
}

// MarkReadResponse reports how many messages were marked read.
type MarkReadResponse struct {
	Count int64 `json:"count"`
}
