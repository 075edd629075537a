package model

import "github.com/golang-jwt/jwt/v5"

// UserClaims are the JWT claims carried by an authenticated client.
type UserClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// LoginResponse is returned on successful login or registration.
type LoginResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}
