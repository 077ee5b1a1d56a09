package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Tenant invariant: ClientID must be present for all non-admin activity.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
