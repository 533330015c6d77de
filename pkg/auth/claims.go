package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/nftsale/market-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT. The
// subject account is the caller identity every market operation runs as.
type AccessTokenPayload struct {
	AccountID string
	Role      enums.ActorRole
	JTI       string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	AccountID string          `json:"account_id"`
	Role      enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}
