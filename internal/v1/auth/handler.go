package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/liveroom/liveroom/internal/v1/types"
)

// JWTHandler adapts a TokenValidator to the types.AuthHandler the
// transport layer consumes. The token is read from the "token" query
// parameter or, for browser clients that cannot set headers, from the
// Sec-WebSocket-Protocol list alongside the "access_token" marker.
type JWTHandler struct {
	validator TokenValidator
}

// NewJWTHandler wraps a validator as an upgrade-time auth handler.
func NewJWTHandler(validator TokenValidator) *JWTHandler {
	return &JWTHandler{validator: validator}
}

// Authenticate extracts and validates the upgrade token. A missing or
// invalid token rejects the connection before the protocol handshake.
func (h *JWTHandler) Authenticate(r *http.Request) (*types.AuthResult, error) {
	token := extractToken(r)
	if token == "" {
		return nil, fmt.Errorf("token not provided")
	}

	claims, err := h.validator.ValidateToken(token)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	return &types.AuthResult{
		UserID:      types.UserIDType(claims.Subject),
		DisplayName: types.DisplayNameType(displayNameFromClaims(claims)),
	}, nil
}

// extractToken checks the token query parameter first, then each entry
// of the Sec-WebSocket-Protocol header, skipping the "access_token"
// marker value.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	headerVal := r.Header.Get("Sec-WebSocket-Protocol")
	for _, p := range strings.Split(headerVal, ",") {
		p = strings.TrimSpace(p)
		if p == "" || p == "access_token" {
			continue
		}
		return p
	}
	return ""
}

// displayNameFromClaims picks the friendliest available identity field:
// profile name, then email local part, then the raw subject.
func displayNameFromClaims(claims *CustomClaims) string {
	if claims.Name != "" {
		return claims.Name
	}
	if claims.Email != "" {
		if parts := strings.Split(claims.Email, "@"); len(parts) > 0 && parts[0] != "" {
			return parts[0]
		}
	}
	return claims.Subject
}
