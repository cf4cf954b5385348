package jwttoken

import (
	id "coinledger/pkg/domain"
	authmw "coinledger/pkg/platform/middleware/auth"
)

// JWTServiceAdapter satisfies authmw.JWTValidator.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	// ValidateToken already rejected malformed ids.
	principal, _ := id.ParsePrincipalID(claims.UserID)
	return &authmw.JWTClaims{PrincipalID: principal, TokenID: claims.ID}, nil
}
