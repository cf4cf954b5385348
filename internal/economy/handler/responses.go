package handler

import (
	"time"

	"coinledger/internal/economy/models"
	id "coinledger/pkg/domain"
)

type AccountResponse struct {
	PrincipalID    id.PrincipalID `json:"principal_id"`
	Balance        int64          `json:"balance"`
	LifetimeEarned int64          `json:"lifetime_earned"`
	CreatedAt      time.Time      `json:"created_at"`
}

func toAccountResponse(a *models.Account) AccountResponse {
	return AccountResponse{
		PrincipalID:    a.ID,
		Balance:        a.Balance,
		LifetimeEarned: a.LifetimeEarned,
		CreatedAt:      a.CreatedAt,
	}
}

type PackagesResponse struct {
	Packages []models.CoinPackage `json:"packages"`
}
