package handler

import (
	"strings"

	"coinledger/internal/economy/models"
	"coinledger/internal/economy/service"
	id "coinledger/pkg/domain"
	dErrors "coinledger/pkg/domain-errors"
)

type CreateAccountRequest struct {
	PrincipalID string `json:"principal_id"`
	// WelcomeBonus overrides the policy default when set.
	WelcomeBonus *int64 `json:"welcome_bonus,omitempty"`

	principal id.PrincipalID
}

func (r *CreateAccountRequest) Validate() error {
	principal, err := id.ParsePrincipalID(strings.TrimSpace(r.PrincipalID))
	if err != nil {
		return err
	}
	if r.WelcomeBonus != nil && *r.WelcomeBonus < 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "welcome_bonus cannot be negative")
	}
	r.principal = principal
	return nil
}

// TipRequest transfers coins to another principal. Amount is checked by
// the transfer engine so the error code matches every other entry point.
type TipRequest struct {
	RecipientID string `json:"recipient_id"`
	Amount      int64  `json:"amount"`

	recipient id.PrincipalID
}

func (r *TipRequest) Validate() error {
	recipient, err := id.ParsePrincipalID(strings.TrimSpace(r.RecipientID))
	if err != nil {
		return err
	}
	r.recipient = recipient
	return nil
}

type PurchaseRequest struct {
	ProductID string `json:"product_id"`
	Price     int64  `json:"price"`
	Category  string `json:"category"`

	product  id.ProductID
	category models.Category
}

func (r *PurchaseRequest) Validate() error {
	product, err := id.ParseProductID(r.ProductID)
	if err != nil {
		return err
	}
	category, err := models.ParseCategory(strings.TrimSpace(r.Category))
	if err != nil {
		return err
	}
	r.product, r.category = product, category
	return nil
}

type StartSessionRequest struct {
	ResponderID string `json:"responder_id"`
	// IsPaid defaults to true; free sessions must opt out explicitly.
	IsPaid *bool `json:"is_paid,omitempty"`

	responder id.PrincipalID
}

func (r *StartSessionRequest) Validate() error {
	responder, err := id.ParsePrincipalID(strings.TrimSpace(r.ResponderID))
	if err != nil {
		return err
	}
	r.responder = responder
	return nil
}

func (r *StartSessionRequest) paid() bool {
	return r.IsPaid == nil || *r.IsPaid
}

type EndSessionRequest struct {
	Reason string `json:"reason"`

	reason models.DisconnectReason
}

func (r *EndSessionRequest) Validate() error {
	reason, err := models.ParseDisconnectReason(strings.TrimSpace(r.Reason))
	if err != nil {
		return err
	}
	r.reason = reason
	return nil
}

// VerifyPaymentRequest is the client's report of a completed gateway
// payment. Coins come from PackageID or, failing that, Amount.
type VerifyPaymentRequest struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
	PackageID string `json:"package_id,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
}

func (r *VerifyPaymentRequest) Validate() error {
	r.OrderID = strings.TrimSpace(r.OrderID)
	r.PaymentID = strings.TrimSpace(r.PaymentID)
	r.Signature = strings.TrimSpace(r.Signature)
	r.PackageID = strings.TrimSpace(r.PackageID)

	switch {
	case r.OrderID == "" || r.PaymentID == "":
		return dErrors.New(dErrors.CodeValidation, "order_id and payment_id are required")
	case strings.Contains(r.OrderID, "|") || strings.Contains(r.PaymentID, "|"):
		return dErrors.New(dErrors.CodeValidation, "order_id and payment_id cannot contain '|'")
	case r.Signature == "":
		return dErrors.New(dErrors.CodeValidation, "signature is required")
	case r.PackageID != "" && r.Amount != 0:
		return dErrors.New(dErrors.CodeValidation, "set either package_id or amount, not both")
	case r.PackageID == "" && r.Amount == 0:
		return dErrors.New(dErrors.CodeValidation, "package_id or amount is required")
	}
	return nil
}

func (r *VerifyPaymentRequest) externalRef() string {
	return service.PaymentRef(r.OrderID, r.PaymentID)
}

// coins resolves the credited amount against the package catalog.
func (r *VerifyPaymentRequest) coins(catalog []models.CoinPackage) (int64, error) {
	if r.PackageID == "" {
		return r.Amount, nil
	}
	for _, p := range catalog {
		if p.ID == r.PackageID {
			return p.Coins, nil
		}
	}
	return 0, dErrors.New(dErrors.CodeNotFound, "unknown package")
}

type ListenerRequest struct {
	IsOnline       *bool  `json:"is_online,omitempty"`
	CostPerSession *int64 `json:"cost_per_session,omitempty"`
}

func (r *ListenerRequest) Validate() error {
	if r.IsOnline == nil && r.CostPerSession == nil {
		return dErrors.New(dErrors.CodeValidation, "nothing to update")
	}
	return r.update().Validate()
}

func (r *ListenerRequest) update() models.ListenerUpdate {
	return models.ListenerUpdate{IsOnline: r.IsOnline, CostPerSession: r.CostPerSession}
}
