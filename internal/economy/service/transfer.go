package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"coinledger/internal/economy/models"
	id "coinledger/pkg/domain"
	dErrors "coinledger/pkg/domain-errors"
	audit "coinledger/pkg/platform/audit"
	"coinledger/pkg/platform/sentinel"
	"coinledger/pkg/requestcontext"
)

const topUpClaimTTL = 30 * time.Second

// errReceiptRace is returned from a top-up unit when a concurrent request
// stored the receipt first; the caller re-reads it in a fresh unit.
var errReceiptRace = errors.New("payment receipt created concurrently")

// Tip moves amount from sender to recipient. The platform fee is skimmed to
// the treasury; the recipient receives the net and earns it.
func (s *Service) Tip(ctx context.Context, sender, recipient id.PrincipalID, amount int64) (result *models.TipResult, err error) {
	ctx, finish := s.begin(ctx, "tip",
		attribute.String("sender_id", sender.String()),
		attribute.String("recipient_id", recipient.String()),
		attribute.Int64("amount", amount),
	)
	defer finish(&err)

	if amount <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "tip amount must be positive")
	}
	if sender == recipient {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "cannot tip yourself")
	}
	if sender.IsTreasury() || recipient.IsTreasury() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "treasury cannot take part in tips")
	}

	split := s.commission.Split(amount)
	now := requestcontext.Now(ctx)
	var posted []*models.LedgerEntry
	err = s.runInTx(ctx, "tip", func(ctx context.Context, stores Stores) error {
		posted = posted[:0]
		accts, err := lockAccounts(ctx, stores, sender, recipient, id.TreasuryID)
		if err != nil {
			return err
		}
		from, to, treasury := accts[sender], accts[recipient], accts[id.TreasuryID]

		if err := from.Adjust(-amount, 0, now); err != nil {
			return err
		}
		if err := to.Adjust(split.Net, split.Net, now); err != nil {
			return err
		}
		if err := treasury.Adjust(split.Fee, 0, now); err != nil {
			return err
		}
		if err := save(ctx, stores, from, to, treasury); err != nil {
			return err
		}

		specs := []models.EntrySpec{{
			Account:      sender,
			Amount:       -amount,
			Kind:         models.EntryKindTipSent,
			Counterparty: principalPtr(recipient),
			Description:  fmt.Sprintf("Tip sent to %s", recipient),
		}}
		if split.Net > 0 {
			specs = append(specs, models.EntrySpec{
				Account:      recipient,
				Amount:       split.Net,
				Kind:         models.EntryKindTipReceived,
				Counterparty: principalPtr(sender),
				Description:  fmt.Sprintf("Tip received from %s", sender),
			})
		}
		if split.Fee > 0 {
			specs = append(specs, models.EntrySpec{
				Account:      id.TreasuryID,
				Amount:       split.Fee,
				Kind:         models.EntryKindTipReceived,
				Counterparty: principalPtr(sender),
				Description:  fmt.Sprintf("Platform fee (%s) on tip from %s", s.commission.Percent(), sender),
			})
		}
		for _, spec := range specs {
			if _, err := post(ctx, stores, spec, now, &posted); err != nil {
				return err
			}
		}

		result = &models.TipResult{NewSenderBalance: from.Balance, Fee: split.Fee, Net: split.Net}
		return recordOutbox(ctx, stores, audit.Event{
			Action:       string(audit.EventTipSent),
			PrincipalID:  sender,
			Counterparty: recipient.String(),
			Amount:       amount,
			Fee:          split.Fee,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	s.observeEntries(posted)
	s.logAudit(ctx, audit.EventTipSent,
		"principal_id", sender.String(),
		"counterparty", recipient.String(),
		"amount", amount,
		"fee", split.Fee,
	)
	return result, nil
}

// Purchase buys a product with coins. The full price goes to the treasury;
// no commission applies.
func (s *Service) Purchase(ctx context.Context, buyer id.PrincipalID, product id.ProductID, price int64, category models.Category) (result *models.PurchaseResult, err error) {
	ctx, finish := s.begin(ctx, "purchase",
		attribute.String("principal_id", buyer.String()),
		attribute.String("product_id", product.String()),
		attribute.Int64("price", price),
	)
	defer finish(&err)

	if price <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "price must be positive")
	}
	if _, err := models.ParseCategory(string(category)); err != nil {
		return nil, err
	}
	if _, err := id.ParseProductID(product.String()); err != nil {
		return nil, err
	}
	if buyer.IsTreasury() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "treasury cannot make purchases")
	}

	now := requestcontext.Now(ctx)
	var posted []*models.LedgerEntry
	err = s.runInTx(ctx, "purchase", func(ctx context.Context, stores Stores) error {
		posted = posted[:0]
		accts, err := lockAccounts(ctx, stores, buyer, id.TreasuryID)
		if err != nil {
			return err
		}
		// Ownership is checked after the buyer row is locked, so a duplicate
		// submission sees the first one's write.
		inv, err := stores.Inventory.Find(ctx, buyer)
		if err != nil {
			return storeErr(err, "inventory not found", "failed to load inventory")
		}
		if err := inv.CanAdd(category, product); err != nil {
			return err
		}

		from, treasury := accts[buyer], accts[id.TreasuryID]
		if err := from.Adjust(-price, 0, now); err != nil {
			return err
		}
		if err := treasury.Adjust(price, 0, now); err != nil {
			return err
		}
		if err := save(ctx, stores, from, treasury); err != nil {
			return err
		}
		if err := stores.Inventory.Add(ctx, buyer, category, product, now); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.New(dErrors.CodeAlreadyOwned, "you already own this item")
			}
			return storeErr(err, "inventory not found", "failed to update inventory")
		}
		inv.ApplyAdd(category, product)

		for _, spec := range []models.EntrySpec{
			{
				Account:      buyer,
				Amount:       -price,
				Kind:         models.EntryKindStorePurchase,
				Counterparty: principalPtr(id.TreasuryID),
				Description:  fmt.Sprintf("Purchased %s (%s)", product, category),
			},
			{
				Account:      id.TreasuryID,
				Amount:       price,
				Kind:         models.EntryKindStorePurchase,
				Counterparty: principalPtr(buyer),
				Description:  fmt.Sprintf("Store sale of %s", product),
			},
		} {
			if _, err := post(ctx, stores, spec, now, &posted); err != nil {
				return err
			}
		}

		result = &models.PurchaseResult{
			NewBalance: from.Balance,
			Category:   category,
			Owned:      inv.Owned(category),
		}
		return recordOutbox(ctx, stores, audit.Event{
			Action:      string(audit.EventPurchaseCompleted),
			PrincipalID: buyer,
			Amount:      price,
			ExternalRef: product.String(),
		}, now)
	})
	if err != nil {
		return nil, err
	}

	s.observeEntries(posted)
	s.logAudit(ctx, audit.EventPurchaseCompleted,
		"principal_id", buyer.String(),
		"product_id", product.String(),
		"category", string(category),
		"amount", price,
	)
	return result, nil
}

// PaymentSignature computes the gateway signature for externalRef.
func PaymentSignature(secret []byte, externalRef string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(externalRef))
	return hex.EncodeToString(mac.Sum(nil))
}

// PaymentRef joins gateway identifiers into the signed external reference.
func PaymentRef(orderID, paymentID string) string {
	return orderID + "|" + paymentID
}

// VerifyAndTopUp checks the gateway signature over externalRef and credits
// the account. A bad signature credits nothing.
func (s *Service) VerifyAndTopUp(ctx context.Context, externalRef, signature string, principal id.PrincipalID, amount int64) (result *models.TopUpResult, err error) {
	ctx, finish := s.begin(ctx, "verify_top_up",
		attribute.String("principal_id", principal.String()),
		attribute.String("external_ref", externalRef),
		attribute.Int64("amount", amount),
	)
	defer finish(&err)

	if len(s.cfg.PaymentSecret) == 0 {
		return nil, dErrors.New(dErrors.CodeInternal, "payment verification is not configured")
	}
	if strings.TrimSpace(externalRef) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "external reference is required")
	}

	expected, _ := hex.DecodeString(PaymentSignature(s.cfg.PaymentSecret, externalRef))
	given, decodeErr := hex.DecodeString(strings.TrimSpace(signature))
	if decodeErr != nil || !hmac.Equal(expected, given) {
		if s.metrics != nil {
			s.metrics.IncrementSignatureRejected()
		}
		s.logAudit(ctx, audit.EventSignatureRejected,
			"principal_id", principal.String(),
			"external_ref", externalRef,
			"amount", amount,
		)
		return nil, dErrors.New(dErrors.CodeInvalidSignature, "payment signature verification failed")
	}
	return s.TopUp(ctx, principal, amount, externalRef)
}

// replayRecord is the cached outcome of a finished top-up.
type replayRecord struct {
	Account    id.PrincipalID `json:"account_id"`
	Amount     int64          `json:"amount"`
	NewBalance int64          `json:"new_balance"`
}

// TopUp credits a verified external payment. It is idempotent on externalRef:
// a replay returns the original outcome with Replayed set.
func (s *Service) TopUp(ctx context.Context, principal id.PrincipalID, amount int64, externalRef string) (result *models.TopUpResult, err error) {
	ctx, finish := s.begin(ctx, "top_up",
		attribute.String("principal_id", principal.String()),
		attribute.String("external_ref", externalRef),
		attribute.Int64("amount", amount),
	)
	defer finish(&err)

	if amount <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "top-up amount must be positive")
	}
	if principal.IsTreasury() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "treasury cannot be topped up")
	}

	if cached, ok := s.lookupReplay(ctx, externalRef); ok {
		return s.replayed(ctx, principal, externalRef, cached)
	}
	if s.replay != nil {
		claimed, claimErr := s.replay.Claim(ctx, claimKey(externalRef), topUpClaimTTL)
		switch {
		case claimErr != nil:
			s.logger.WarnContext(ctx, "replay cache claim failed", "external_ref", externalRef, "error", claimErr)
		case !claimed:
			return nil, dErrors.New(dErrors.CodeConcurrencyConflict, "top-up already in progress")
		default:
			defer func() {
				if relErr := s.replay.Release(context.WithoutCancel(ctx), claimKey(externalRef)); relErr != nil {
					s.logger.WarnContext(ctx, "replay cache release failed", "external_ref", externalRef, "error", relErr)
				}
			}()
		}
	}

	now := requestcontext.Now(ctx)
	var (
		posted   []*models.LedgerEntry
		existing *models.PaymentReceipt
	)
	err = s.runInTx(ctx, "top-up", func(ctx context.Context, stores Stores) error {
		posted = posted[:0]
		existing = nil
		receipt, err := stores.Receipts.FindByRef(ctx, externalRef)
		if err == nil {
			existing = receipt
			return nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return storeErr(err, "receipt not found", "failed to load payment receipt")
		}

		acct, err := adjust(ctx, stores, principal, amount, 0, now)
		if err != nil {
			return err
		}
		entry, err := post(ctx, stores, models.EntrySpec{
			Account:     principal,
			Amount:      amount,
			Kind:        models.EntryKindTopUp,
			Description: fmt.Sprintf("Top-up of %d coins", amount),
			ExternalRef: externalRef,
		}, now, &posted)
		if err != nil {
			return err
		}
		if err := stores.Receipts.Create(ctx, &models.PaymentReceipt{
			ExternalRef: externalRef,
			Account:     principal,
			Amount:      amount,
			EntryID:     entry.ID,
			NewBalance:  acct.Balance,
			CreatedAt:   now,
		}); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return errReceiptRace
			}
			return storeErr(err, "receipt not found", "failed to store payment receipt")
		}

		result = &models.TopUpResult{NewBalance: acct.Balance, Credited: amount}
		return recordOutbox(ctx, stores, audit.Event{
			Action:      string(audit.EventTopUpCredited),
			PrincipalID: principal,
			Amount:      amount,
			ExternalRef: externalRef,
		}, now)
	})
	if errors.Is(err, errReceiptRace) {
		existing, err = s.findReceipt(ctx, externalRef)
	}
	if err != nil {
		return nil, err
	}
	if existing != nil {
		rec := replayRecord{Account: existing.Account, Amount: existing.Amount, NewBalance: existing.NewBalance}
		s.rememberReplay(ctx, externalRef, rec)
		return s.replayed(ctx, principal, externalRef, rec)
	}

	s.rememberReplay(ctx, externalRef, replayRecord{Account: principal, Amount: amount, NewBalance: result.NewBalance})
	s.observeEntries(posted)
	s.logAudit(ctx, audit.EventTopUpCredited,
		"principal_id", principal.String(),
		"external_ref", externalRef,
		"amount", amount,
	)
	return result, nil
}

func (s *Service) findReceipt(ctx context.Context, externalRef string) (*models.PaymentReceipt, error) {
	var receipt *models.PaymentReceipt
	err := s.runInTx(ctx, "top-up", func(ctx context.Context, stores Stores) error {
		r, err := stores.Receipts.FindByRef(ctx, externalRef)
		if err != nil {
			return storeErr(err, "receipt not found", "failed to load payment receipt")
		}
		receipt = r
		return nil
	})
	return receipt, err
}

// replayed answers a repeated top-up from its recorded outcome. A reference
// already credited to a different account is a conflict, not a replay.
func (s *Service) replayed(ctx context.Context, principal id.PrincipalID, externalRef string, rec replayRecord) (*models.TopUpResult, error) {
	if rec.Account != principal {
		return nil, dErrors.New(dErrors.CodeConflict, "payment reference already used")
	}
	s.logAudit(ctx, audit.EventTopUpReplayed,
		"principal_id", principal.String(),
		"external_ref", externalRef,
		"amount", rec.Amount,
	)
	return &models.TopUpResult{NewBalance: rec.NewBalance, Credited: rec.Amount, Replayed: true}, nil
}

func claimKey(externalRef string) string  { return "topup:claim:" + externalRef }
func resultKey(externalRef string) string { return "topup:result:" + externalRef }

// lookupReplay consults the replay cache. Cache failures fall through to the
// receipt table, which stays authoritative.
func (s *Service) lookupReplay(ctx context.Context, externalRef string) (replayRecord, bool) {
	var rec replayRecord
	if s.replay == nil {
		return rec, false
	}
	raw, found, err := s.replay.Lookup(ctx, resultKey(externalRef))
	if err != nil {
		s.logger.WarnContext(ctx, "replay cache lookup failed", "external_ref", externalRef, "error", err)
		return rec, false
	}
	if !found {
		return rec, false
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.logger.WarnContext(ctx, "discarding corrupt replay record", "external_ref", externalRef, "error", err)
		return rec, false
	}
	return rec, true
}

func (s *Service) rememberReplay(ctx context.Context, externalRef string, rec replayRecord) {
	if s.replay == nil {
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.replay.Remember(context.WithoutCancel(ctx), resultKey(externalRef), raw, s.cfg.ReplayTTL); err != nil {
		s.logger.WarnContext(ctx, "replay cache remember failed", "external_ref", externalRef, "error", err)
	}
}
