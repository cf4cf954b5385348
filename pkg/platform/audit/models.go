package audit

import (
	"time"

	"github.com/google/uuid"

	id "coinledger/pkg/domain"
)

// EventCategory classifies audit events for routing and retention.
type EventCategory string

const (
	// CategoryFinancial covers every committed movement of coins. These are
	// written through the transactional outbox so they exist iff the
	// movement committed.
	CategoryFinancial EventCategory = "financial"

	// CategorySecurity covers rejected payment callbacks and admin actions.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers availability and profile changes.
	CategoryOperations EventCategory = "operations"
)

type AuditEvent string

const (
	EventAccountCreated       AuditEvent = "account_created"
	EventTreasuryBootstrapped AuditEvent = "treasury_bootstrapped"
	EventTipSent              AuditEvent = "tip_sent"
	EventPurchaseCompleted    AuditEvent = "purchase_completed"
	EventTopUpCredited        AuditEvent = "topup_credited"
	EventTopUpReplayed        AuditEvent = "topup_replayed"
	EventSessionStarted       AuditEvent = "session_started"
	EventSessionPaidOut       AuditEvent = "session_paid_out"
	EventSessionRefunded      AuditEvent = "session_refunded"
	EventSessionCompleted     AuditEvent = "session_completed"
	EventSignatureRejected    AuditEvent = "payment_signature_rejected"
	EventSessionTimedOut      AuditEvent = "session_timed_out"
	EventListenerUpdated      AuditEvent = "listener_updated"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventAccountCreated:       CategoryFinancial,
	EventTreasuryBootstrapped: CategoryFinancial,
	EventTipSent:              CategoryFinancial,
	EventPurchaseCompleted:    CategoryFinancial,
	EventTopUpCredited:        CategoryFinancial,
	EventSessionStarted:       CategoryFinancial,
	EventSessionPaidOut:       CategoryFinancial,
	EventSessionRefunded:      CategoryFinancial,

	EventSignatureRejected: CategorySecurity,
	EventSessionTimedOut:   CategorySecurity,

	EventTopUpReplayed:    CategoryOperations,
	EventSessionCompleted: CategoryOperations,
	EventListenerUpdated:  CategoryOperations,
}

// Category returns the category for this event. Unknown events default to
// CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is emitted from the economy service. It stays transport-agnostic so
// the outbox, the log and Kafka all carry the same shape.
type Event struct {
	ID           uuid.UUID      `json:"id"`
	Category     EventCategory  `json:"category"`
	Action       string         `json:"action"`
	Timestamp    time.Time      `json:"timestamp"`
	PrincipalID  id.PrincipalID `json:"principal_id"`
	Counterparty string         `json:"counterparty,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	Amount       int64          `json:"amount,omitempty"`
	Fee          int64          `json:"fee,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	ExternalRef  string         `json:"external_ref,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	ActorID      string         `json:"actor_id,omitempty"`
}

// Normalize fills the id, category and timestamp when they were left empty.
func (e *Event) Normalize(now time.Time) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Category == "" {
		e.Category = AuditEvent(e.Action).Category()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
}

// AggregateKey is the partitioning key for the event stream. Events about
// the same principal stay ordered.
func (e Event) AggregateKey() string {
	if !e.PrincipalID.IsNil() {
		return e.PrincipalID.String()
	}
	return e.ID.String()
}
