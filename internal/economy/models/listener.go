package models

import (
	"time"

	id "coinledger/pkg/domain"
	dErrors "coinledger/pkg/domain-errors"
)

// ListenerProfile is the availability lock and pricing for a responder.
// IsBusy is true exactly while the responder is attached to an open session.
type ListenerProfile struct {
	PrincipalID        id.PrincipalID `json:"principal_id"`
	IsOnline           bool           `json:"is_online"`
	IsBusy             bool           `json:"is_busy"`
	CostPerSession     int64          `json:"cost_per_session"`
	TotalListenMinutes int64          `json:"total_listen_minutes"`
	ChatsCompleted     int64          `json:"chats_completed"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// SessionCost returns the configured cost, or fallback when none was set.
func (p *ListenerProfile) SessionCost(fallback int64) int64 {
	if p.CostPerSession > 0 {
		return p.CostPerSession
	}
	return fallback
}

// CanAccept checks that the responder may be attached to a new session.
func (p *ListenerProfile) CanAccept() error {
	if !p.IsOnline {
		return dErrors.New(dErrors.CodeResponderUnavailable, "listener is offline")
	}
	if p.IsBusy {
		return dErrors.New(dErrors.CodeResponderUnavailable, "listener is busy")
	}
	return nil
}

func (p *ListenerProfile) ApplyLock(now time.Time) {
	p.IsBusy = true
	p.UpdatedAt = now
}

// ApplyRelease frees the responder. When counted, the session's minutes and
// a completed chat are added to the stats.
func (p *ListenerProfile) ApplyRelease(minutes int64, counted bool, now time.Time) {
	p.IsBusy = false
	if counted {
		p.TotalListenMinutes += minutes
		p.ChatsCompleted++
	}
	p.UpdatedAt = now
}

// ListenerUpdate carries the fields a responder may set on their own profile.
type ListenerUpdate struct {
	IsOnline       *bool
	CostPerSession *int64
}

func (u ListenerUpdate) Validate() error {
	if u.CostPerSession != nil && *u.CostPerSession < 0 {
		return dErrors.New(dErrors.CodeInvalidAmount, "cost_per_session cannot be negative")
	}
	return nil
}

// ApplyUpdate merges u into the profile. Busy state is never set here.
func (p *ListenerProfile) ApplyUpdate(u ListenerUpdate, now time.Time) {
	if u.IsOnline != nil {
		p.IsOnline = *u.IsOnline
	}
	if u.CostPerSession != nil {
		p.CostPerSession = *u.CostPerSession
	}
	p.UpdatedAt = now
}
