package types

import (
	"slices"
	"time"
)

// PendingStatus is the lifecycle state of a PendingIntent.
type PendingStatus string

const (
	PendingWaiting   PendingStatus = "waiting"
	PendingCompleted PendingStatus = "completed"
	PendingExpired   PendingStatus = "expired"
)

// PendingIntent is a suspended resolution awaiting user input for one
// (user, channel) key.
type PendingIntent struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	ChannelID string        `json:"channel_id"`
	Spec      *IntentSpec   `json:"spec"`
	Missing   []Field       `json:"missing"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	Status    PendingStatus `json:"status"`

	// Candidates are the intents offered by a clarification, in prompt order.
	Candidates []Intent `json:"candidates,omitempty"`
	// MaxIndex is the list size that was in view when the session began.
	MaxIndex int `json:"max_index,omitempty"`
}

// Expired reports whether the session has passed its expiry at now.
func (p *PendingIntent) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Clone returns a deep copy of p.
func (p *PendingIntent) Clone() *PendingIntent {
	if p == nil {
		return nil
	}
	c := *p
	c.Spec = p.Spec.Clone()
	c.Missing = slices.Clone(p.Missing)
	c.Candidates = slices.Clone(p.Candidates)
	return &c
}
