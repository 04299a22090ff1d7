// Package audit provides the append-only transition event log and its
// WebSocket fan-out to external subscribers.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/emohunter/incentive-engine/internal/metrics"
)

// EventType names a state transition in the engine.
type EventType string

const (
	EventDeposit           EventType = "treasury.deposit"
	EventProposalSubmitted EventType = "proposal.submitted"
	EventProposalSigned    EventType = "proposal.signed"
	EventProposalExecuted  EventType = "proposal.executed"
	EventSessionStarted    EventType = "session.started"
	EventEmotionRecorded   EventType = "session.emotion"
	EventSessionEnded      EventType = "session.ended"
	EventRewardClaimed     EventType = "reward.claimed"
	EventGovernanceCreated EventType = "governance.created"
	EventGovernanceVoted   EventType = "governance.voted"
	EventGovernanceApplied EventType = "governance.applied"
	EventBackendAuthorized EventType = "backend.authorized"
	EventBackendRevoked    EventType = "backend.revoked"
)

// Event is one immutable audit record. Amount is a decimal string in the
// asset's smallest unit; zero-value fields are omitted from the wire form.
type Event struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	Actor    string    `json:"actor,omitempty"`
	User     string    `json:"user,omitempty"`
	EntityID uint64    `json:"entity_id,omitempty"`
	Asset    string    `json:"asset,omitempty"`
	Amount   string    `json:"amount,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Time     time.Time `json:"time"`
}

// Appender persists audit events. Implemented by the store.
type Appender interface {
	AppendAuditEvent(ctx context.Context, ev Event) error
}

// Log sequences, persists, and broadcasts audit events.
type Log struct {
	appender Appender
	hub      *Hub
}

// NewLog creates an audit log writing through appender and fanning out via hub.
func NewLog(appender Appender, hub *Hub) *Log {
	return &Log{appender: appender, hub: hub}
}

// Emit records one transition. The financial operation has already committed
// when Emit runs; append failures are logged, never propagated.
func (l *Log) Emit(ctx context.Context, ev Event) {
	ev.ID = uuid.NewString()
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	metrics.Transitions.WithLabelValues(string(ev.Type)).Inc()

	if l.appender != nil {
		if err := l.appender.AppendAuditEvent(ctx, ev); err != nil {
			slog.Error("Failed to append audit event", "type", ev.Type, "error", err)
		}
	}
	if l.hub != nil {
		l.hub.Broadcast(ev)
	}
}
