// Package events publishes ledger domain events and audit facts.
package events

import (
	"context"

	"github.com/trialstock/trialstock-backend/pkg/actor"
	"github.com/trialstock/trialstock-backend/pkg/logger"
	"github.com/trialstock/trialstock-backend/pkg/messaging"
)

// EventPublisher is the subset of the messaging publisher the ledger needs.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// AuditPublisher emits audit facts and ledger events after movements
// commit. Publishing is best-effort: failures are logged and never surface
// to the caller, so a broker outage cannot undo a committed movement.
type AuditPublisher struct {
	ledger EventPublisher
	audit  EventPublisher
	logger *logger.Logger
}

// NewAuditPublisher creates an audit publisher. Either publisher may be nil,
// in which case its events are dropped.
func NewAuditPublisher(ledger, audit EventPublisher, log *logger.Logger) *AuditPublisher {
	return &AuditPublisher{
		ledger: ledger,
		audit:  audit,
		logger: log,
	}
}

// LedgerEvent publishes a domain event on the ledger exchange.
func (p *AuditPublisher) LedgerEvent(ctx context.Context, eventType string, data interface{}) {
	if p == nil || p.ledger == nil {
		return
	}
	if err := p.ledger.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).
			Str("event_type", eventType).
			Msg("failed to publish ledger event")
	}
}

// AuditFact publishes an audit fact attributed to the acting user.
func (p *AuditPublisher) AuditFact(ctx context.Context, action, entityType, entityID, studyID string, before, after interface{}) {
	if p == nil || p.audit == nil {
		return
	}

	act := actor.FromContext(ctx)
	if act == nil {
		act = actor.SystemActor()
	}
	fact := messaging.AuditFact{
		UserID:        act.ID,
		UserRole:      act.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		StudyID:       studyID,
		DetailsBefore: before,
		DetailsAfter:  after,
	}

	if err := p.audit.Publish(ctx, "audit.fact.recorded", fact); err != nil {
		p.logger.Error().Err(err).
			Str("action", action).
			Str("entity_id", entityID).
			Msg("failed to publish audit fact")
	}
}
