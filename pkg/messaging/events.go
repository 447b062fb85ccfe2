package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Ledger events
	EventMovementRecorded        = "ledger.movement.recorded"
	EventDestructionBatchCreated = "ledger.destruction.batch_created"
	EventStockItemExpired        = "ledger.stock_item.expired"
	EventStockItemQuarantined    = "ledger.stock_item.quarantined"
	EventStockItemReleased       = "ledger.stock_item.released"
)

// Exchange names
const (
	ExchangeLedgerEvents = "ledger.events"
	ExchangeAuditEvents  = "audit.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// AuditFact is the shape consumed by the external audit collaborator.
// Recording is best-effort: a failed publish never rolls back the
// movement transaction that produced the fact.
type AuditFact struct {
	UserID        string      `json:"user_id"`
	UserRole      string      `json:"user_role"`
	Action        string      `json:"action"`
	EntityType    string      `json:"entity_type"`
	EntityID      string      `json:"entity_id"`
	StudyID       string      `json:"study_id"`
	DetailsBefore interface{} `json:"details_before,omitempty"`
	DetailsAfter  interface{} `json:"details_after"`
}
