package domain

import (
	"time"

	"github.com/trialstock/trialstock-backend/pkg/errors"
)

// MovementType discriminates the five movement variants. Each variant has
// its own request type below so a handler can only see the fields valid for
// its type.
type MovementType string

const (
	MovementReception    MovementType = "RECEPTION"
	MovementDispensation MovementType = "DISPENSATION"
	MovementRetour       MovementType = "RETOUR"
	MovementDestruction  MovementType = "DESTRUCTION"
	MovementTransfer     MovementType = "TRANSFER"
)

// ReturnDestination selects the state-transition branch of a return.
type ReturnDestination string

const (
	ReturnToStock       ReturnDestination = "STOCK"
	ReturnToQuarantine  ReturnDestination = "QUARANTINE"
	ReturnForDestruction ReturnDestination = "DESTRUCTION"
	ReturnToSponsor     ReturnDestination = "SPONSOR_RETURN"
)

// QuantityDelta returns how many of the returned units are re-added to
// available stock. Units earmarked for destruction or sponsor return are
// physically present but never dispensable again.
func (d ReturnDestination) QuantityDelta(quantity int) int {
	switch d {
	case ReturnToStock, ReturnToQuarantine:
		return quantity
	default:
		return 0
	}
}

// StatusEvent returns the status-machine event for the destination.
func (d ReturnDestination) StatusEvent() StatusEvent {
	switch d {
	case ReturnToStock:
		return EventReturnToStock
	case ReturnToQuarantine:
		return EventQuarantine
	case ReturnToSponsor:
		return EventSponsorReturn
	default:
		// DESTRUCTION leaves the status untouched; the later destruction
		// movement performs the transition.
		return ""
	}
}

// DestructionMethod is how a batch of units is physically destroyed.
type DestructionMethod string

const (
	MethodIncineration    DestructionMethod = "INCINERATION"
	MethodChemical        DestructionMethod = "CHEMICAL"
	MethodReturnToSponsor DestructionMethod = "RETURN_TO_SPONSOR"
	MethodOther           DestructionMethod = "OTHER"
)

// ItemRef points at exactly one medication or one piece of equipment.
type ItemRef struct {
	MedicationID *string `json:"medication_id,omitempty" validate:"omitempty,uuid"`
	EquipmentID  *string `json:"equipment_id,omitempty" validate:"omitempty,uuid"`
}

// Validate enforces the exactly-one constraint.
func (r ItemRef) Validate() error {
	if (r.MedicationID == nil) == (r.EquipmentID == nil) {
		return errors.Validation(map[string]string{
			"item": "exactly one of medication_id or equipment_id is required",
		})
	}
	return nil
}

// ReceptionRequest records a physical delivery into the pharmacy.
type ReceptionRequest struct {
	StudyID           string     `json:"study_id" validate:"required,uuid"`
	Item              ItemRef    `json:"item"`
	BatchNumber       string     `json:"batch_number" validate:"required"`
	Quantity          int        `json:"quantity" validate:"required,gt=0"`
	MovementDate      time.Time  `json:"movement_date" validate:"required"`
	ExpiryDate        *time.Time `json:"expiry_date,omitempty"`
	ManufacturingDate *time.Time `json:"manufacturing_date,omitempty"`
	StorageLocation   *string    `json:"storage_location,omitempty"`
	Notes             *string    `json:"notes,omitempty"`
}

// Validate applies the rules struct tags cannot express.
func (r ReceptionRequest) Validate() error {
	return r.Item.Validate()
}

// DispensationRequest hands units to a patient at a visit.
type DispensationRequest struct {
	StockItemID  string    `json:"stock_item_id" validate:"required,uuid"`
	Quantity     int       `json:"quantity" validate:"required,gt=0"`
	PatientID    string    `json:"patient_id" validate:"required,uuid"`
	VisitNumber  *string   `json:"visit_number,omitempty"`
	MovementDate time.Time `json:"movement_date" validate:"required"`
	Notes        *string   `json:"notes,omitempty"`
}

// ReturnRequest records units coming back from a patient.
type ReturnRequest struct {
	StockItemID  string            `json:"stock_item_id" validate:"required,uuid"`
	Quantity     int               `json:"quantity" validate:"required,gt=0"`
	PatientID    string            `json:"patient_id" validate:"required,uuid"`
	VisitNumber  *string           `json:"visit_number,omitempty"`
	ReturnReason string            `json:"return_reason" validate:"required"`
	Destination  ReturnDestination `json:"destination" validate:"required,oneof=STOCK QUARANTINE DESTRUCTION SPONSOR_RETURN"`
	MovementDate time.Time         `json:"movement_date" validate:"required"`
	Notes        *string           `json:"notes,omitempty"`
}

// DestructionRequest destroys units of a single lot.
type DestructionRequest struct {
	StockItemID     string            `json:"stock_item_id" validate:"required,uuid"`
	Quantity        int               `json:"quantity" validate:"required,gt=0"`
	Method          DestructionMethod `json:"method" validate:"required,oneof=INCINERATION CHEMICAL RETURN_TO_SPONSOR OTHER"`
	WitnessName     *string           `json:"witness_name,omitempty"`
	WitnessFunction *string           `json:"witness_function,omitempty"`
	MovementDate    time.Time         `json:"movement_date" validate:"required"`
	Notes           *string           `json:"notes,omitempty"`
}

// TransferRequest relocates units between storage locations without
// changing stock.
type TransferRequest struct {
	StockItemID  string    `json:"stock_item_id" validate:"required,uuid"`
	Quantity     int       `json:"quantity" validate:"required,gt=0"`
	FromLocation string    `json:"from_location" validate:"required"`
	ToLocation   string    `json:"to_location" validate:"required"`
	MovementDate time.Time `json:"movement_date" validate:"required"`
	Notes        *string   `json:"notes,omitempty"`
}

// DestructionBatchItem is one lot inside a batch destruction request.
type DestructionBatchItem struct {
	StockItemID  string `json:"stock_item_id" validate:"required,uuid"`
	MedicationID string `json:"medication_id" validate:"required,uuid"`
	Quantity     int    `json:"quantity" validate:"required,gt=0"`
}

// DestructionBatchRequest groups a client-approved selection of lots into
// one atomic destruction.
type DestructionBatchRequest struct {
	StudyID             string                 `json:"study_id" validate:"required,uuid"`
	Method              DestructionMethod      `json:"method" validate:"required,oneof=INCINERATION CHEMICAL RETURN_TO_SPONSOR OTHER"`
	DestructionDate     *time.Time             `json:"destruction_date,omitempty"`
	DestructionLocation *string                `json:"destruction_location,omitempty"`
	WitnessName         *string                `json:"witness_name,omitempty"`
	WitnessFunction     *string                `json:"witness_function,omitempty"`
	Notes               *string                `json:"notes,omitempty"`
	Items               []DestructionBatchItem `json:"items" validate:"required,min=1,dive"`
}
