package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestItemRefValidate(t *testing.T) {
	med := strPtr("3b6cbe5e-6c38-4f53-8d4e-5a1f2f9a0c11")
	equ := strPtr("9d0a4f1b-2a7c-4d3e-b6a8-0c5e7f8d9a22")

	assert.NoError(t, ItemRef{MedicationID: med}.Validate())
	assert.NoError(t, ItemRef{EquipmentID: equ}.Validate())
	assert.Error(t, ItemRef{}.Validate())
	assert.Error(t, ItemRef{MedicationID: med, EquipmentID: equ}.Validate())
}

func TestReturnDestinationQuantityDelta(t *testing.T) {
	assert.Equal(t, 5, ReturnToStock.QuantityDelta(5))
	assert.Equal(t, 5, ReturnToQuarantine.QuantityDelta(5))
	assert.Equal(t, 0, ReturnForDestruction.QuantityDelta(5))
	assert.Equal(t, 0, ReturnToSponsor.QuantityDelta(5))
}

func TestReturnDestinationStatusEvent(t *testing.T) {
	assert.Equal(t, EventReturnToStock, ReturnToStock.StatusEvent())
	assert.Equal(t, EventQuarantine, ReturnToQuarantine.StatusEvent())
	assert.Equal(t, EventSponsorReturn, ReturnToSponsor.StatusEvent())
	assert.Equal(t, StatusEvent(""), ReturnForDestruction.StatusEvent())
}

func TestReturnForDestructionLeavesStatus(t *testing.T) {
	// A return earmarked for destruction must neither add stock nor move the
	// item out of its current status.
	require.Equal(t, 0, ReturnForDestruction.QuantityDelta(3))
	require.Empty(t, ReturnForDestruction.StatusEvent())
}
