package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandCalendar_TwoCycles(t *testing.T) {
	template := []TemplateVisit{
		{Code: "D1", Day: 1, RequiresDispense: true},
		{Code: "D8", Day: 8},
	}

	visits := ExpandCalendar(template, &CycleDefinition{CycleLength: 21, MaxCycles: 2})
	require.Len(t, visits, 4)

	assert.Equal(t, "C1D1", visits[0].Code)
	assert.Equal(t, 1, visits[0].AbsoluteDay)
	assert.True(t, visits[0].RequiresDispense)

	assert.Equal(t, "C1D8", visits[1].Code)
	assert.Equal(t, 8, visits[1].AbsoluteDay)

	assert.Equal(t, "C2D1", visits[2].Code)
	assert.Equal(t, 22, visits[2].AbsoluteDay)
	assert.Equal(t, 2, visits[2].Cycle)

	assert.Equal(t, "C2D8", visits[3].Code)
	assert.Equal(t, 29, visits[3].AbsoluteDay)
}

func TestExpandCalendar_NoCycleDefinition(t *testing.T) {
	template := []TemplateVisit{
		{Code: "SCREENING", Day: -14},
		{Code: "D1", Day: 1},
	}

	for _, cycles := range []*CycleDefinition{nil, {CycleLength: 21, MaxCycles: 0}} {
		visits := ExpandCalendar(template, cycles)
		require.Len(t, visits, 2)
		assert.Equal(t, "SCREENING", visits[0].Code)
		assert.Equal(t, -14, visits[0].AbsoluteDay)
		assert.Equal(t, 1, visits[0].Cycle)
		assert.Equal(t, "D1", visits[1].Code)
	}
}

func TestExpandCalendar_Idempotent(t *testing.T) {
	stripped := []TemplateVisit{{Code: "D1", Day: 1}, {Code: "D8", Day: 8}}
	prefixed := []TemplateVisit{{Code: "C1D1", Day: 1}, {Code: "C4D8", Day: 8}}
	cycles := &CycleDefinition{CycleLength: 28, MaxCycles: 3}

	assert.Equal(t, ExpandCalendar(stripped, cycles), ExpandCalendar(prefixed, cycles))
}

func TestExpandCalendar_CarriesArm(t *testing.T) {
	arm := "A"
	template := []TemplateVisit{{Code: "D1", Day: 1, Arm: &arm}}

	visits := ExpandCalendar(template, &CycleDefinition{CycleLength: 14, MaxCycles: 2})
	require.Len(t, visits, 2)
	for _, v := range visits {
		require.NotNil(t, v.Arm)
		assert.Equal(t, "A", *v.Arm)
	}
}

func TestExpandCalendar_EmptyTemplate(t *testing.T) {
	assert.Empty(t, ExpandCalendar(nil, &CycleDefinition{CycleLength: 21, MaxCycles: 2}))
	assert.Empty(t, ExpandCalendar(nil, nil))
}
