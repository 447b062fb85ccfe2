package domain

import (
	"fmt"
	"regexp"
)

// TemplateVisit is one visit of a study's visit-schedule template.
type TemplateVisit struct {
	Code             string  `json:"code" validate:"required"`
	Day              int     `json:"day"`
	RequiresDispense bool    `json:"requires_dispense"`
	Arm              *string `json:"arm,omitempty"`
}

// CycleDefinition describes how the template repeats across treatment cycles.
type CycleDefinition struct {
	CycleLength int `json:"cycle_length" validate:"gt=0"`
	MaxCycles   int `json:"max_cycles"`
}

// GeneratedVisit is one dated visit of the expanded calendar. It is derived
// data: always recomputed from the template, never persisted.
type GeneratedVisit struct {
	Code             string  `json:"code"`
	Cycle            int     `json:"cycle"`
	Day              int     `json:"day"`
	AbsoluteDay      int     `json:"absolute_day"`
	RequiresDispense bool    `json:"requires_dispense"`
	Arm              *string `json:"arm,omitempty"`
}

// cyclePrefix matches a cycle-number prefix such as "C3" in "C3D15".
// Stripping it before re-prefixing makes expansion idempotent when a caller
// feeds back already-generated codes.
var cyclePrefix = regexp.MustCompile(`^C\d+`)

// ExpandCalendar expands a visit-schedule template across treatment cycles.
// Without a cycle definition (or with maxCycles <= 0) the template is
// returned unchanged as cycle 1. Output is cycle-major, template order
// within each cycle.
func ExpandCalendar(template []TemplateVisit, cycles *CycleDefinition) []GeneratedVisit {
	if cycles == nil || cycles.MaxCycles <= 0 {
		visits := make([]GeneratedVisit, 0, len(template))
		for _, tv := range template {
			visits = append(visits, GeneratedVisit{
				Code:             tv.Code,
				Cycle:            1,
				Day:              tv.Day,
				AbsoluteDay:      tv.Day,
				RequiresDispense: tv.RequiresDispense,
				Arm:              tv.Arm,
			})
		}
		return visits
	}

	visits := make([]GeneratedVisit, 0, len(template)*cycles.MaxCycles)
	for c := 1; c <= cycles.MaxCycles; c++ {
		for _, tv := range template {
			base := cyclePrefix.ReplaceAllString(tv.Code, "")
			visits = append(visits, GeneratedVisit{
				Code:             fmt.Sprintf("C%d%s", c, base),
				Cycle:            c,
				Day:              tv.Day,
				AbsoluteDay:      tv.Day + (c-1)*cycles.CycleLength,
				RequiresDispense: tv.RequiresDispense,
				Arm:              tv.Arm,
			})
		}
	}
	return visits
}
