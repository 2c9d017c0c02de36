package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Slot names one of the component documents owned by a build.
type Slot string

const (
	SlotEngineInternals      Slot = "engine_internals"
	SlotSuspension           Slot = "suspension"
	SlotTiresWheels          Slot = "tires_wheels"
	SlotRearDifferential     Slot = "rear_differential"
	SlotTransmission         Slot = "transmission"
	SlotFrame                Slot = "frame"
	SlotCabInterior          Slot = "cab_interior"
	SlotBrakes               Slot = "brakes"
	SlotAdditionalComponents Slot = "additional_components"
)

// Slots lists every component slot in storage order.
var Slots = []Slot{
	SlotEngineInternals,
	SlotSuspension,
	SlotTiresWheels,
	SlotRearDifferential,
	SlotTransmission,
	SlotFrame,
	SlotCabInterior,
	SlotBrakes,
	SlotAdditionalComponents,
}

const slotColumnSuffix = "_json"

// MaxSlotBytes caps the encoded size of a single component document.
const MaxSlotBytes = 1 << 20

// ParseSlot accepts the slot name, its column spelling ("suspension_json") or the
// hyphenated URL form ("tires-wheels").
func ParseSlot(name string) (Slot, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.TrimSuffix(normalized, slotColumnSuffix)
	for _, slot := range Slots {
		if string(slot) == normalized {
			return slot, nil
		}
	}
	return "", fmt.Errorf("%w: unknown component slot %q", ErrInvalidInput, name)
}

// Column returns the database column holding the slot document.
func (s Slot) Column() string {
	return string(s) + slotColumnSuffix
}

func (s Slot) String() string {
	return string(s)
}

// SlotSet holds one document per slot. A missing key and an absent document mean the same thing.
type SlotSet map[Slot]Document

// Get returns the document stored for slot, absent when none is set.
func (s SlotSet) Get(slot Slot) Document {
	if s == nil {
		return Document{}
	}
	return s[slot]
}

// Clone returns a deep copy containing an entry for every slot.
func (s SlotSet) Clone() SlotSet {
	out := make(SlotSet, len(Slots))
	for _, slot := range Slots {
		out[slot] = s.Get(slot).Clone()
	}
	return out
}

// Equal reports whether every slot holds the same document in both sets.
func (s SlotSet) Equal(other SlotSet) bool {
	for _, slot := range Slots {
		if !s.Get(slot).Equal(other.Get(slot)) {
			return false
		}
	}
	return true
}

// MarshalJSON writes every slot, using null for absent documents.
func (s SlotSet) MarshalJSON() ([]byte, error) {
	out := make(map[string]Document, len(Slots))
	for _, slot := range Slots {
		out[string(slot)] = s.Get(slot)
	}
	return json.Marshal(out)
}
