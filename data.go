// Package main - data.go
//
// This file defines the core data structures shared by the detection and
// decision pipeline.
//
// Major Data Categories:
//
// 1. Slot Model:
//    - SlotState: per-slot readiness enumeration
//    - SlotLayout: static pixel geometry of one slot inside the capture box
//    - SlotSnapshot: analyzed state of one slot for one cycle
//
// 2. Priority Model:
//    - PriorityItem: one entry of a priority list (slot or manual action)
//    - ManualAction: a keybind-backed action not tied to a slot
//    - PriorityList: ordered items + manual actions, selectable via hotkeys
//
// 3. Runtime Events:
//    - CastBarState: cast bar gate/progress snapshot
//    - QueuedOverride: a reactive key waiting for the next opening
//    - DispatchOutcome: what the arbiter did this cycle (sent/blocked)
//    - BuffState: externally tracked buff presence, consumed by rules
//
// 4. Baseline Persistence:
//    - BaselineRecord: base64-encoded grayscale baseline for one slot
//
// Thread Safety:
// All types in this file are plain value types. They are produced fresh each
// cycle (snapshots, outcomes) or treated as immutable snapshots for the
// duration of a cycle (lists, config-derived data).
package main

import (
	"encoding/base64"
	"fmt"
	"image"
)

// SlotState represents the coarse readiness of one action slot.
type SlotState int

const (
	SlotReady SlotState = iota
	SlotOnCooldown
	SlotCasting
	SlotChanneling
	SlotGcd
	SlotLocked
	SlotUnknown
)

// String returns the wire name of the state
func (s SlotState) String() string {
	switch s {
	case SlotReady:
		return "ready"
	case SlotOnCooldown:
		return "on_cooldown"
	case SlotCasting:
		return "casting"
	case SlotChanneling:
		return "channeling"
	case SlotGcd:
		return "gcd"
	case SlotLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the state as its wire name
func (s SlotState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes a wire name back into a SlotState
func (s *SlotState) UnmarshalJSON(data []byte) error {
	name := string(data)
	if len(name) >= 2 && name[0] == '"' {
		name = name[1 : len(name)-1]
	}
	*s = ParseSlotState(name)
	return nil
}

// ParseSlotState maps a wire name to a SlotState; unrecognized names map to
// SlotUnknown.
func ParseSlotState(name string) SlotState {
	switch name {
	case "ready":
		return SlotReady
	case "on_cooldown":
		return SlotOnCooldown
	case "casting":
		return SlotCasting
	case "channeling":
		return SlotChanneling
	case "gcd":
		return SlotGcd
	case "locked":
		return SlotLocked
	default:
		return SlotUnknown
	}
}

// SlotLayout is the static pixel region of one slot within the capture box.
type SlotLayout struct {
	Index   int
	XOffset int
	YOffset int
	Width   int
	Height  int
}

// ComputeSlotLayouts lays slots out left-to-right with equal width and the
// full box height. Slot width is floor((boxW - (n-1)*gap) / n); slot i starts
// at i*(width+gap).
func ComputeSlotLayouts(count, gap, boxW, boxH int) []SlotLayout {
	if count < 1 {
		count = 1
	}
	slotW := (boxW - (count-1)*gap) / count
	if slotW < 1 {
		slotW = 1
	}
	layouts := make([]SlotLayout, count)
	for i := 0; i < count; i++ {
		layouts[i] = SlotLayout{
			Index:   i,
			XOffset: i * (slotW + gap),
			YOffset: 0,
			Width:   slotW,
			Height:  boxH,
		}
	}
	return layouts
}

// SlotSnapshot is the analyzed state of one slot at one point in time.
//
// DarkenedFraction and ChangedFraction are transient measurements against the
// calibrated baseline; they are recomputed each cycle and never persisted.
// The glow flags are populated by an optional external glow tracker and are
// false when no such tracker runs.
type SlotSnapshot struct {
	Index            int       `json:"index"`
	State            SlotState `json:"state"`
	DarkenedFraction float64   `json:"darkened_fraction"`
	ChangedFraction  float64   `json:"changed_fraction"`
	Timestamp        float64   `json:"timestamp"`
	GlowReady        bool      `json:"glow_ready,omitempty"`
	GlowYellow       bool      `json:"glow_yellow,omitempty"`
	GlowRed          bool      `json:"glow_red,omitempty"`
}

// IsReady reports whether the slot can be fired
func (s SlotSnapshot) IsReady() bool { return s.State == SlotReady }

// IsOnCooldown reports whether the slot is on a real cooldown
func (s SlotSnapshot) IsOnCooldown() bool { return s.State == SlotOnCooldown }

// IsCasting reports whether the slot is mid-cast or channeling
func (s SlotSnapshot) IsCasting() bool {
	return s.State == SlotCasting || s.State == SlotChanneling
}

// Priority item types
const (
	ItemTypeSlot   = "slot"
	ItemTypeManual = "manual"
)

// PriorityItem is one entry of a priority list. Type selects which fields are
// meaningful: "slot" items use SlotIndex/ActivationRule, "manual" items use
// ActionID. Position in the owning list is the priority (index 0 = highest).
type PriorityItem struct {
	Type           string `json:"type"`
	SlotIndex      int    `json:"slot_index,omitempty"`
	ActivationRule string `json:"activation_rule,omitempty"`
	ReadySource    string `json:"ready_source,omitempty"`
	BuffROIID      string `json:"buff_roi_id,omitempty"`
	ActionID       string `json:"action_id,omitempty"`
}

// ManualAction is a keybind-backed action referenced by a manual priority item.
type ManualAction struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Keybind     string `json:"keybind"`
	ReadySource string `json:"ready_source,omitempty"`
	BuffROIID   string `json:"buff_roi_id,omitempty"`
}

// PriorityList is an ordered rotation. Exactly one list is active at a time;
// the config layer refuses to delete the last remaining list.
type PriorityList struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	ToggleBind     string         `json:"toggle_bind"`
	SingleFireBind string         `json:"single_fire_bind"`
	Items          []PriorityItem `json:"priority_items,omitempty"`
	ManualActions  []ManualAction `json:"manual_actions,omitempty"`
}

// CastBarState is the per-cycle result of the cast bar analyzer.
type CastBarState struct {
	Active     bool    `json:"active"`
	Progress   float64 `json:"progress"`
	Channeling bool    `json:"channeling"`
	Timestamp  float64 `json:"timestamp"`
}

// Queued override sources
const (
	OverrideWhitelist = "whitelist"
	OverrideTracked   = "tracked"
)

// QueuedOverride is a reactive key captured by the key observer, waiting to be
// fired at the next opening. At most one is live at a time; it expires via its
// own timestamp, independent of the arbiter.
type QueuedOverride struct {
	Key       string  `json:"key"`
	Source    string  `json:"source"`
	SlotIndex int     `json:"slot_index,omitempty"`
	QueuedAt  float64 `json:"queued_at"`
}

// Dispatch outcome actions and block reasons
const (
	ActionSent    = "sent"
	ActionBlocked = "blocked"

	ReasonCasting = "casting"
	ReasonWindow  = "window"
)

// DispatchOutcome describes what the arbiter did on one cycle. A nil
// *DispatchOutcome means no action occurred ("none").
type DispatchOutcome struct {
	Action      string  `json:"action"`
	Reason      string  `json:"reason,omitempty"`
	Keybind     string  `json:"keybind,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	ItemType    string  `json:"item_type,omitempty"`
	SlotIndex   *int    `json:"slot_index,omitempty"`
	Timestamp   float64 `json:"timestamp,omitempty"`
	Queued      bool    `json:"queued,omitempty"`
}

// BuffState is one externally tracked buff region, keyed by ROI id.
type BuffState struct {
	Calibrated bool   `json:"calibrated"`
	Present    bool   `json:"present"`
	Status     string `json:"status"`
}

// BuffStates is the per-cycle buff lookup consumed by activation rules.
type BuffStates map[string]BuffState

// BaselineRecord is the persistence form of one slot's grayscale baseline:
// raw bytes (base64) plus the [height, width] shape.
type BaselineRecord struct {
	Index int    `json:"index"`
	Data  string `json:"data"`
	Shape [2]int `json:"shape"`
}

// EncodeBaselines converts calibrated baselines into persistable records.
func EncodeBaselines(baselines map[int]*image.Gray) []BaselineRecord {
	records := make([]BaselineRecord, 0, len(baselines))
	for idx, gray := range baselines {
		if gray == nil {
			continue
		}
		b := gray.Bounds()
		w, h := b.Dx(), b.Dy()
		raw := make([]byte, 0, w*h)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			raw = append(raw, gray.Pix[(y-b.Min.Y)*gray.Stride:(y-b.Min.Y)*gray.Stride+w]...)
		}
		records = append(records, BaselineRecord{
			Index: idx,
			Data:  base64.StdEncoding.EncodeToString(raw),
			Shape: [2]int{h, w},
		})
	}
	return records
}

// DecodeBaselines restores baselines from persisted records. Records whose
// byte length does not match their declared shape are rejected.
func DecodeBaselines(records []BaselineRecord) (map[int]*image.Gray, error) {
	baselines := make(map[int]*image.Gray, len(records))
	for _, rec := range records {
		raw, err := base64.StdEncoding.DecodeString(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("baseline %d: decode: %w", rec.Index, err)
		}
		h, w := rec.Shape[0], rec.Shape[1]
		if h <= 0 || w <= 0 || len(raw) != h*w {
			return nil, fmt.Errorf("baseline %d: shape %dx%d does not match %d bytes",
				rec.Index, h, w, len(raw))
		}
		gray := image.NewGray(image.Rect(0, 0, w, h))
		copy(gray.Pix, raw)
		baselines[rec.Index] = gray
	}
	return baselines, nil
}
