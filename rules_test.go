package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBind(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1", "1"},
		{"CTRL+1", "ctrl+1"},
		{"Control + 1", "ctrl+1"},
		{"shift+ctrl+x", "ctrl+shift+x"},
		{"win+alt+ctrl+shift+q", "ctrl+alt+shift+win+q"},
		{"Left Ctrl+F5", "ctrl+f5"},
		{"ESC", "escape"},
		{"Return", "enter"},
		{"ctrl", ""},
		{"ctrl+shift", ""},
		{"1+2", ""},
		{"", ""},
		{"  ", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeBind(tc.in), "NormalizeBind(%q)", tc.in)
	}
}

func TestNormalizeBindFromParts(t *testing.T) {
	assert.Equal(t, "ctrl+shift+a",
		NormalizeBindFromParts(map[string]bool{"shift": true, "ctrl": true}, "A"))
	assert.Equal(t, "", NormalizeBindFromParts(map[string]bool{"ctrl": true}, "shift"))
	assert.Equal(t, "", NormalizeBindFromParts(nil, ""))
	assert.Equal(t, "f5", NormalizeBindFromParts(nil, "F5"))
}

func TestParseBind(t *testing.T) {
	mods, primary, ok := ParseBind("shift+ctrl+x")
	require.True(t, ok)
	assert.Equal(t, []string{"ctrl", "shift"}, mods)
	assert.Equal(t, "x", primary)

	mods, primary, ok = ParseBind("f5")
	require.True(t, ok)
	assert.Empty(t, mods)
	assert.Equal(t, "f5", primary)

	_, _, ok = ParseBind("ctrl")
	assert.False(t, ok)
}

func TestFormatBindForDisplay(t *testing.T) {
	assert.Equal(t, "Set", FormatBindForDisplay(""))
	assert.Equal(t, "Mouse 4", FormatBindForDisplay("x1"))
	assert.Equal(t, "Mouse 5", FormatBindForDisplay("x2"))
	assert.Equal(t, "Ctrl+1", FormatBindForDisplay("ctrl+1"))
	assert.Equal(t, "Ctrl+Shift+F5", FormatBindForDisplay("ctrl+shift+f5"))
}

func TestNormalizeActivationRule(t *testing.T) {
	assert.Equal(t, RuleAlways, NormalizeActivationRule(""))
	assert.Equal(t, RuleAlways, NormalizeActivationRule("no_such_rule"))
	assert.Equal(t, RuleDotRefresh, NormalizeActivationRule(RuleDotRefresh))
}

func TestNormalizeReadySource(t *testing.T) {
	assert.Equal(t, ReadySourceSlot, NormalizeReadySource("", ItemTypeSlot))
	assert.Equal(t, ReadySourceAlways, NormalizeReadySource("", ItemTypeManual))
	assert.Equal(t, ReadySourceBuffPresent, NormalizeReadySource(ReadySourceBuffPresent, ItemTypeSlot))
	assert.Equal(t, ReadySourceSlot, NormalizeReadySource("bogus", ItemTypeSlot))
}

func TestDotRefreshEligible(t *testing.T) {
	// No glow tracked: refresh freely.
	assert.True(t, DotRefreshEligible(false, false))
	// Yellow alone: the DoT is still running, hold.
	assert.False(t, DotRefreshEligible(true, false))
	// Red (pandemic window) overrides yellow.
	assert.True(t, DotRefreshEligible(true, true))
	assert.True(t, DotRefreshEligible(false, true))
}

func TestRegistryUnknownRuleFallsBackToAlways(t *testing.T) {
	registry := NewActivationRuleRegistry()
	rule := registry.Get("definitely_not_registered")
	assert.Equal(t, RuleAlways, rule.ID)
	assert.True(t, rule.Predicate(PriorityItem{}, nil, nil))
}

func TestSlotItemEligible(t *testing.T) {
	registry := NewActivationRuleRegistry()
	item := PriorityItem{Type: ItemTypeSlot, SlotIndex: 0}

	assert.False(t, SlotItemEligible(item, nil, nil, registry))

	ready := &SlotSnapshot{Index: 0, State: SlotReady}
	cooling := &SlotSnapshot{Index: 0, State: SlotOnCooldown}
	assert.True(t, SlotItemEligible(item, ready, nil, registry))
	assert.False(t, SlotItemEligible(item, cooling, nil, registry))

	glowItem := PriorityItem{Type: ItemTypeSlot, ActivationRule: RuleRequireGlow}
	assert.False(t, SlotItemEligible(glowItem, ready, nil, registry))
	glowing := &SlotSnapshot{Index: 0, State: SlotReady, GlowReady: true}
	assert.True(t, SlotItemEligible(glowItem, glowing, nil, registry))
}

func TestSlotItemEligibleBuffReadySource(t *testing.T) {
	registry := NewActivationRuleRegistry()
	snap := &SlotSnapshot{Index: 0, State: SlotOnCooldown}
	item := PriorityItem{
		Type:        ItemTypeSlot,
		ReadySource: ReadySourceBuffPresent,
		BuffROIID:   "ward",
	}

	// Buff-sourced readiness ignores the slot's own cooldown state.
	buffs := BuffStates{"ward": {Calibrated: true, Present: true}}
	assert.True(t, SlotItemEligible(item, snap, buffs, registry))

	buffs = BuffStates{"ward": {Calibrated: true, Present: false}}
	assert.False(t, SlotItemEligible(item, snap, buffs, registry))

	// Uncalibrated ROIs never satisfy a buff source.
	buffs = BuffStates{"ward": {Calibrated: false, Present: true}}
	assert.False(t, SlotItemEligible(item, snap, buffs, registry))
}

func TestManualItemEligible(t *testing.T) {
	assert.True(t, ManualItemEligible(PriorityItem{Type: ItemTypeManual}, nil))

	item := PriorityItem{
		Type:        ItemTypeManual,
		ReadySource: ReadySourceBuffMissing,
		BuffROIID:   "food",
	}
	assert.False(t, ManualItemEligible(item, nil))
	assert.True(t, ManualItemEligible(item, BuffStates{"food": {Calibrated: true, Present: false}}))
	assert.False(t, ManualItemEligible(item, BuffStates{"food": {Calibrated: true, Present: true}}))
}

func TestNormalizeKeyTokenAliases(t *testing.T) {
	assert.Equal(t, "ctrl", NormalizeKeyToken("Left Ctrl"))
	assert.Equal(t, "win", NormalizeKeyToken("CMD"))
	assert.Equal(t, "escape", NormalizeKeyToken("esc"))
	assert.Equal(t, "space", NormalizeKeyToken("Spacebar"))
	assert.Equal(t, "q", NormalizeKeyToken(" Q "))
}
