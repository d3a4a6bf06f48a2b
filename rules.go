// Package main - rules.go
//
// Keybind normalization and the activation rule registry.
//
// Binds are stored and compared in a canonical lowercase form: modifiers in
// the fixed order ctrl, alt, shift, win, then exactly one primary key, joined
// with "+". "Control + 1" and "CTRL+1" both normalize to "ctrl+1"; a bind with
// no primary key (or more than one) is invalid and normalizes to "".
//
// Activation rules decide whether a priority item is eligible on a given
// cycle. The registry maps rule ids to a human label plus a predicate over
// (item, snapshot, buff lookup). Unknown rule ids degrade to "always".
package main

import (
	"sort"
	"strings"
)

var modifierOrder = []string{"ctrl", "alt", "shift", "win"}

var keyTokenAliases = map[string]string{
	"control":       "ctrl",
	"left ctrl":     "ctrl",
	"right ctrl":    "ctrl",
	"left control":  "ctrl",
	"right control": "ctrl",
	"left alt":      "alt",
	"right alt":     "alt",
	"alt gr":        "alt",
	"left shift":    "shift",
	"right shift":   "shift",
	"left windows":  "win",
	"right windows": "win",
	"windows":       "win",
	"cmd":           "win",
	"super":         "win",
	"esc":           "escape",
	"return":        "enter",
	"spacebar":      "space",
}

// NormalizeKeyToken lowercases a single key token and resolves aliases
// ("Left Ctrl" → "ctrl", "esc" → "escape").
func NormalizeKeyToken(token string) string {
	t := strings.ToLower(strings.TrimSpace(token))
	if alias, ok := keyTokenAliases[t]; ok {
		return alias
	}
	return t
}

// IsModifierToken reports whether a normalized token is a modifier key
func IsModifierToken(token string) bool {
	switch token {
	case "ctrl", "alt", "shift", "win":
		return true
	}
	return false
}

// NormalizeBind canonicalizes a bind string. Invalid binds (empty, modifier
// only, more than one primary key) normalize to "".
func NormalizeBind(bind string) string {
	if strings.TrimSpace(bind) == "" {
		return ""
	}
	mods := make(map[string]bool)
	primary := ""
	for _, part := range strings.Split(bind, "+") {
		token := NormalizeKeyToken(part)
		if token == "" {
			continue
		}
		if IsModifierToken(token) {
			mods[token] = true
			continue
		}
		if primary != "" {
			return ""
		}
		primary = token
	}
	return NormalizeBindFromParts(mods, primary)
}

// NormalizeBindFromParts assembles a canonical bind from a modifier set and a
// primary key. A missing primary, or a primary that is itself a modifier,
// yields "".
func NormalizeBindFromParts(mods map[string]bool, primary string) string {
	primary = NormalizeKeyToken(primary)
	if primary == "" || IsModifierToken(primary) {
		return ""
	}
	parts := make([]string, 0, len(mods)+1)
	for _, mod := range modifierOrder {
		if mods[mod] {
			parts = append(parts, mod)
		}
	}
	parts = append(parts, primary)
	return strings.Join(parts, "+")
}

// ParseBind splits a canonical bind into its modifier set and primary key.
// Returns ok=false for binds that do not normalize to a valid form.
func ParseBind(bind string) (mods []string, primary string, ok bool) {
	normalized := NormalizeBind(bind)
	if normalized == "" {
		return nil, "", false
	}
	parts := strings.Split(normalized, "+")
	primary = parts[len(parts)-1]
	mods = parts[:len(parts)-1]
	sort.Strings(mods)
	return mods, primary, true
}

// FormatBindForDisplay renders a canonical bind for UI labels: "ctrl+1" →
// "Ctrl+1", "x1"/"x2" → mouse button names, "" → "Set".
func FormatBindForDisplay(bind string) string {
	if bind == "" {
		return "Set"
	}
	switch bind {
	case "x1":
		return "Mouse 4"
	case "x2":
		return "Mouse 5"
	}
	parts := strings.Split(bind, "+")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, "+")
}

// Activation rule ids
const (
	RuleAlways      = "always"
	RuleRequireGlow = "require_glow"
	RuleDotRefresh  = "dot_refresh"
	RuleBuffPresent = "buff_present"
	RuleBuffMissing = "buff_missing"
)

// Ready sources
const (
	ReadySourceSlot        = "slot"
	ReadySourceAlways      = "always"
	ReadySourceBuffPresent = "buff_present"
	ReadySourceBuffMissing = "buff_missing"
)

// NormalizeActivationRule maps unknown or empty rule ids to "always".
func NormalizeActivationRule(id string) string {
	switch id {
	case RuleAlways, RuleRequireGlow, RuleDotRefresh, RuleBuffPresent, RuleBuffMissing:
		return id
	}
	return RuleAlways
}

// NormalizeReadySource validates a ready source, defaulting by item type:
// slot items default to "slot", manual items to "always".
func NormalizeReadySource(source, itemType string) string {
	switch source {
	case ReadySourceSlot, ReadySourceAlways, ReadySourceBuffPresent, ReadySourceBuffMissing:
		return source
	}
	if itemType == ItemTypeSlot {
		return ReadySourceSlot
	}
	return ReadySourceAlways
}

// RulePredicate decides whether an item is eligible given the slot snapshot
// (nil for manual items) and the external buff lookup.
type RulePredicate func(item PriorityItem, snap *SlotSnapshot, buffs BuffStates) bool

// ActivationRule pairs a human label with an eligibility predicate.
type ActivationRule struct {
	ID        string
	Label     string
	Predicate RulePredicate
}

// ActivationRuleRegistry is the keyed lookup from rule id to predicate. The
// arbiter only resolves and evaluates rules; ownership stays with whichever
// component registered them.
type ActivationRuleRegistry struct {
	rules map[string]ActivationRule
}

// NewActivationRuleRegistry builds a registry preloaded with the built-in
// rules.
func NewActivationRuleRegistry() *ActivationRuleRegistry {
	r := &ActivationRuleRegistry{rules: make(map[string]ActivationRule)}
	r.Register(ActivationRule{ID: RuleAlways, Label: "Always", Predicate: alwaysEligible})
	r.Register(ActivationRule{ID: RuleRequireGlow, Label: "Require Glow", Predicate: requireGlowEligible})
	r.Register(ActivationRule{ID: RuleDotRefresh, Label: "DoT Refresh", Predicate: dotRefreshPredicate})
	r.Register(ActivationRule{ID: RuleBuffPresent, Label: "Buff Present", Predicate: buffPresentEligible})
	r.Register(ActivationRule{ID: RuleBuffMissing, Label: "Buff Missing", Predicate: buffMissingEligible})
	return r
}

// Register adds or replaces a rule
func (r *ActivationRuleRegistry) Register(rule ActivationRule) {
	r.rules[rule.ID] = rule
}

// Get resolves a rule id, falling back to the "always" rule for unknown ids.
func (r *ActivationRuleRegistry) Get(id string) ActivationRule {
	if rule, ok := r.rules[id]; ok {
		return rule
	}
	return r.rules[RuleAlways]
}

// Label returns the display label for a rule id, or the id itself when the
// rule is unknown.
func (r *ActivationRuleRegistry) Label(id string) string {
	if rule, ok := r.rules[id]; ok {
		return rule.Label
	}
	return id
}

func alwaysEligible(PriorityItem, *SlotSnapshot, BuffStates) bool { return true }

func requireGlowEligible(_ PriorityItem, snap *SlotSnapshot, _ BuffStates) bool {
	return snap != nil && snap.GlowReady
}

// DotRefreshEligible: a DoT wants a refresh when its tracked glow is absent or
// the pandemic-window glow is lit. Yellow alone means the DoT is still running.
func DotRefreshEligible(glowYellow, glowRed bool) bool {
	return glowRed || !glowYellow
}

func dotRefreshPredicate(_ PriorityItem, snap *SlotSnapshot, _ BuffStates) bool {
	if snap == nil {
		return false
	}
	return DotRefreshEligible(snap.GlowYellow, snap.GlowRed)
}

func buffPresentEligible(item PriorityItem, _ *SlotSnapshot, buffs BuffStates) bool {
	entry, ok := buffs[item.BuffROIID]
	return ok && entry.Calibrated && entry.Present
}

func buffMissingEligible(item PriorityItem, _ *SlotSnapshot, buffs BuffStates) bool {
	entry, ok := buffs[item.BuffROIID]
	return ok && entry.Calibrated && !entry.Present
}

// SlotItemEligible decides whether a slot priority item may fire: its ready
// source must hold against the snapshot and its activation rule must pass.
// A missing snapshot is never eligible.
func SlotItemEligible(item PriorityItem, snap *SlotSnapshot, buffs BuffStates, registry *ActivationRuleRegistry) bool {
	if snap == nil {
		return false
	}
	switch NormalizeReadySource(item.ReadySource, ItemTypeSlot) {
	case ReadySourceSlot:
		if !snap.IsReady() {
			return false
		}
	case ReadySourceAlways:
		// no state requirement
	case ReadySourceBuffPresent:
		if !buffPresentEligible(item, snap, buffs) {
			return false
		}
	case ReadySourceBuffMissing:
		if !buffMissingEligible(item, snap, buffs) {
			return false
		}
	}
	rule := registry.Get(NormalizeActivationRule(item.ActivationRule))
	return rule.Predicate(item, snap, buffs)
}

// ManualItemEligible decides whether a manual priority item may fire. Manual
// items have no slot snapshot; their ready source defaults to "always".
func ManualItemEligible(item PriorityItem, buffs BuffStates) bool {
	switch NormalizeReadySource(item.ReadySource, ItemTypeManual) {
	case ReadySourceBuffPresent:
		return buffPresentEligible(item, nil, buffs)
	case ReadySourceBuffMissing:
		return buffMissingEligible(item, nil, buffs)
	}
	return true
}
