// Package main - arbiter.go
//
// Priority decision arbiter: turns slot states plus a priority list into at
// most one dispatched keypress per cycle.
//
// Gate order, evaluated top to bottom every cycle:
//   1. Armed / single-fire guard - neither pending means no work at all
//   2. Cast block - any casting/channeling slot blocks the cycle outright
//      (unless cast-while-casting is allowed)
//   3. Queued override - a reactive key fires before the rotation, but only
//      when at least one slot-type priority item is ready, the minimum press
//      interval has passed, and the target window is focused. On success it
//      opens a GCD suppression window and clears the override via callback;
//      otherwise the override stays queued for a later cycle.
//   4. Minimum press interval + GCD suppression
//   5. Priority walk - strict first eligible item wins. Losing window focus
//      blocks the specific best candidate rather than falling through to a
//      lower-priority item, so the operator sees why nothing fired.
//
// Dispatch failures are treated as "nothing happened": the throttle timestamp
// does not advance and no pending request is consumed.
package main

import (
	"strings"
	"time"
)

// KeyDispatcher sends a normalized keybind to the OS input subsystem.
type KeyDispatcher interface {
	Send(bind string) error
}

// WindowProbe reports whether the target window currently has focus. An empty
// target title always passes.
type WindowProbe interface {
	IsActive(targetTitle string) bool
}

// EvaluateInput is the per-cycle input tuple of the arbiter. The slices are
// treated as immutable snapshots for the duration of the call.
type EvaluateInput struct {
	Snapshots     []SlotSnapshot
	Items         []PriorityItem
	Keybinds      []string
	ManualActions []ManualAction
	Armed         bool

	MinIntervalMs         int
	TargetWindowTitle     string
	AllowCastWhileCasting bool
	GcdMs                 int
	QueueFireDelayMs      int

	Queued       *QueuedOverride
	OnQueuedSent func()
	Buffs        BuffStates
}

// KeySender evaluates the priority list and sends the highest-priority ready
// keybind. It owns the throttle timestamps and the pending single-fire
// request; everything else arrives fresh each cycle.
type KeySender struct {
	dispatcher KeyDispatcher
	window     WindowProbe
	rules      *ActivationRuleRegistry

	lastSendTime          time.Time
	suppressPriorityUntil time.Time

	singleFirePending bool
	singleFireListID  string

	now   func() time.Time
	sleep func(time.Duration)
}

// NewKeySender creates an arbiter bound to a dispatcher, focus probe, and
// rule registry.
func NewKeySender(dispatcher KeyDispatcher, window WindowProbe, rules *ActivationRuleRegistry) *KeySender {
	return &KeySender{
		dispatcher: dispatcher,
		window:     window,
		rules:      rules,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

// RequestSingleFire arms a one-shot evaluation of the given list, bypassing
// the armed check on the next cycle.
func (ks *KeySender) RequestSingleFire(listID string) {
	ks.singleFirePending = true
	ks.singleFireListID = listID
}

// SingleFirePending reports whether a one-shot request is waiting
func (ks *KeySender) SingleFirePending() bool { return ks.singleFirePending }

// SingleFireListID returns the list targeted by the pending one-shot request
func (ks *KeySender) SingleFireListID() string { return ks.singleFireListID }

// EvaluateAndSend runs one arbitration cycle. A nil result means no action
// occurred.
func (ks *KeySender) EvaluateAndSend(in EvaluateInput) *DispatchOutcome {
	singleFire := ks.singleFirePending
	if !in.Armed && !singleFire {
		return nil
	}

	minInterval := time.Duration(in.MinIntervalMs) * time.Millisecond
	if minInterval < 10*time.Millisecond {
		minInterval = 10 * time.Millisecond
	}
	now := ks.now()
	minIntervalOK := now.Sub(ks.lastSendTime) >= minInterval
	windowOK := ks.window.IsActive(in.TargetWindowTitle)

	// In-progress casts are assumed uninterruptible.
	if !in.AllowCastWhileCasting {
		for i := range in.Snapshots {
			if in.Snapshots[i].IsCasting() {
				idx := in.Snapshots[i].Index
				return &DispatchOutcome{
					Action:    ActionBlocked,
					Reason:    ReasonCasting,
					SlotIndex: &idx,
				}
			}
		}
	}

	byIndex := make(map[int]*SlotSnapshot, len(in.Snapshots))
	for i := range in.Snapshots {
		byIndex[in.Snapshots[i].Index] = &in.Snapshots[i]
	}

	// Queue logic only fires when the rotation has something to prioritize.
	anyPriorityReady := false
	for _, item := range in.Items {
		if item.Type != ItemTypeSlot {
			continue
		}
		if snap, ok := byIndex[item.SlotIndex]; ok && snap.IsReady() {
			anyPriorityReady = true
			break
		}
	}

	if in.Queued != nil {
		return ks.evaluateQueued(in, byIndex, anyPriorityReady, minIntervalOK, windowOK, now)
	}

	if !minIntervalOK {
		return nil
	}
	if now.Before(ks.suppressPriorityUntil) {
		return nil
	}

	manualByID := make(map[string]*ManualAction, len(in.ManualActions))
	for i := range in.ManualActions {
		manualByID[normalizeID(in.ManualActions[i].ID)] = &in.ManualActions[i]
	}

	for _, item := range in.Items {
		var slotIndex *int
		displayName := "Unidentified"
		keybind := ""

		switch item.Type {
		case ItemTypeSlot:
			snap := byIndex[item.SlotIndex]
			if !SlotItemEligible(item, snap, in.Buffs, ks.rules) {
				continue
			}
			idx := item.SlotIndex
			slotIndex = &idx
			if item.SlotIndex < len(in.Keybinds) {
				keybind = in.Keybinds[item.SlotIndex]
			}
		case ItemTypeManual:
			if !ManualItemEligible(item, in.Buffs) {
				continue
			}
			id := normalizeID(item.ActionID)
			if id == "" {
				continue
			}
			action, ok := manualByID[id]
			if !ok {
				continue
			}
			keybind = action.Keybind
			if name := strings.TrimSpace(action.Name); name != "" {
				displayName = name
			} else {
				displayName = "Manual Action"
			}
		default:
			continue
		}

		keybind = NormalizeBind(keybind)
		if keybind == "" {
			continue
		}

		if !windowOK {
			return &DispatchOutcome{
				Action:      ActionBlocked,
				Reason:      ReasonWindow,
				Keybind:     keybind,
				DisplayName: displayName,
				ItemType:    item.Type,
				SlotIndex:   slotIndex,
			}
		}

		if err := ks.dispatcher.Send(keybind); err != nil {
			LogWarn("key dispatch %q failed: %v", keybind, err)
			return nil
		}

		ks.lastSendTime = now
		if singleFire {
			ks.singleFirePending = false
			ks.singleFireListID = ""
		}
		return &DispatchOutcome{
			Action:      ActionSent,
			Keybind:     keybind,
			DisplayName: displayName,
			ItemType:    item.Type,
			SlotIndex:   slotIndex,
			Timestamp:   unixSeconds(now),
		}
	}

	return nil
}

// evaluateQueued handles the queued-override path. The override is only
// cleared (via callback) on a successful send; otherwise it stays live and
// either fires later or expires via its own timeout.
func (ks *KeySender) evaluateQueued(in EvaluateInput, byIndex map[int]*SlotSnapshot, anyPriorityReady, minIntervalOK, windowOK bool, now time.Time) *DispatchOutcome {
	key := strings.TrimSpace(in.Queued.Key)
	if key == "" {
		return nil
	}

	switch in.Queued.Source {
	case OverrideWhitelist:
		if !(anyPriorityReady && minIntervalOK && windowOK) {
			return nil
		}
		return ks.sendQueued(in, key, nil, now)
	case OverrideTracked:
		snap, ok := byIndex[in.Queued.SlotIndex]
		if !ok || !snap.IsReady() {
			return nil
		}
		if !(anyPriorityReady && minIntervalOK && windowOK) {
			return nil
		}
		idx := in.Queued.SlotIndex
		return ks.sendQueued(in, key, &idx, now)
	}
	return nil
}

func (ks *KeySender) sendQueued(in EvaluateInput, key string, slotIndex *int, now time.Time) *DispatchOutcome {
	// A short delay lets the just-pressed reactive key resolve on screen
	// before the queue commits.
	if in.QueueFireDelayMs > 0 {
		ks.sleep(time.Duration(in.QueueFireDelayMs) * time.Millisecond)
	}
	if err := ks.dispatcher.Send(key); err != nil {
		LogWarn("queued key dispatch %q failed: %v", key, err)
		return nil
	}
	ks.lastSendTime = now
	gcd := time.Duration(in.GcdMs) * time.Millisecond
	if gcd < 0 {
		gcd = 0
	}
	ks.suppressPriorityUntil = now.Add(gcd)
	if in.OnQueuedSent != nil {
		in.OnQueuedSent()
	}
	return &DispatchOutcome{
		Action:    ActionSent,
		Keybind:   key,
		SlotIndex: slotIndex,
		Timestamp: unixSeconds(now),
		Queued:    true,
	}
}

// normalizeID canonicalizes manual action ids for lookup
func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
