// Package main - queue.go
//
// Spell queue: catches reactive keypresses outside the rotation and holds a
// single queued override for the arbiter to fire at the next opening.
//
// Two sources feed the queue:
//   - whitelist: keys the operator explicitly listed as queueable
//   - tracked: keybinds of slots that exist on the bar but are not part of
//     the active priority list
//
// Keys that belong to the active priority list are never queued - the
// rotation already handles them. At most one override is live at a time;
// re-pressing the same key is deduplicated, a different key replaces the
// override. The override expires via its own timestamp, independent of the
// arbiter; the arbiter clears it through a callback only after a successful
// send.
//
// The observer also services the global control binds: list toggle binds
// (arm/disarm + switch) and single-fire binds. Combo binds with modifiers are
// not observable from single key-down events and are ignored here.
package main

import (
	"sync"
	"time"

	hook "github.com/robotn/gohook"
)

var leftMouseNames = map[string]bool{
	"left": true, "left click": true, "mouse left": true,
}

// QueueHolder owns the single queued override. Safe for concurrent use: the
// key observer writes from its hook goroutine, the engine loop reads.
type QueueHolder struct {
	mu       sync.Mutex
	queued   *QueuedOverride
	queuedAt time.Time

	timeoutMs func() int
	now       func() time.Time
}

// NewQueueHolder creates a holder whose expiry window is read from the given
// getter on every access, so config changes apply immediately.
func NewQueueHolder(timeoutMs func() int) *QueueHolder {
	return &QueueHolder{timeoutMs: timeoutMs, now: time.Now}
}

// Set replaces the queued override
func (q *QueueHolder) Set(override QueuedOverride) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	override.QueuedAt = unixSeconds(now)
	q.queued = &override
	q.queuedAt = now
	LogDebug("queued override set: %s (%s)", override.Key, override.Source)
}

// Get returns the live override, or nil once it has expired.
func (q *QueueHolder) Get() *QueuedOverride {
	timeout := 5 * time.Second
	if q.timeoutMs != nil {
		if ms := q.timeoutMs(); ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.queued == nil {
		return nil
	}
	if q.now().Sub(q.queuedAt) >= timeout {
		LogDebug("queued override expired: %s", q.queued.Key)
		q.queued = nil
		q.queuedAt = time.Time{}
		return nil
	}
	clone := *q.queued
	return &clone
}

// Clear drops the queued override. Idempotent.
func (q *QueueHolder) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queued = nil
	q.queuedAt = time.Time{}
}

// ObserverConfig is the per-event snapshot the key observer evaluates
// keypresses against.
type ObserverConfig struct {
	Whitelist       []string
	Keybinds        []string
	PriorityIndices map[int]bool
	ToggleBinds     map[string]string // normalized bind -> list id
	SingleFireBinds map[string]string // normalized bind -> list id
}

// KeyObserver hooks global key-down events and feeds the queue holder and
// the control-bind callbacks.
type KeyObserver struct {
	getConfig    func() ObserverConfig
	holder       *QueueHolder
	onToggle     func(listID string)
	onSingleFire func(listID string)

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// NewKeyObserver wires an observer; Start begins consuming events.
func NewKeyObserver(getConfig func() ObserverConfig, holder *QueueHolder, onToggle, onSingleFire func(listID string)) *KeyObserver {
	return &KeyObserver{
		getConfig:    getConfig,
		holder:       holder,
		onToggle:     onToggle,
		onSingleFire: onSingleFire,
	}
}

// Start launches the hook goroutine. Calling Start twice is a no-op.
func (o *KeyObserver) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return
	}
	o.running = true
	o.done = make(chan struct{})

	events := hook.Start()
	go func() {
		defer close(o.done)
		for ev := range events {
			if ev.Kind != hook.KeyDown {
				continue
			}
			name := hook.RawcodetoKeychar(ev.Rawcode)
			if name == "" {
				name = string(ev.Keychar)
			}
			o.handleKeyDown(NormalizeKeyToken(name))
		}
	}()
	LogInfo("key observer started")
}

// Stop ends the hook stream and waits for the goroutine to drain.
func (o *KeyObserver) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	o.running = false
	hook.End()
	<-o.done
	o.holder.Clear()
	LogInfo("key observer stopped")
}

// handleKeyDown classifies one normalized keypress: control binds first,
// then queue population.
func (o *KeyObserver) handleKeyDown(key string) {
	if key == "" || leftMouseNames[key] {
		return
	}
	cfg := o.getConfig()

	if listID, ok := cfg.ToggleBinds[key]; ok {
		if o.onToggle != nil {
			o.onToggle(listID)
		}
		return
	}
	if listID, ok := cfg.SingleFireBinds[key]; ok {
		if o.onSingleFire != nil {
			o.onSingleFire(listID)
		}
		return
	}

	// Keys already driven by the rotation are never queued.
	priorityKeys := make(map[string]bool, len(cfg.PriorityIndices))
	for idx := range cfg.PriorityIndices {
		if idx >= 0 && idx < len(cfg.Keybinds) {
			if bind := NormalizeBind(cfg.Keybinds[idx]); bind != "" {
				priorityKeys[bind] = true
			}
		}
	}
	if priorityKeys[key] {
		return
	}

	for _, listed := range cfg.Whitelist {
		if NormalizeKeyToken(listed) != key {
			continue
		}
		if existing := o.holder.Get(); existing != nil &&
			existing.Key == key && existing.Source == OverrideWhitelist {
			return
		}
		o.holder.Set(QueuedOverride{Key: key, Source: OverrideWhitelist})
		return
	}

	for slotIndex, bind := range cfg.Keybinds {
		if cfg.PriorityIndices[slotIndex] {
			continue
		}
		if NormalizeBind(bind) != key {
			continue
		}
		if existing := o.holder.Get(); existing != nil &&
			existing.Source == OverrideTracked && existing.SlotIndex == slotIndex {
			return
		}
		o.holder.Set(QueuedOverride{Key: key, Source: OverrideTracked, SlotIndex: slotIndex})
		return
	}
}
