// Package main - engine.go
//
// The capture/decide/act loop that ties the pipeline together.
//
// Cycle order, fixed:
//   1. Take an immutable config snapshot (reloads apply between cycles)
//   2. Capture the cast bar region and run the cast bar analyzer (gate)
//   3. Capture the slot bar region and run slot perception
//   4. Apply the cast overlay as a post-pass (unless configured inline)
//   5. Run the arbiter with the active priority list and any queued override
//   6. Broadcast the cycle result to status subscribers
//
// Capture failures degrade the affected stage to its neutral result (unknown
// slots, inactive cast bar); the loop itself never stops on a bad frame.
package main

import (
	"image"
	"sync"
	"time"
)

// Engine owns the periodic detection loop and the armed/list selection state.
type Engine struct {
	store      *ConfigStore
	capturer   Capturer
	analyzer   *SlotAnalyzer
	castEngine *CastEngine
	castBar    *CastBarAnalyzer
	sender     *KeySender
	holder     *QueueHolder
	hub        *StatusHub

	mu            sync.Mutex
	armed         bool
	inlineStage   bool
	lastSlotFrame *image.RGBA
	buffs         BuffStates

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewEngine wires the pipeline. ApplyConfig must run (and does, inside) before
// the first cycle.
func NewEngine(store *ConfigStore, capturer Capturer, sender *KeySender, holder *QueueHolder, hub *StatusHub) *Engine {
	e := &Engine{
		store:      store,
		capturer:   capturer,
		analyzer:   NewSlotAnalyzer(),
		castEngine: NewCastEngine(),
		castBar:    NewCastBarAnalyzer(),
		sender:     sender,
		holder:     holder,
		hub:        hub,
		buffs:      make(BuffStates),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	e.ApplyConfig(store.Get())
	return e
}

// ApplyConfig pushes a (re)loaded config into the detection engines. Safe to
// call from the fsnotify callback; settings land before the next cycle.
func (e *Engine) ApplyConfig(cfg *Config) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.analyzer.UpdateSettings(cfg.PerceptionSettings())
	e.castEngine.UpdateSettings(cfg.CastSettings())
	e.castBar.UpdateSettings(cfg.CastBarSettings())

	e.inlineStage = cfg.CastDetectStage == CastStageInline
	if e.inlineStage {
		e.analyzer.AttachCastEngine(e.castEngine)
	} else {
		e.analyzer.AttachCastEngine(nil)
	}

	if !e.analyzer.HasBaselines() && len(cfg.SlotBaselines) > 0 {
		if !e.analyzer.BaselinesCompatible(cfg.SlotBaselines) {
			LogInfo("Discarding persisted baselines: slot layout changed, recalibrate required")
			if err := e.store.Update(func(c *Config) { c.SlotBaselines = nil }); err != nil {
				LogWarn("dropping stale baselines: %v", err)
			}
			return
		}
		baselines, err := DecodeBaselines(cfg.SlotBaselines)
		if err != nil {
			LogWarn("persisted baselines rejected: %v", err)
		} else {
			e.analyzer.SetBaselines(baselines)
		}
	}
}

// Run drives the loop until Stop. Intended to run on its own goroutine.
func (e *Engine) Run() {
	defer close(e.done)
	LogInfo("Engine loop started")

	for {
		cfg := e.store.Get()
		interval := time.Second / time.Duration(cfg.PollingFPS)

		select {
		case <-e.stop:
			LogInfo("Engine loop stopped")
			return
		case <-time.After(interval):
			e.runCycle(cfg)
		}
	}
}

// Stop ends the loop and waits for the current cycle to finish. Safe to call
// more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
}

// runCycle executes one perceive/decide/act pass against a config snapshot.
func (e *Engine) runCycle(cfg *Config) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Cast bar first: its gate feeds the slot cast automaton this same cycle.
	castBarState := CastBarState{Timestamp: unixSeconds(time.Now())}
	gateActive := true
	if cfg.CastBarEnabled {
		frame, err := e.capturer.Capture(regionRect(cfg.CastBarRegion))
		if err != nil {
			LogDebug("cast bar capture failed: %v", err)
			frame = nil
		}
		castBarState = e.castBar.Analyze(frame)
		gateActive = castBarState.Active
	}

	snapshots := e.perceive(cfg, gateActive)

	list := cfg.ActiveList()
	var items []PriorityItem
	var manuals []ManualAction
	if list != nil {
		items = list.Items
		manuals = list.ManualActions
	}

	outcome := e.sender.EvaluateAndSend(EvaluateInput{
		Snapshots:             snapshots,
		Items:                 items,
		Keybinds:              cfg.Keybinds,
		ManualActions:         manuals,
		Armed:                 e.armed,
		MinIntervalMs:         cfg.MinPressIntervalMs,
		TargetWindowTitle:     cfg.TargetWindowTitle,
		AllowCastWhileCasting: cfg.AllowCastWhileCasting,
		GcdMs:                 cfg.GcdMs,
		QueueFireDelayMs:      cfg.QueueFireDelayMs,
		Queued:                e.holder.Get(),
		OnQueuedSent:          e.holder.Clear,
		Buffs:                 e.buffs,
	})

	if e.hub != nil {
		e.hub.Broadcast(StatusUpdate{
			Slots:        snapshots,
			CastBar:      castBarState,
			Outcome:      outcome,
			Armed:        e.armed,
			ActiveListID: cfg.ActiveListID,
			Timestamp:    unixSeconds(time.Now()),
		})
	}
}

// perceive captures the slot bar and runs perception plus the cast overlay.
// A failed capture yields all-unknown snapshots.
func (e *Engine) perceive(cfg *Config, gateActive bool) []SlotSnapshot {
	frame, err := e.capturer.Capture(regionRect(cfg.SlotBarRegion))
	if err != nil {
		LogDebug("slot bar capture failed: %v", err)
		ts := unixSeconds(time.Now())
		snapshots := make([]SlotSnapshot, cfg.SlotCount)
		for i := range snapshots {
			snapshots[i] = SlotSnapshot{Index: i, State: SlotUnknown, Timestamp: ts}
		}
		return snapshots
	}
	e.lastSlotFrame = frame

	snapshots := e.analyzer.AnalyzeFrame(frame, gateActive)
	if !e.inlineStage {
		snapshots = e.castEngine.ProcessStates(snapshots, gateActive)
	}
	return snapshots
}

// Armed reports whether the rotation is live.
func (e *Engine) Armed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.armed
}

// SetArmed arms or disarms the rotation.
func (e *Engine) SetArmed(armed bool) {
	e.mu.Lock()
	e.armed = armed
	e.mu.Unlock()
	if armed {
		LogInfo("Rotation armed")
	} else {
		LogInfo("Rotation disarmed")
	}
}

// ToggleList handles a list toggle bind: pressing the active list's bind
// arms/disarms, pressing another list's bind switches to it and arms.
func (e *Engine) ToggleList(listID string) {
	cfg := e.store.Get()
	if cfg.ListByID(listID) == nil {
		LogWarn("toggle for unknown list %q", listID)
		return
	}
	if cfg.ActiveListID == listID {
		e.SetArmed(!e.Armed())
		return
	}
	if err := e.store.Update(func(c *Config) { c.ActiveListID = listID }); err != nil {
		LogWarn("switch list: %v", err)
		return
	}
	LogInfo("Switched to priority list %q", listID)
	e.SetArmed(true)
}

// SingleFire requests a one-shot evaluation of the given list on the next
// cycle, bypassing the armed check.
func (e *Engine) SingleFire(listID string) {
	cfg := e.store.Get()
	if listID != "" && cfg.ActiveListID != listID {
		if cfg.ListByID(listID) == nil {
			LogWarn("single fire for unknown list %q", listID)
			return
		}
		if err := e.store.Update(func(c *Config) { c.ActiveListID = listID }); err != nil {
			LogWarn("single fire switch list: %v", err)
			return
		}
	}
	e.sender.RequestSingleFire(listID)
	LogInfo("Single fire requested")
}

// CalibrateAll captures fresh baselines for every slot from the last slot bar
// frame and persists them. The engine mutex is held across the calibration so
// the loop never analyzes against half-written baselines.
func (e *Engine) CalibrateAll() (int, error) {
	e.mu.Lock()
	count, err := e.analyzer.CalibrateAll(e.lastSlotFrame)
	e.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return count, e.persistBaselines()
}

// CalibrateSlot recalibrates one slot's baseline and persists it.
func (e *Engine) CalibrateSlot(slotIndex int) error {
	e.mu.Lock()
	err := e.analyzer.CalibrateSlot(e.lastSlotFrame, slotIndex)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	return e.persistBaselines()
}

func (e *Engine) persistBaselines() error {
	e.mu.Lock()
	records := EncodeBaselines(e.analyzer.Baselines())
	e.mu.Unlock()
	return e.store.Update(func(c *Config) { c.SlotBaselines = records })
}

// ObserverConfig builds the key observer's view of the current config: the
// queue whitelist, the slot keybind table, which slots the active list drives,
// and the global control binds of every list.
func (e *Engine) ObserverConfig() ObserverConfig {
	cfg := e.store.Get()

	priorityIndices := make(map[int]bool)
	if list := cfg.ActiveList(); list != nil {
		for _, item := range list.Items {
			if item.Type == ItemTypeSlot {
				priorityIndices[item.SlotIndex] = true
			}
		}
	}

	toggles := make(map[string]string)
	singleFires := make(map[string]string)
	for _, list := range cfg.PriorityLists {
		if bind := NormalizeBind(list.ToggleBind); bind != "" {
			toggles[bind] = list.ID
		}
		if bind := NormalizeBind(list.SingleFireBind); bind != "" {
			singleFires[bind] = list.ID
		}
	}

	return ObserverConfig{
		Whitelist:       cfg.QueueWhitelist,
		Keybinds:        cfg.Keybinds,
		PriorityIndices: priorityIndices,
		ToggleBinds:     toggles,
		SingleFireBinds: singleFires,
	}
}

// regionRect converts a config Region to an image.Rectangle.
func regionRect(r Region) image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.W, r.Y+r.H)
}
