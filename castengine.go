// Package main - castengine.go
//
// Cast detection state machine.
//
// Overlays "casting"/"channeling" onto the perception engine's raw slot
// states by watching for darkened fractions that sit in a narrow intermediate
// band for a sustained number of frames. A slot that goes on cooldown (or
// GCD) upstream always ends any cast tracking immediately - a finished cast
// shows up as a cooldown, which is authoritative.
//
// Exactly one instance of this automaton runs per pipeline, either inline
// inside the perception engine or as a separate post-pass over its output;
// configuration picks the stage, the semantics are identical.
//
// Promotion rules:
//   - band held for confirm_frames consecutive cycles => casting
//   - casting sustained past cast_max_ms => channeling (when enabled)
//   - band lost before cast_min_ms + cancel_grace_ms => still casting
//     (absorbs one-frame brightness dropouts), afterwards => ready
//   - cast bar gate inactive => candidate frames reset, no promotion
package main

import "time"

// CastSettings is the flat configuration record of the cast automaton.
type CastSettings struct {
	Enabled           bool
	MinFraction       float64
	MaxFraction       float64
	ConfirmFrames     int
	MinMs             int
	MaxMs             int
	CancelGraceMs     int
	ChannelingEnabled bool
}

// DefaultCastSettings returns the defaults tuned for a standard cast overlay.
func DefaultCastSettings() CastSettings {
	return CastSettings{
		Enabled:           true,
		MinFraction:       0.05,
		MaxFraction:       0.22,
		ConfirmFrames:     2,
		MinMs:             150,
		MaxMs:             3000,
		CancelGraceMs:     120,
		ChannelingEnabled: true,
	}
}

// castRuntime is the per-slot temporal memory of the cast machine. It is
// independent of the perception engine's cooldown memory.
type castRuntime struct {
	state              SlotState
	castCandidateFrames int
	castStartedAt      time.Time
	castEndsAt         time.Time
	lastCastStartAt    time.Time
	lastCastSuccessAt  time.Time
}

// CastEngine detects casting/channeling from intermediate darkened fractions.
// It never mutates its input snapshots; ProcessStates returns a new slice.
type CastEngine struct {
	settings CastSettings
	runtime  map[int]*castRuntime

	now func() time.Time
}

// NewCastEngine creates a cast engine with default settings.
func NewCastEngine() *CastEngine {
	return &CastEngine{
		settings: DefaultCastSettings(),
		runtime:  make(map[int]*castRuntime),
		now:      time.Now,
	}
}

// UpdateSettings applies a new configuration without touching runtime state.
func (ce *CastEngine) UpdateSettings(s CastSettings) {
	if s.ConfirmFrames < 1 {
		s.ConfirmFrames = 1
	}
	ce.settings = s
}

// Reset clears all per-slot cast memory, forcing re-confirmation.
func (ce *CastEngine) Reset() {
	ce.runtime = make(map[int]*castRuntime)
}

// ProcessStates post-processes raw slot snapshots with cast detection.
// Disabled engines pass the input through untouched.
func (ce *CastEngine) ProcessStates(raw []SlotSnapshot, castGateActive bool) []SlotSnapshot {
	if !ce.settings.Enabled {
		return raw
	}
	now := ce.now()
	out := make([]SlotSnapshot, len(raw))
	for i, snap := range raw {
		snap.State = ce.determineCastState(snap.Index, snap.State, snap.DarkenedFraction, now, castGateActive)
		out[i] = snap
	}
	return out
}

// determineCastState runs the cast machine for one slot and returns the state
// to report this cycle.
func (ce *CastEngine) determineCastState(slotIndex int, rawState SlotState, darkenedFraction float64, now time.Time, castGateActive bool) SlotState {
	rt, ok := ce.runtime[slotIndex]
	if !ok {
		rt = &castRuntime{state: SlotReady}
		ce.runtime[slotIndex] = rt
	}

	castMin := time.Duration(ce.settings.MinMs) * time.Millisecond
	if castMin < 50*time.Millisecond {
		castMin = 50 * time.Millisecond
	}
	castMax := time.Duration(ce.settings.MaxMs) * time.Millisecond
	if castMax < castMin {
		castMax = castMin
	}
	cancelGrace := time.Duration(ce.settings.CancelGraceMs) * time.Millisecond
	if cancelGrace < 0 {
		cancelGrace = 0
	}

	isOnCooldown := rawState == SlotOnCooldown || rawState == SlotGcd
	castCandidate := darkenedFraction >= ce.settings.MinFraction &&
		darkenedFraction < ce.settings.MaxFraction

	// Cooldown overrides any cast state; a cast that ends in a cooldown
	// counts as a success.
	if isOnCooldown {
		if !rt.castStartedAt.IsZero() {
			rt.lastCastSuccessAt = now
		}
		rt.castCandidateFrames = 0
		rt.castStartedAt = time.Time{}
		rt.castEndsAt = time.Time{}
		rt.state = SlotReady
		return rawState
	}

	// Currently casting/channeling
	if rt.state == SlotCasting || rt.state == SlotChanneling {
		startedAt := rt.castStartedAt
		if startedAt.IsZero() {
			startedAt = now
		}
		elapsed := now.Sub(startedAt)

		if castCandidate {
			if ce.settings.ChannelingEnabled && rt.state == SlotCasting && elapsed >= castMax {
				rt.state = SlotChanneling
				rt.castEndsAt = time.Time{}
			}
			return rt.state
		}
		if elapsed < castMin+cancelGrace {
			return rt.state
		}
		// Cast ended without a cooldown
		rt.state = SlotReady
		rt.castStartedAt = time.Time{}
		rt.castEndsAt = time.Time{}
		rt.castCandidateFrames = 0
		return rawState
	}

	// Potential new cast
	if castCandidate {
		if !castGateActive {
			rt.castCandidateFrames = 0
			rt.state = SlotReady
			rt.castStartedAt = time.Time{}
			rt.castEndsAt = time.Time{}
			return rawState
		}
		rt.castCandidateFrames++
		if rt.castCandidateFrames >= ce.settings.ConfirmFrames {
			rt.state = SlotCasting
			rt.castStartedAt = now
			rt.lastCastStartAt = now
			rt.castEndsAt = now.Add(castMax)
			return SlotCasting
		}
		return rawState
	}

	// Default: reset cast tracking, pass the raw state through
	rt.castCandidateFrames = 0
	rt.state = SlotReady
	rt.castStartedAt = time.Time{}
	rt.castEndsAt = time.Time{}
	return rawState
}
