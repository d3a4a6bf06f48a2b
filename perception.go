// Package main - perception.go
//
// Slot perception engine: per-slot cooldown detection by comparing grayscale
// brightness against calibrated baselines.
//
// Pipeline position: first stage of each cycle. Consumes the raw capture
// frame, emits one SlotSnapshot per slot.
//
// Detection algorithm per slot:
//   1. Crop the slot region (padding inset) and convert to grayscale
//   2. drop = baseline - current (signed, per pixel)
//   3. darkened fraction = pixels with drop > threshold
//   4. changed fraction  = pixels with |drop| > threshold (brightening too)
//   5. raw cooldown when either fraction crosses its trigger
//   6. hysteresis: once on cooldown, hold while fractions stay above
//      trigger * release factor
//   7. GCD debounce: a fresh trigger reports "gcd" until cooldown_min_ms
//      elapse, then "on_cooldown"
//
// The optional "top_left" detection region restricts comparison to the
// top-left quadrant of the slot, for clients that animate chrome elsewhere in
// the slot without indicating a cooldown.
//
// Missing baselines, empty crops, and shape mismatches degrade to "unknown";
// the per-cycle path never returns an error.
package main

import (
	"fmt"
	"image"
	"time"
)

// Detection region modes
const (
	RegionFull    = "full"
	RegionTopLeft = "top_left"
)

// PerceptionSettings is the flat configuration record of the perception
// engine. Field names mirror the persisted config keys.
type PerceptionSettings struct {
	SlotCount                int
	SlotGap                  int
	SlotPadding              int
	BoxWidth                 int
	BoxHeight                int
	DarkenThreshold          int
	TriggerFraction          float64
	ChangeFraction           float64
	ChangeIgnoreSlots        []int
	DetectionRegion          string
	DetectionRegionOverrides map[int]string
	CooldownMinMs            int
	ReleaseFactor            float64
}

// DefaultPerceptionSettings returns the calibration-friendly defaults.
func DefaultPerceptionSettings() PerceptionSettings {
	return PerceptionSettings{
		SlotCount:       10,
		SlotGap:         2,
		SlotPadding:     3,
		BoxWidth:        400,
		BoxHeight:       50,
		DarkenThreshold: 40,
		TriggerFraction: 0.30,
		ChangeFraction:  0.30,
		DetectionRegion: RegionTopLeft,
		CooldownMinMs:   2000,
		ReleaseFactor:   0.5,
	}
}

// slotRuntime is the per-slot temporal memory of the cooldown machine.
type slotRuntime struct {
	state                      SlotState
	cooldownCandidateStartedAt time.Time
	lastDarkenedFraction       float64
}

// SlotAnalyzer detects per-slot cooldown states. It owns the baselines and
// the per-slot runtime exclusively; nothing else mutates them. When a
// CastEngine is attached (inline stage), cast overlay runs inside
// AnalyzeFrame; otherwise the engine loop applies it as a second pass.
type SlotAnalyzer struct {
	settings PerceptionSettings
	layouts  []SlotLayout

	baselines map[int]*image.Gray
	runtime   []slotRuntime

	ignoreChange map[int]bool
	inlineCast   *CastEngine

	now func() time.Time
}

// NewSlotAnalyzer creates an analyzer with default settings and no baselines.
func NewSlotAnalyzer() *SlotAnalyzer {
	a := &SlotAnalyzer{
		baselines: make(map[int]*image.Gray),
		now:       time.Now,
	}
	a.UpdateSettings(DefaultPerceptionSettings())
	return a
}

// AttachCastEngine enables the inline cast stage. Pass nil to detach.
func (a *SlotAnalyzer) AttachCastEngine(engine *CastEngine) {
	a.inlineCast = engine
}

// UpdateSettings applies a new configuration. Baselines and runtime state are
// cleared whenever the slot layout changes, forcing recalibration.
func (a *SlotAnalyzer) UpdateSettings(s PerceptionSettings) {
	layoutChanged := s.SlotCount != a.settings.SlotCount ||
		s.SlotGap != a.settings.SlotGap ||
		s.SlotPadding != a.settings.SlotPadding ||
		s.BoxWidth != a.settings.BoxWidth ||
		s.BoxHeight != a.settings.BoxHeight

	if s.SlotCount < 1 {
		s.SlotCount = 1
	}
	if s.CooldownMinMs < 0 {
		s.CooldownMinMs = 0
	}
	if s.ReleaseFactor <= 0 {
		s.ReleaseFactor = 0.5
	}
	if s.DetectionRegion == "" {
		s.DetectionRegion = RegionFull
	}
	a.settings = s

	a.ignoreChange = make(map[int]bool, len(s.ChangeIgnoreSlots))
	for _, idx := range s.ChangeIgnoreSlots {
		a.ignoreChange[idx] = true
	}

	a.layouts = ComputeSlotLayouts(s.SlotCount, s.SlotGap, s.BoxWidth, s.BoxHeight)

	if layoutChanged || len(a.runtime) != s.SlotCount {
		a.runtime = make([]slotRuntime, s.SlotCount)
		for i := range a.runtime {
			a.runtime[i].state = SlotUnknown
		}
	}
	if layoutChanged {
		a.baselines = make(map[int]*image.Gray)
		LogInfo("Slot layout changed - baselines cleared, recalibrate required")
	}
}

// Layouts returns the computed pixel layout of each slot
func (a *SlotAnalyzer) Layouts() []SlotLayout {
	out := make([]SlotLayout, len(a.layouts))
	copy(out, a.layouts)
	return out
}

// HasBaselines reports whether any slot has been calibrated
func (a *SlotAnalyzer) HasBaselines() bool { return len(a.baselines) > 0 }

// Baselines returns a copy of the calibrated baselines for persistence.
func (a *SlotAnalyzer) Baselines() map[int]*image.Gray {
	out := make(map[int]*image.Gray, len(a.baselines))
	for idx, gray := range a.baselines {
		clone := image.NewGray(gray.Bounds())
		copy(clone.Pix, gray.Pix)
		out[idx] = clone
	}
	return out
}

// SetBaselines replaces all baselines (typically restored from persistence)
// and resets the affected runtime state.
func (a *SlotAnalyzer) SetBaselines(baselines map[int]*image.Gray) {
	a.baselines = make(map[int]*image.Gray, len(baselines))
	for idx, gray := range baselines {
		clone := image.NewGray(gray.Bounds())
		copy(clone.Pix, gray.Pix)
		a.baselines[idx] = clone
		if idx >= 0 && idx < len(a.runtime) {
			a.runtime[idx] = slotRuntime{state: SlotUnknown}
		}
	}
	LogInfo("Loaded %d slot baselines", len(a.baselines))
}

// BaselinesCompatible reports whether persisted baseline records match the
// current slot geometry. Records captured under an older layout fail here and
// should be discarded rather than imported.
func (a *SlotAnalyzer) BaselinesCompatible(records []BaselineRecord) bool {
	pad := a.settings.SlotPadding
	for _, rec := range records {
		if rec.Index < 0 || rec.Index >= len(a.layouts) {
			return false
		}
		l := a.layouts[rec.Index]
		x1 := l.XOffset + pad
		y1 := l.YOffset + pad
		w := max(1, l.Width-2*pad)
		h := max(1, l.Height-2*pad)
		// Same clipping cropSlot applies at the frame edge.
		w = min(w, a.settings.BoxWidth-x1)
		h = min(h, a.settings.BoxHeight-y1)
		if rec.Shape[0] != h || rec.Shape[1] != w {
			return false
		}
	}
	return true
}

// CalibrateAll captures a baseline for every slot from a single frame.
// Returns how many slots were calibrated.
func (a *SlotAnalyzer) CalibrateAll(frame *image.RGBA) (int, error) {
	if frame == nil || frame.Bounds().Empty() {
		return 0, fmt.Errorf("calibrate: empty frame")
	}
	calibrated := 0
	for _, layout := range a.layouts {
		crop := a.cropSlot(frame, layout)
		if crop == nil {
			LogWarn("Skipping baseline for slot %d: empty crop", layout.Index)
			continue
		}
		a.baselines[layout.Index] = grayFromRGBA(crop)
		a.runtime[layout.Index] = slotRuntime{state: SlotUnknown}
		calibrated++
	}
	if calibrated == 0 {
		return 0, fmt.Errorf("calibrate: no slot produced a usable crop")
	}
	LogInfo("Calibrated brightness baselines for %d slots", calibrated)
	return calibrated, nil
}

// CalibrateSlot recalibrates a single slot's baseline. Out-of-range indices
// are a reported failure, never a panic.
func (a *SlotAnalyzer) CalibrateSlot(frame *image.RGBA, slotIndex int) error {
	if slotIndex < 0 || slotIndex >= len(a.layouts) {
		return fmt.Errorf("calibrate slot: invalid slot index %d", slotIndex)
	}
	if frame == nil || frame.Bounds().Empty() {
		return fmt.Errorf("calibrate slot %d: empty frame", slotIndex)
	}
	crop := a.cropSlot(frame, a.layouts[slotIndex])
	if crop == nil {
		return fmt.Errorf("calibrate slot %d: empty crop", slotIndex)
	}
	a.baselines[slotIndex] = grayFromRGBA(crop)
	a.runtime[slotIndex] = slotRuntime{state: SlotUnknown}
	LogInfo("Calibrated baseline for slot %d", slotIndex)
	return nil
}

// AnalyzeFrame analyzes every slot in a frame and returns per-slot snapshots.
// castGateActive only matters when a CastEngine is attached inline.
func (a *SlotAnalyzer) AnalyzeFrame(frame *image.RGBA, castGateActive bool) []SlotSnapshot {
	now := a.now()
	ts := unixSeconds(now)
	snapshots := make([]SlotSnapshot, 0, len(a.layouts))
	cooldownMin := time.Duration(a.settings.CooldownMinMs) * time.Millisecond

	for _, layout := range a.layouts {
		crop := a.cropSlot(frame, layout)
		baseline := a.baselines[layout.Index]

		darkened, changed, ok := a.compareToBaseline(crop, baseline, layout.Index)
		if !ok {
			snapshots = append(snapshots, SlotSnapshot{
				Index: layout.Index, State: SlotUnknown, Timestamp: ts,
			})
			continue
		}

		rawDark := darkened >= a.settings.TriggerFraction
		rawChanged := !a.ignoreChange[layout.Index] && changed >= a.settings.ChangeFraction
		rawCooldown := rawDark || rawChanged

		rt := &a.runtime[layout.Index]

		// Hysteresis: a slot already on cooldown holds while either fraction
		// stays above the release threshold.
		if rt.state == SlotOnCooldown {
			darkRelease := a.settings.TriggerFraction * a.settings.ReleaseFactor
			changeRelease := a.settings.ChangeFraction * a.settings.ReleaseFactor
			holdDark := darkened >= darkRelease
			holdChange := !a.ignoreChange[layout.Index] && changed >= changeRelease
			rawCooldown = rawCooldown || holdDark || holdChange
		}

		// Fresh triggers report GCD until the minimum cooldown duration passes.
		cooldownPending := false
		if rawCooldown {
			if rt.cooldownCandidateStartedAt.IsZero() {
				rt.cooldownCandidateStartedAt = now
			}
			if rt.state != SlotOnCooldown && cooldownMin > 0 &&
				now.Sub(rt.cooldownCandidateStartedAt) < cooldownMin {
				cooldownPending = true
			}
		} else {
			rt.cooldownCandidateStartedAt = time.Time{}
		}

		state := SlotReady
		if rawCooldown && !cooldownPending {
			state = SlotOnCooldown
		} else if cooldownPending {
			state = SlotGcd
		}
		rt.state = state
		rt.lastDarkenedFraction = darkened

		snapshots = append(snapshots, SlotSnapshot{
			Index:            layout.Index,
			State:            state,
			DarkenedFraction: darkened,
			ChangedFraction:  changed,
			Timestamp:        ts,
		})
	}

	if a.inlineCast != nil {
		snapshots = a.inlineCast.ProcessStates(snapshots, castGateActive)
	}
	return snapshots
}

// cropSlot extracts one slot's padded sub-image. Returns nil when the padded
// region falls outside the frame.
func (a *SlotAnalyzer) cropSlot(frame *image.RGBA, layout SlotLayout) *image.RGBA {
	if frame == nil {
		return nil
	}
	pad := a.settings.SlotPadding
	b := frame.Bounds()
	x1 := b.Min.X + layout.XOffset + pad
	y1 := b.Min.Y + layout.YOffset + pad
	w := layout.Width - 2*pad
	h := layout.Height - 2*pad
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	x2 := min(b.Max.X, x1+w)
	y2 := min(b.Max.Y, y1+h)
	if x2 <= x1 || y2 <= y1 {
		return nil
	}
	return frame.SubImage(image.Rect(x1, y1, x2, y2)).(*image.RGBA)
}

// compareToBaseline computes darkened/changed fractions for a slot crop
// against its baseline, honoring the slot's detection region mode. ok=false
// signals a missing baseline, empty crop, or shape mismatch.
func (a *SlotAnalyzer) compareToBaseline(crop *image.RGBA, baseline *image.Gray, slotIndex int) (darkened, changed float64, ok bool) {
	if crop == nil || baseline == nil {
		return 0, 0, false
	}

	regionMode := a.settings.DetectionRegion
	if override, exists := a.settings.DetectionRegionOverrides[slotIndex]; exists {
		regionMode = override
	}

	cb := crop.Bounds()
	cw, ch := cb.Dx(), cb.Dy()
	bb := baseline.Bounds()
	bw, bh := bb.Dx(), bb.Dy()

	// Detection window within both images, anchored top-left.
	dw, dh := cw, ch
	if regionMode == RegionTopLeft {
		dw = max(1, cw/2)
		dh = max(1, ch/2)
	}
	if cw != bw || ch != bh || dw > bw || dh > bh {
		return 0, 0, false
	}

	thresh := a.settings.DarkenThreshold
	total := dw * dh
	darkCount, changeCount := 0, 0
	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			cur := int(grayAt(crop, cb.Min.X+x, cb.Min.Y+y))
			base := int(baseline.GrayAt(bb.Min.X+x, bb.Min.Y+y).Y)
			drop := base - cur
			if drop > thresh {
				darkCount++
			}
			if drop > thresh || -drop > thresh {
				changeCount++
			}
		}
	}
	return float64(darkCount) / float64(total), float64(changeCount) / float64(total), true
}

// grayFromRGBA converts a crop to a tightly packed grayscale image using the
// BT.601 luma weights.
func grayFromRGBA(img *image.RGBA) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			gray.Pix[(y-b.Min.Y)*gray.Stride+(x-b.Min.X)] = grayAt(img, x, y)
		}
	}
	return gray
}

// grayAt returns the BT.601 luma of one RGBA pixel
func grayAt(img *image.RGBA, x, y int) uint8 {
	c := img.RGBAAt(x, y)
	return uint8((299*int(c.R) + 587*int(c.G) + 114*int(c.B)) / 1000)
}

// unixSeconds converts a time to float seconds since the epoch
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
