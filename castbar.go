// Package main - castbar.go
//
// Cast bar analyzer: HSV color gate + fill progress for the on-screen cast
// bar. Operates on its own small capture region, independent of the slot bar.
//
// Algorithm per cycle:
//   1. Clamp the fractional progress sub-rectangle into the frame (the
//      captured region usually includes chrome around the visual bar)
//   2. Build a boolean mask of pixels whose hue falls in the configured range
//      (wraparound supported) with saturation/value above their minimums
//   3. fill fraction >= active_pixel_fraction for confirm_frames consecutive
//      cycles confirms the bar as active
//   4. Progress = (rightmost mask-active column + 1) / columns; cast bars
//      fill left to right
//   5. Channeling is flagged when confirmed progress regresses by more than
//      0.05 versus the previous confirmed cycle - channel bars drain or loop
//
// Hue/saturation/value use the OpenCV ranges the thresholds were calibrated
// in: hue 0..179 (degrees/2), saturation and value 0..255.
package main

import (
	"image"
	"time"
)

// ProgressRect is the fractional sub-rectangle of the capture region that
// holds the actual bar fill.
type ProgressRect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// CastBarSettings is the flat configuration record of the cast bar analyzer.
type CastBarSettings struct {
	HueMin         int
	HueMax         int
	SatMin         int
	ValMin         int
	ActiveFraction float64
	ConfirmFrames  int
	Progress       ProgressRect
}

// DefaultCastBarSettings matches the yellow/orange fill of a standard bar.
func DefaultCastBarSettings() CastBarSettings {
	return CastBarSettings{
		HueMin:         15,
		HueMax:         45,
		SatMin:         80,
		ValMin:         120,
		ActiveFraction: 0.15,
		ConfirmFrames:  2,
		Progress:       ProgressRect{X: 0.02, Y: 0.15, W: 0.96, H: 0.7},
	}
}

// CastBarAnalyzer detects the cast bar gate and progress. The confirm counter
// and progress history are its only mutable state; Reset clears both.
type CastBarAnalyzer struct {
	settings CastBarSettings

	candidateFrames int
	wasActive       bool
	lastProgress    float64
	activeSince     time.Time

	now func() time.Time
}

// NewCastBarAnalyzer creates an analyzer with default settings.
func NewCastBarAnalyzer() *CastBarAnalyzer {
	return &CastBarAnalyzer{
		settings: DefaultCastBarSettings(),
		now:      time.Now,
	}
}

// UpdateSettings applies a new configuration without touching runtime state.
func (cb *CastBarAnalyzer) UpdateSettings(s CastBarSettings) {
	if s.ConfirmFrames < 1 {
		s.ConfirmFrames = 1
	}
	if s.Progress.W <= 0 {
		s.Progress.W = 1
	}
	if s.Progress.H <= 0 {
		s.Progress.H = 1
	}
	cb.settings = s
}

// Reset clears confirm counters and history, forcing re-confirmation.
func (cb *CastBarAnalyzer) Reset() {
	cb.candidateFrames = 0
	cb.wasActive = false
	cb.lastProgress = 0
	cb.activeSince = time.Time{}
}

// Analyze inspects one cast bar region frame and returns the gate state.
// Empty frames report inactive without disturbing the confirm counter.
func (cb *CastBarAnalyzer) Analyze(frame *image.RGBA) CastBarState {
	now := unixSeconds(cb.now())
	if frame == nil || frame.Bounds().Empty() {
		return CastBarState{Timestamp: now}
	}

	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()

	pr := cb.settings.Progress
	px := clampInt(int(pr.X*float64(w)), 0, w-1)
	py := clampInt(int(pr.Y*float64(h)), 0, h-1)
	pw := clampInt(int(pr.W*float64(w)), 1, w-px)
	ph := clampInt(int(pr.H*float64(h)), 1, h-py)

	// Column-wise mask summary: per-column activity plus a total count.
	colActive := make([]bool, pw)
	activePixels := 0
	for y := 0; y < ph; y++ {
		for x := 0; x < pw; x++ {
			c := frame.RGBAAt(b.Min.X+px+x, b.Min.Y+py+y)
			hue, sat, val := rgbToHSV(c.R, c.G, c.B)
			if cb.hueInRange(hue) && int(sat) >= cb.settings.SatMin && int(val) >= cb.settings.ValMin {
				colActive[x] = true
				activePixels++
			}
		}
	}

	fraction := float64(activePixels) / float64(pw*ph)
	if fraction >= cb.settings.ActiveFraction {
		cb.candidateFrames++
	} else {
		cb.candidateFrames = 0
	}
	confirmed := cb.candidateFrames >= cb.settings.ConfirmFrames

	progress := 0.0
	channeling := false
	if confirmed {
		progress = measureProgress(colActive)
		if cb.activeSince.IsZero() {
			cb.activeSince = cb.now()
		}
		if cb.wasActive && progress < cb.lastProgress-0.05 {
			channeling = true
		}
	} else {
		cb.activeSince = time.Time{}
	}

	cb.wasActive = confirmed
	if confirmed {
		cb.lastProgress = progress
	} else {
		cb.lastProgress = 0
	}

	return CastBarState{
		Active:     confirmed,
		Progress:   progress,
		Channeling: channeling,
		Timestamp:  now,
	}
}

func (cb *CastBarAnalyzer) hueInRange(hue uint8) bool {
	h := int(hue)
	if cb.settings.HueMin <= cb.settings.HueMax {
		return h >= cb.settings.HueMin && h <= cb.settings.HueMax
	}
	// Wraparound range, e.g. red bars spanning 170..10
	return h >= cb.settings.HueMin || h <= cb.settings.HueMax
}

// measureProgress finds the rightmost active column; the bar fills left to
// right, so progress = (rightmost + 1) / columns.
func measureProgress(colActive []bool) float64 {
	for x := len(colActive) - 1; x >= 0; x-- {
		if colActive[x] {
			return float64(x+1) / float64(len(colActive))
		}
	}
	return 0
}

// rgbToHSV converts to the OpenCV HSV ranges: hue 0..179, sat/val 0..255.
func rgbToHSV(r, g, b uint8) (hue, sat, val uint8) {
	rf, gf, bf := int(r), int(g), int(b)
	maxC := rf
	if gf > maxC {
		maxC = gf
	}
	if bf > maxC {
		maxC = bf
	}
	minC := rf
	if gf < minC {
		minC = gf
	}
	if bf < minC {
		minC = bf
	}
	delta := maxC - minC

	val = uint8(maxC)
	if maxC == 0 {
		return 0, 0, 0
	}
	sat = uint8(255 * delta / maxC)
	if delta == 0 {
		return 0, sat, val
	}

	var hDeg int
	switch maxC {
	case rf:
		hDeg = (60*(gf-bf)/delta + 360) % 360
	case gf:
		hDeg = 60*(bf-rf)/delta + 120
	default:
		hDeg = 60*(rf-gf)/delta + 240
	}
	return uint8(hDeg / 2), sat, val
}

// clampInt clamps v into [lo, hi]
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
