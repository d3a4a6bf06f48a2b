// Package main - capture.go
//
// Frame capture for the detection pipeline.
//
// The engine only sees the Capturer interface: one call per region per cycle,
// returning an RGBA buffer already cropped to the region of interest. Two
// implementations exist - the native screen grabber below and the
// chromedp-backed browser grabber in browser.go.
package main

import (
	"fmt"
	"image"
	"sync"

	"github.com/kbinani/screenshot"
)

// Capturer grabs one rectangular screen region as an RGBA image.
type Capturer interface {
	Capture(region image.Rectangle) (*image.RGBA, error)
}

// ScreenCapturer grabs regions from a physical display. Coordinates are
// relative to the chosen display's origin.
type ScreenCapturer struct {
	displayIndex int

	mu   sync.RWMutex
	last *image.RGBA
}

// NewScreenCapturer creates a capturer bound to one display. Out-of-range
// display indices fall back to the primary display.
func NewScreenCapturer(displayIndex int) *ScreenCapturer {
	if displayIndex < 0 || displayIndex >= screenshot.NumActiveDisplays() {
		displayIndex = 0
	}
	return &ScreenCapturer{displayIndex: displayIndex}
}

// Capture grabs one region of the display.
func (sc *ScreenCapturer) Capture(region image.Rectangle) (*image.RGBA, error) {
	if region.Empty() {
		return nil, fmt.Errorf("capture: empty region")
	}
	origin := screenshot.GetDisplayBounds(sc.displayIndex).Min
	img, err := screenshot.CaptureRect(region.Add(origin))
	if err != nil {
		return nil, fmt.Errorf("capture rect %v: %w", region, err)
	}

	sc.mu.Lock()
	sc.last = img
	sc.mu.Unlock()
	return img, nil
}

// LastFrame returns the most recently captured frame, or nil before the
// first grab. Used for operator-initiated calibration.
func (sc *ScreenCapturer) LastFrame() *image.RGBA {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.last
}
