package main

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformFrame(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

func paintRect(img *image.RGBA, r image.Rectangle, v uint8) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
}

func testAnalyzer(t *testing.T, mutate func(*PerceptionSettings)) (*SlotAnalyzer, *time.Time) {
	t.Helper()
	s := DefaultPerceptionSettings()
	s.DetectionRegion = RegionFull
	s.CooldownMinMs = 0
	if mutate != nil {
		mutate(&s)
	}
	a := NewSlotAnalyzer()
	a.UpdateSettings(s)
	now := time.Unix(1700000000, 0)
	a.now = func() time.Time { return now }
	return a, &now
}

func TestComputeSlotLayouts(t *testing.T) {
	layouts := ComputeSlotLayouts(10, 2, 400, 50)
	require.Len(t, layouts, 10)

	// (400 - 9*2) / 10
	assert.Equal(t, 38, layouts[0].Width)
	for i, l := range layouts {
		assert.Equal(t, i, l.Index)
		assert.Equal(t, i*40, l.XOffset)
		assert.Equal(t, 50, l.Height)
		assert.LessOrEqual(t, l.XOffset+l.Width, 400)
	}
}

func TestAnalyzeWithoutBaselinesReportsUnknown(t *testing.T) {
	a, _ := testAnalyzer(t, nil)
	snapshots := a.AnalyzeFrame(uniformFrame(400, 50, 200), false)
	require.Len(t, snapshots, 10)
	for _, snap := range snapshots {
		assert.Equal(t, SlotUnknown, snap.State)
	}
}

func TestCalibratedBrightFrameIsReady(t *testing.T) {
	a, _ := testAnalyzer(t, nil)
	frame := uniformFrame(400, 50, 200)

	count, err := a.CalibrateAll(frame)
	require.NoError(t, err)
	assert.Equal(t, 10, count)
	assert.True(t, a.HasBaselines())

	for _, snap := range a.AnalyzeFrame(frame, false) {
		assert.Equal(t, SlotReady, snap.State)
		assert.Zero(t, snap.DarkenedFraction)
	}
}

func TestUniformDarkeningPutsAllSlotsOnCooldown(t *testing.T) {
	a, _ := testAnalyzer(t, nil)
	_, err := a.CalibrateAll(uniformFrame(400, 50, 200))
	require.NoError(t, err)

	for _, snap := range a.AnalyzeFrame(uniformFrame(400, 50, 50), false) {
		assert.Equal(t, SlotOnCooldown, snap.State)
		assert.Greater(t, snap.DarkenedFraction, 0.9)
	}
}

func TestGcdDebounce(t *testing.T) {
	a, now := testAnalyzer(t, func(s *PerceptionSettings) { s.CooldownMinMs = 2000 })
	_, err := a.CalibrateAll(uniformFrame(400, 50, 200))
	require.NoError(t, err)

	dark := uniformFrame(400, 50, 50)
	for _, snap := range a.AnalyzeFrame(dark, false) {
		assert.Equal(t, SlotGcd, snap.State)
	}

	*now = now.Add(500 * time.Millisecond)
	for _, snap := range a.AnalyzeFrame(dark, false) {
		assert.Equal(t, SlotGcd, snap.State)
	}

	*now = now.Add(2 * time.Second)
	for _, snap := range a.AnalyzeFrame(dark, false) {
		assert.Equal(t, SlotOnCooldown, snap.State)
	}
}

func TestHysteresisHoldsBetweenReleaseAndTrigger(t *testing.T) {
	a, _ := testAnalyzer(t, nil)
	_, err := a.CalibrateAll(uniformFrame(400, 50, 200))
	require.NoError(t, err)

	// Slot 0's padded crop is x [3,35), y [3,47): 32x44 pixels.
	crop := image.Rect(3, 3, 35, 47)

	full := uniformFrame(400, 50, 200)
	paintRect(full, crop, 50)
	snap := a.AnalyzeFrame(full, false)[0]
	require.Equal(t, SlotOnCooldown, snap.State)

	// 6 of 32 columns dark: fraction 0.1875, above release (0.15) but below
	// trigger (0.30). Hysteresis keeps the slot on cooldown.
	partial := uniformFrame(400, 50, 200)
	paintRect(partial, image.Rect(3, 3, 9, 47), 50)
	snap = a.AnalyzeFrame(partial, false)[0]
	assert.Equal(t, SlotOnCooldown, snap.State)
	assert.InDelta(t, 0.1875, snap.DarkenedFraction, 0.001)

	// Same frame from a ready slot would not trigger.
	snap = a.AnalyzeFrame(uniformFrame(400, 50, 200), false)[0]
	require.Equal(t, SlotReady, snap.State)
	snap = a.AnalyzeFrame(partial, false)[0]
	assert.Equal(t, SlotReady, snap.State)
}

func TestShapeMismatchDegradesToUnknown(t *testing.T) {
	a, _ := testAnalyzer(t, nil)
	a.SetBaselines(map[int]*image.Gray{0: image.NewGray(image.Rect(0, 0, 5, 5))})

	snap := a.AnalyzeFrame(uniformFrame(400, 50, 200), false)[0]
	assert.Equal(t, SlotUnknown, snap.State)
}

func TestCalibrateSlotOutOfRange(t *testing.T) {
	a, _ := testAnalyzer(t, nil)
	frame := uniformFrame(400, 50, 200)

	assert.Error(t, a.CalibrateSlot(frame, -1))
	assert.Error(t, a.CalibrateSlot(frame, 10))
	assert.NoError(t, a.CalibrateSlot(frame, 9))
}

func TestLayoutChangeClearsBaselines(t *testing.T) {
	a, _ := testAnalyzer(t, nil)
	_, err := a.CalibrateAll(uniformFrame(400, 50, 200))
	require.NoError(t, err)
	require.True(t, a.HasBaselines())

	s := a.settings
	s.SlotCount = 8
	a.UpdateSettings(s)
	assert.False(t, a.HasBaselines())
}

func TestBaselineRoundTrip(t *testing.T) {
	a, _ := testAnalyzer(t, nil)
	_, err := a.CalibrateAll(uniformFrame(400, 50, 137))
	require.NoError(t, err)

	records := EncodeBaselines(a.Baselines())
	require.Len(t, records, 10)

	restored, err := DecodeBaselines(records)
	require.NoError(t, err)
	require.Len(t, restored, 10)
	for idx, gray := range a.Baselines() {
		assert.Equal(t, gray.Bounds(), restored[idx].Bounds())
		assert.Equal(t, gray.Pix, restored[idx].Pix)
	}
}

func TestBaselinesCompatible(t *testing.T) {
	a, _ := testAnalyzer(t, nil)
	_, err := a.CalibrateAll(uniformFrame(400, 50, 200))
	require.NoError(t, err)
	records := EncodeBaselines(a.Baselines())

	assert.True(t, a.BaselinesCompatible(records))

	stale := append([]BaselineRecord(nil), records...)
	stale[0].Shape = [2]int{44, 30}
	assert.False(t, a.BaselinesCompatible(stale))

	s := a.settings
	s.SlotCount = 8
	a.UpdateSettings(s)
	// Old records reference slot indices and widths the new layout lacks.
	assert.False(t, a.BaselinesCompatible(records))
}

func TestDecodeBaselinesRejectsBadShape(t *testing.T) {
	records := EncodeBaselines(map[int]*image.Gray{0: image.NewGray(image.Rect(0, 0, 4, 4))})
	require.Len(t, records, 1)
	records[0].Shape = [2]int{3, 3}

	_, err := DecodeBaselines(records)
	assert.Error(t, err)
}

func TestTopLeftDetectionIgnoresBottomRight(t *testing.T) {
	a, _ := testAnalyzer(t, func(s *PerceptionSettings) { s.DetectionRegion = RegionTopLeft })
	_, err := a.CalibrateAll(uniformFrame(400, 50, 200))
	require.NoError(t, err)

	// Darken only the bottom half of slot 0's crop; the top-left quadrant is
	// untouched, so the slot stays ready.
	frame := uniformFrame(400, 50, 200)
	paintRect(frame, image.Rect(3, 25, 35, 47), 50)
	snap := a.AnalyzeFrame(frame, false)[0]
	assert.Equal(t, SlotReady, snap.State)
}

func TestChangeIgnoreSlots(t *testing.T) {
	a, _ := testAnalyzer(t, func(s *PerceptionSettings) { s.ChangeIgnoreSlots = []int{0} })
	_, err := a.CalibrateAll(uniformFrame(400, 50, 100))
	require.NoError(t, err)

	// Brightening counts as change, not darkening. Slot 0 is exempt from the
	// change trigger, slot 1 is not.
	frame := uniformFrame(400, 50, 100)
	paintRect(frame, image.Rect(3, 3, 35, 47), 250)
	paintRect(frame, image.Rect(43, 3, 75, 47), 250)

	snapshots := a.AnalyzeFrame(frame, false)
	assert.Equal(t, SlotReady, snapshots[0].State)
	assert.Equal(t, SlotOnCooldown, snapshots[1].State)
}
