// Package main - action.go
//
// OS-level input dispatch and window focus probing via robotgo.
//
// Key Responsibilities:
//   - Keyboard event simulation (single keys and modifier combos)
//   - Foreground window title matching for focus gating
//
// Error Handling:
// Dispatch is fire-and-forget from the arbiter's point of view: a failed send
// is logged and reported back as an error, and the caller treats the cycle as
// if nothing happened. Nothing here retries.
package main

import (
	"fmt"
	"strings"

	"github.com/go-vgo/robotgo"
)

// NativeSender dispatches keybinds through the OS input subsystem.
type NativeSender struct{}

// NewNativeSender creates a native key dispatcher
func NewNativeSender() *NativeSender {
	return &NativeSender{}
}

// Send taps a normalized keybind ("ctrl+1", "f5"). Modifier tokens are split
// off and held for the tap.
func (s *NativeSender) Send(bind string) error {
	mods, primary, ok := ParseBind(bind)
	if !ok {
		return fmt.Errorf("invalid keybind %q", bind)
	}

	var err error
	if len(mods) == 0 {
		err = robotgo.KeyTap(primary)
	} else {
		args := make([]interface{}, len(mods))
		for i, mod := range mods {
			args[i] = mod
		}
		err = robotgo.KeyTap(primary, args...)
	}
	if err != nil {
		return fmt.Errorf("key tap %q: %w", bind, err)
	}

	LogDebug("Key sent: %s", bind)
	return nil
}

// ForegroundWindow probes the currently focused window's title.
type ForegroundWindow struct{}

// NewForegroundWindow creates a focus probe
func NewForegroundWindow() *ForegroundWindow {
	return &ForegroundWindow{}
}

// IsActive reports whether the foreground window title contains the target
// title (case-insensitive). An empty target always passes; a probe failure
// reports inactive so the arbiter blocks rather than fires blind.
func (w *ForegroundWindow) IsActive(targetTitle string) bool {
	target := strings.TrimSpace(targetTitle)
	if target == "" {
		return true
	}
	title := robotgo.GetTitle()
	if title == "" {
		return false
	}
	return strings.Contains(strings.ToLower(title), strings.ToLower(target))
}
