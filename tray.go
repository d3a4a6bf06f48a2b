// Package main - tray.go
//
// System tray UI. Uses getlantern/systray for cross-platform tray menu
// support.
//
// Menu Structure:
//   Rotation Bot
//   ├─ Status: Armed/Disarmed | active list (read-only)
//   ├─ Armed (checkbox toggle)
//   ├─ Priority List (radio selection across configured lists)
//   ├─ Calibrate Baselines (re-baseline every slot from the current frame)
//   └─ Quit (graceful shutdown)
//
// Concurrency Model:
// One goroutine per list menu item plus one main event loop, all blocked on
// systray ClickedCh channels. Menu structure is built once at onReady; adding
// or removing priority lists needs a restart to show up here (the websocket
// status stream reflects them immediately).
package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/getlantern/systray"
)

// TrayApp manages the system tray menu and forwards user actions to the
// engine.
type TrayApp struct {
	engine   *Engine
	store    *ConfigStore
	onQuit   func()
	quitOnce sync.Once

	statusItem    *systray.MenuItem
	armedItem     *systray.MenuItem
	calibrateItem *systray.MenuItem
	listItems     map[string]*systray.MenuItem
}

// NewTrayApp creates a new tray application
func NewTrayApp(engine *Engine, store *ConfigStore, onQuit func()) *TrayApp {
	return &TrayApp{
		engine:    engine,
		store:     store,
		onQuit:    onQuit,
		listItems: make(map[string]*systray.MenuItem),
	}
}

// Run starts the tray application. Blocking; must run on the main goroutine
// on platforms that require UI on the main thread.
func (t *TrayApp) Run() {
	LogInfo("Starting system tray application")
	systray.Run(t.onReady, func() {
		LogInfo("System tray exit")
		t.shutdown()
	})
}

// shutdown runs the quit callback exactly once. Both the systray onExit
// callback and the Quit menu handler funnel through here.
func (t *TrayApp) shutdown() {
	t.quitOnce.Do(func() {
		if t.onQuit != nil {
			t.onQuit()
		}
	})
}

// onReady builds the menu once the tray is available.
func (t *TrayApp) onReady() {
	systray.SetTitle("Rotation Bot")
	systray.SetTooltip("Slot rotation bot")

	t.statusItem = systray.AddMenuItem("Status: Disarmed", "Current state")
	t.statusItem.Disable()

	systray.AddSeparator()

	t.armedItem = systray.AddMenuItemCheckbox("Armed", "Toggle the rotation", false)

	cfg := t.store.Get()
	listMenu := systray.AddMenuItem("Priority List", "Select the active list")
	for _, list := range cfg.PriorityLists {
		name := list.Name
		if name == "" {
			name = list.ID
		}
		item := listMenu.AddSubMenuItemCheckbox(name, "", list.ID == cfg.ActiveListID)
		t.listItems[list.ID] = item
		go t.handleListClick(list.ID, item)
	}

	systray.AddSeparator()

	t.calibrateItem = systray.AddMenuItem("Calibrate Baselines", "Re-baseline all slots from the current frame")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit the application")

	go t.handleEvents(quitItem)
	LogInfo("System tray initialized")
}

// handleEvents is the main tray event loop.
func (t *TrayApp) handleEvents(quitItem *systray.MenuItem) {
	for {
		select {
		case <-t.armedItem.ClickedCh:
			armed := !t.engine.Armed()
			t.engine.SetArmed(armed)
			t.refreshState()
		case <-t.calibrateItem.ClickedCh:
			count, err := t.engine.CalibrateAll()
			if err != nil {
				LogWarn("calibration from tray failed: %v", err)
				continue
			}
			LogInfo("Calibrated %d slots from tray", count)
		case <-quitItem.ClickedCh:
			LogInfo("Quit requested by user")
			systray.Quit()
			t.shutdown()
			CloseLogger()
			os.Exit(0)
		}
	}
}

// handleListClick selects a priority list as active.
func (t *TrayApp) handleListClick(listID string, item *systray.MenuItem) {
	for {
		<-item.ClickedCh
		if err := t.store.Update(func(c *Config) { c.ActiveListID = listID }); err != nil {
			LogWarn("list switch from tray: %v", err)
			continue
		}
		LogInfo("Active list switched from tray: %s", listID)
		t.refreshState()
	}
}

// refreshState syncs the status line and checkmarks with the engine/config.
func (t *TrayApp) refreshState() {
	cfg := t.store.Get()

	for id, item := range t.listItems {
		if id == cfg.ActiveListID {
			item.Check()
		} else {
			item.Uncheck()
		}
	}

	armed := t.engine.Armed()
	if armed {
		t.armedItem.Check()
	} else {
		t.armedItem.Uncheck()
	}

	state := "Disarmed"
	if armed {
		state = "Armed"
	}
	listName := cfg.ActiveListID
	if list := cfg.ActiveList(); list != nil && list.Name != "" {
		listName = list.Name
	}
	t.statusItem.SetTitle(fmt.Sprintf("Status: %s | %s", state, listName))
}
