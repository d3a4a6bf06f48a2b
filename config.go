// Package main - config.go
//
// Configuration management for the rotation bot.
//
// Key Responsibilities:
//   - Load/save config.json with full defaults for missing files
//   - JSON schema validation before any document is accepted
//   - Hot reload via filesystem watching (fsnotify)
//   - Priority list CRUD (the last remaining list cannot be deleted)
//   - Typed settings extraction for the detection engines
//
// Concurrency:
// ConfigStore hands out deep clones. The engine loop takes one clone per
// cycle and never sees a half-applied edit; writers go through Update, which
// re-normalizes and persists atomically under the store mutex.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Region is a pixel rectangle in capture-source coordinates.
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Capture source names
const (
	SourceScreen  = "screen"
	SourceBrowser = "browser"
)

// Cast detection stages
const (
	CastStageInline = "inline"
	CastStagePost   = "post"
)

// Config is the single persisted document. Field names mirror the JSON keys
// one to one; every knob the detection engines read lives here.
type Config struct {
	PollingFPS        int    `json:"polling_fps"`
	CaptureSource     string `json:"capture_source"`
	MonitorIndex      int    `json:"monitor_index"`
	BrowserURL        string `json:"browser_url,omitempty"`
	TargetWindowTitle string `json:"target_window_title"`
	WSListenAddr      string `json:"ws_listen_addr"`
	Verbose           bool   `json:"verbose"`

	SlotBarRegion Region `json:"slot_bar_region"`
	CastBarRegion Region `json:"cast_bar_region"`

	// Slot perception
	SlotCount                int               `json:"slot_count"`
	SlotGap                  int               `json:"slot_gap"`
	SlotPadding              int               `json:"slot_padding"`
	DarkenThreshold          int               `json:"darken_threshold"`
	TriggerFraction          float64           `json:"trigger_fraction"`
	ChangeFraction           float64           `json:"change_fraction"`
	ChangeIgnoreSlots        []int             `json:"change_ignore_slots,omitempty"`
	DetectionRegion          string            `json:"detection_region"`
	DetectionRegionOverrides map[string]string `json:"detection_region_overrides,omitempty"`
	CooldownMinMs            int               `json:"cooldown_min_ms"`
	ReleaseFactor            float64           `json:"release_factor"`

	// Cast detection
	CastDetectEnabled bool    `json:"cast_detect_enabled"`
	CastDetectStage   string  `json:"cast_detect_stage"`
	CastMinFraction   float64 `json:"cast_min_fraction"`
	CastMaxFraction   float64 `json:"cast_max_fraction"`
	CastConfirmFrames int     `json:"cast_confirm_frames"`
	CastMinMs         int     `json:"cast_min_ms"`
	CastMaxMs         int     `json:"cast_max_ms"`
	CastCancelGraceMs int     `json:"cast_cancel_grace_ms"`
	ChannelingEnabled bool    `json:"channeling_enabled"`

	// Cast bar
	CastBarEnabled        bool         `json:"castbar_enabled"`
	CastBarHueMin         int          `json:"castbar_hue_min"`
	CastBarHueMax         int          `json:"castbar_hue_max"`
	CastBarSatMin         int          `json:"castbar_sat_min"`
	CastBarValMin         int          `json:"castbar_val_min"`
	CastBarActiveFraction float64      `json:"castbar_active_fraction"`
	CastBarConfirmFrames  int          `json:"castbar_confirm_frames"`
	CastBarProgressRect   ProgressRect `json:"castbar_progress_rect"`

	// Arbiter
	MinPressIntervalMs    int  `json:"min_press_interval_ms"`
	GcdMs                 int  `json:"gcd_ms"`
	AllowCastWhileCasting bool `json:"allow_cast_while_casting"`

	// Queue
	QueueWhitelist   []string `json:"queue_whitelist,omitempty"`
	QueueTimeoutMs   int      `json:"queue_timeout_ms"`
	QueueFireDelayMs int      `json:"queue_fire_delay_ms"`

	// Rotation
	Keybinds      []string       `json:"keybinds"`
	SlotNames     []string       `json:"slot_names,omitempty"`
	PriorityLists []PriorityList `json:"priority_lists"`
	ActiveListID  string         `json:"active_list_id"`

	SlotBaselines []BaselineRecord `json:"slot_baselines,omitempty"`
}

// DefaultConfig returns a complete working document with one empty priority
// list and the standard hotbar keybinds 1..0.
func DefaultConfig() *Config {
	listID := uuid.NewString()
	return &Config{
		PollingFPS:        20,
		CaptureSource:     SourceScreen,
		MonitorIndex:      0,
		TargetWindowTitle: "",
		WSListenAddr:      ":8077",

		SlotBarRegion: Region{X: 0, Y: 0, W: 400, H: 50},
		CastBarRegion: Region{X: 0, Y: 60, W: 300, H: 24},

		SlotCount:       10,
		SlotGap:         2,
		SlotPadding:     3,
		DarkenThreshold: 40,
		TriggerFraction: 0.30,
		ChangeFraction:  0.30,
		DetectionRegion: RegionTopLeft,
		CooldownMinMs:   2000,
		ReleaseFactor:   0.5,

		CastDetectEnabled: true,
		CastDetectStage:   CastStagePost,
		CastMinFraction:   0.05,
		CastMaxFraction:   0.22,
		CastConfirmFrames: 2,
		CastMinMs:         150,
		CastMaxMs:         3000,
		CastCancelGraceMs: 120,
		ChannelingEnabled: true,

		CastBarEnabled:        true,
		CastBarHueMin:         15,
		CastBarHueMax:         45,
		CastBarSatMin:         80,
		CastBarValMin:         120,
		CastBarActiveFraction: 0.15,
		CastBarConfirmFrames:  2,
		CastBarProgressRect:   ProgressRect{X: 0.02, Y: 0.15, W: 0.96, H: 0.7},

		MinPressIntervalMs: 150,
		GcdMs:              1500,

		QueueTimeoutMs:   5000,
		QueueFireDelayMs: 100,

		Keybinds: []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "0"},
		PriorityLists: []PriorityList{{
			ID:   listID,
			Name: "Default",
		}},
		ActiveListID: listID,
	}
}

// configSchema guards the persisted document's shape. Validation runs before
// unmarshal so a corrupted file never replaces a working config.
const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "$defs": {
    "region": {
      "type": "object",
      "properties": {
        "x": {"type": "integer"},
        "y": {"type": "integer"},
        "w": {"type": "integer"},
        "h": {"type": "integer"}
      }
    }
  },
  "properties": {
    "polling_fps": {"type": "integer"},
    "capture_source": {"enum": ["screen", "browser"]},
    "monitor_index": {"type": "integer", "minimum": 0},
    "browser_url": {"type": "string"},
    "target_window_title": {"type": "string"},
    "ws_listen_addr": {"type": "string"},
    "verbose": {"type": "boolean"},
    "slot_bar_region": {"$ref": "#/$defs/region"},
    "cast_bar_region": {"$ref": "#/$defs/region"},
    "slot_count": {"type": "integer", "minimum": 1},
    "slot_gap": {"type": "integer", "minimum": 0},
    "slot_padding": {"type": "integer", "minimum": 0},
    "darken_threshold": {"type": "integer", "minimum": 0, "maximum": 255},
    "trigger_fraction": {"type": "number", "minimum": 0, "maximum": 1},
    "change_fraction": {"type": "number", "minimum": 0, "maximum": 1},
    "change_ignore_slots": {"type": "array", "items": {"type": "integer"}},
    "detection_region": {"enum": ["full", "top_left"]},
    "detection_region_overrides": {
      "type": "object",
      "additionalProperties": {"enum": ["full", "top_left"]}
    },
    "cooldown_min_ms": {"type": "integer", "minimum": 0},
    "release_factor": {"type": "number"},
    "cast_detect_enabled": {"type": "boolean"},
    "cast_detect_stage": {"enum": ["inline", "post"]},
    "cast_min_fraction": {"type": "number", "minimum": 0, "maximum": 1},
    "cast_max_fraction": {"type": "number", "minimum": 0, "maximum": 1},
    "cast_confirm_frames": {"type": "integer", "minimum": 1},
    "cast_min_ms": {"type": "integer", "minimum": 0},
    "cast_max_ms": {"type": "integer", "minimum": 0},
    "cast_cancel_grace_ms": {"type": "integer", "minimum": 0},
    "channeling_enabled": {"type": "boolean"},
    "castbar_enabled": {"type": "boolean"},
    "castbar_hue_min": {"type": "integer", "minimum": 0, "maximum": 179},
    "castbar_hue_max": {"type": "integer", "minimum": 0, "maximum": 179},
    "castbar_sat_min": {"type": "integer", "minimum": 0, "maximum": 255},
    "castbar_val_min": {"type": "integer", "minimum": 0, "maximum": 255},
    "castbar_active_fraction": {"type": "number", "minimum": 0, "maximum": 1},
    "castbar_confirm_frames": {"type": "integer", "minimum": 1},
    "castbar_progress_rect": {
      "type": "object",
      "properties": {
        "x": {"type": "number"}, "y": {"type": "number"},
        "w": {"type": "number"}, "h": {"type": "number"}
      }
    },
    "min_press_interval_ms": {"type": "integer", "minimum": 0},
    "gcd_ms": {"type": "integer", "minimum": 0},
    "allow_cast_while_casting": {"type": "boolean"},
    "queue_whitelist": {"type": "array", "items": {"type": "string"}},
    "queue_timeout_ms": {"type": "integer", "minimum": 0},
    "queue_fire_delay_ms": {"type": "integer", "minimum": 0},
    "keybinds": {"type": "array", "items": {"type": "string"}},
    "slot_names": {"type": "array", "items": {"type": "string"}},
    "priority_lists": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "toggle_bind": {"type": "string"},
          "single_fire_bind": {"type": "string"},
          "priority_items": {
            "type": "array",
            "items": {
              "type": "object",
              "properties": {
                "type": {"enum": ["slot", "manual"]},
                "slot_index": {"type": "integer", "minimum": 0},
                "activation_rule": {"type": "string"},
                "ready_source": {"type": "string"},
                "buff_roi_id": {"type": "string"},
                "action_id": {"type": "string"}
              },
              "required": ["type"]
            }
          },
          "manual_actions": {
            "type": "array",
            "items": {
              "type": "object",
              "properties": {
                "id": {"type": "string", "minLength": 1},
                "name": {"type": "string"},
                "keybind": {"type": "string"}
              },
              "required": ["id"]
            }
          }
        },
        "required": ["id"]
      }
    },
    "active_list_id": {"type": "string"},
    "slot_baselines": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "index": {"type": "integer", "minimum": 0},
          "data": {"type": "string"},
          "shape": {
            "type": "array",
            "items": {"type": "integer", "minimum": 1},
            "minItems": 2, "maxItems": 2
          }
        },
        "required": ["index", "data", "shape"]
      }
    }
  }
}`

// ValidateConfigBytes checks a raw JSON document against the embedded schema.
func ValidateConfigBytes(data []byte) error {
	schema, err := jsonschema.CompileString("config.json", configSchema)
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	return nil
}

// normalize clamps out-of-domain values to safe minimums and repairs
// structural invariants (at least one list, valid active id, bind formats).
func (c *Config) normalize() {
	c.PollingFPS = clampInt(c.PollingFPS, 5, 120)
	if c.CaptureSource != SourceBrowser {
		c.CaptureSource = SourceScreen
	}
	if c.MonitorIndex < 0 {
		c.MonitorIndex = 0
	}
	if c.SlotCount < 1 {
		c.SlotCount = 1
	}
	if c.SlotGap < 0 {
		c.SlotGap = 0
	}
	if c.SlotPadding < 0 {
		c.SlotPadding = 0
	}
	c.DarkenThreshold = clampInt(c.DarkenThreshold, 0, 255)
	if c.ReleaseFactor <= 0 {
		c.ReleaseFactor = 0.5
	}
	if c.DetectionRegion != RegionTopLeft {
		c.DetectionRegion = RegionFull
	}
	if c.CooldownMinMs < 0 {
		c.CooldownMinMs = 0
	}
	if c.CastDetectStage != CastStageInline {
		c.CastDetectStage = CastStagePost
	}
	if c.CastConfirmFrames < 1 {
		c.CastConfirmFrames = 1
	}
	if c.CastBarConfirmFrames < 1 {
		c.CastBarConfirmFrames = 1
	}
	if c.MinPressIntervalMs < 10 {
		c.MinPressIntervalMs = 10
	}
	if c.GcdMs < 0 {
		c.GcdMs = 0
	}
	if c.QueueTimeoutMs < 1 {
		c.QueueTimeoutMs = 5000
	}
	if c.QueueFireDelayMs < 0 {
		c.QueueFireDelayMs = 0
	}
	if c.WSListenAddr == "" {
		c.WSListenAddr = ":8077"
	}

	if len(c.PriorityLists) == 0 {
		def := DefaultConfig()
		c.PriorityLists = def.PriorityLists
		c.ActiveListID = def.ActiveListID
	}
	for i := range c.PriorityLists {
		list := &c.PriorityLists[i]
		if strings.TrimSpace(list.ID) == "" {
			list.ID = uuid.NewString()
		}
		list.ToggleBind = NormalizeBind(list.ToggleBind)
		list.SingleFireBind = NormalizeBind(list.SingleFireBind)
		for j := range list.Items {
			item := &list.Items[j]
			if item.Type != ItemTypeManual {
				item.Type = ItemTypeSlot
			}
			item.ActivationRule = NormalizeActivationRule(item.ActivationRule)
			item.ReadySource = NormalizeReadySource(item.ReadySource, item.Type)
		}
	}
	if c.ListByID(c.ActiveListID) == nil {
		c.ActiveListID = c.PriorityLists[0].ID
	}
}

// Clone deep-copies the document.
func (c *Config) Clone() *Config {
	data, err := json.Marshal(c)
	if err != nil {
		LogError("config clone marshal: %v", err)
		return DefaultConfig()
	}
	clone := &Config{}
	if err := json.Unmarshal(data, clone); err != nil {
		LogError("config clone unmarshal: %v", err)
		return DefaultConfig()
	}
	return clone
}

// ActiveList returns the currently selected priority list.
func (c *Config) ActiveList() *PriorityList {
	if list := c.ListByID(c.ActiveListID); list != nil {
		return list
	}
	if len(c.PriorityLists) > 0 {
		return &c.PriorityLists[0]
	}
	return nil
}

// ListByID finds a priority list by id, nil when absent.
func (c *Config) ListByID(id string) *PriorityList {
	for i := range c.PriorityLists {
		if c.PriorityLists[i].ID == id {
			return &c.PriorityLists[i]
		}
	}
	return nil
}

// AddList appends a new empty list and returns its id.
func (c *Config) AddList(name string) string {
	list := PriorityList{ID: uuid.NewString(), Name: name}
	c.PriorityLists = append(c.PriorityLists, list)
	return list.ID
}

// DeleteList removes a list by id. The last remaining list cannot be deleted;
// deleting the active list re-targets the first survivor.
func (c *Config) DeleteList(id string) error {
	if len(c.PriorityLists) <= 1 {
		return fmt.Errorf("cannot delete the last priority list")
	}
	for i := range c.PriorityLists {
		if c.PriorityLists[i].ID != id {
			continue
		}
		c.PriorityLists = append(c.PriorityLists[:i], c.PriorityLists[i+1:]...)
		if c.ActiveListID == id {
			c.ActiveListID = c.PriorityLists[0].ID
		}
		return nil
	}
	return fmt.Errorf("priority list %q not found", id)
}

// PerceptionSettings extracts the slot perception configuration.
func (c *Config) PerceptionSettings() PerceptionSettings {
	overrides := make(map[int]string, len(c.DetectionRegionOverrides))
	for key, mode := range c.DetectionRegionOverrides {
		idx, err := strconv.Atoi(key)
		if err != nil {
			LogWarn("ignoring detection region override with bad slot key %q", key)
			continue
		}
		overrides[idx] = mode
	}
	return PerceptionSettings{
		SlotCount:                c.SlotCount,
		SlotGap:                  c.SlotGap,
		SlotPadding:              c.SlotPadding,
		BoxWidth:                 c.SlotBarRegion.W,
		BoxHeight:                c.SlotBarRegion.H,
		DarkenThreshold:          c.DarkenThreshold,
		TriggerFraction:          c.TriggerFraction,
		ChangeFraction:           c.ChangeFraction,
		ChangeIgnoreSlots:        append([]int(nil), c.ChangeIgnoreSlots...),
		DetectionRegion:          c.DetectionRegion,
		DetectionRegionOverrides: overrides,
		CooldownMinMs:            c.CooldownMinMs,
		ReleaseFactor:            c.ReleaseFactor,
	}
}

// CastSettings extracts the cast automaton configuration.
func (c *Config) CastSettings() CastSettings {
	return CastSettings{
		Enabled:           c.CastDetectEnabled,
		MinFraction:       c.CastMinFraction,
		MaxFraction:       c.CastMaxFraction,
		ConfirmFrames:     c.CastConfirmFrames,
		MinMs:             c.CastMinMs,
		MaxMs:             c.CastMaxMs,
		CancelGraceMs:     c.CastCancelGraceMs,
		ChannelingEnabled: c.ChannelingEnabled,
	}
}

// CastBarSettings extracts the cast bar analyzer configuration.
func (c *Config) CastBarSettings() CastBarSettings {
	return CastBarSettings{
		HueMin:         c.CastBarHueMin,
		HueMax:         c.CastBarHueMax,
		SatMin:         c.CastBarSatMin,
		ValMin:         c.CastBarValMin,
		ActiveFraction: c.CastBarActiveFraction,
		ConfirmFrames:  c.CastBarConfirmFrames,
		Progress:       c.CastBarProgressRect,
	}
}

// ConfigStore owns the persisted document and its file watcher.
type ConfigStore struct {
	path string

	mu      sync.RWMutex
	current *Config

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewConfigStore creates a store bound to a file path. Call Load before use.
func NewConfigStore(path string) *ConfigStore {
	return &ConfigStore{path: path, current: DefaultConfig()}
}

// Load reads and validates the config file. A missing file writes and uses
// the defaults; an invalid file is an error and leaves the defaults in place.
func (s *ConfigStore) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		LogInfo("No config at %s, writing defaults", s.path)
		return s.Save()
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := ValidateConfigBytes(data); err != nil {
		return err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()

	s.mu.Lock()
	s.current = cfg
	s.mu.Unlock()
	LogInfo("Config loaded from %s (%d priority lists)", s.path, len(cfg.PriorityLists))
	return nil
}

// Save writes the current document to disk.
func (s *ConfigStore) Save() error {
	s.mu.RLock()
	cfg := s.current.Clone()
	s.mu.RUnlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(s.path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Get returns a deep clone of the current document.
func (s *ConfigStore) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Update applies a mutation under the store lock, re-normalizes, and persists.
func (s *ConfigStore) Update(mutate func(*Config)) error {
	s.mu.Lock()
	mutate(s.current)
	s.current.normalize()
	s.mu.Unlock()
	return s.Save()
}

// Watch begins hot-reloading the config file. onChange receives a clone of
// every successfully reloaded document; invalid edits are logged and skipped.
func (s *ConfigStore) Watch(onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.watcher = watcher
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if err := s.Load(); err != nil {
					LogWarn("config reload skipped: %v", err)
					continue
				}
				LogInfo("Config reloaded")
				if onChange != nil {
					onChange(s.Get())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				LogWarn("config watcher: %v", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher, if running.
func (s *ConfigStore) Close() {
	if s.watcher != nil {
		s.watcher.Close()
		<-s.done
		s.watcher = nil
	}
}
