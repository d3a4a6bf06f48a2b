// Package main - main.go
//
// Entry point and CLI.
//
// Commands:
//   run           start the capture/decide/act loop with tray controls
//   check-config  validate a config file against the embedded schema
//   version       print the build version
//
// Startup Sequence (run):
//   1. Logger, config store (load or write defaults)
//   2. Capture source (native screen or chromedp browser tab)
//   3. Arbiter, queue holder, global key observer
//   4. Websocket status endpoint
//   5. Engine loop on a background goroutine
//   6. System tray on the main goroutine (blocking)
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

const appVersion = "1.2.0"

func main() {
	var configPath string
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "rotationbot",
		Short: "Screen-driven rotation bot: slot perception, cast detection, priority dispatch",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the rotation loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(configPath, verbose)
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate a config file against the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return fmt.Errorf("read %s: %w", configPath, err)
			}
			if err := ValidateConfigBytes(data); err != nil {
				return err
			}
			fmt.Printf("%s: OK\n", configPath)
			return nil
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(appVersion)
		},
	}

	rootCmd.AddCommand(runCmd, checkCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runBot wires the full pipeline and blocks on the tray.
func runBot(configPath string, verbose bool) error {
	store := NewConfigStore(configPath)
	if err := store.Load(); err != nil {
		return err
	}
	cfg := store.Get()

	if err := InitLogger(verbose || cfg.Verbose); err != nil {
		fmt.Fprintf(os.Stderr, "logger unavailable: %v\n", err)
	}
	defer CloseLogger()
	LogInfo("Rotation bot %s starting", appVersion)

	var capturer Capturer
	var browser *BrowserCapturer
	switch cfg.CaptureSource {
	case SourceBrowser:
		browser = NewBrowserCapturer(cfg.BrowserURL)
		if err := browser.Start(); err != nil {
			return fmt.Errorf("start browser capture: %w", err)
		}
		capturer = browser
	default:
		capturer = NewScreenCapturer(cfg.MonitorIndex)
	}

	sender := NewKeySender(NewNativeSender(), NewForegroundWindow(), NewActivationRuleRegistry())
	holder := NewQueueHolder(func() int { return store.Get().QueueTimeoutMs })
	hub := NewStatusHub()

	engine := NewEngine(store, capturer, sender, holder, hub)

	if err := store.Watch(engine.ApplyConfig); err != nil {
		LogWarn("config hot reload unavailable: %v", err)
	}

	observer := NewKeyObserver(engine.ObserverConfig, holder, engine.ToggleList, engine.SingleFire)
	observer.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	go func() {
		LogInfo("Status endpoint listening on %s", cfg.WSListenAddr)
		if err := http.ListenAndServe(cfg.WSListenAddr, mux); err != nil {
			LogWarn("status endpoint: %v", err)
		}
	}()

	go engine.Run()

	tray := NewTrayApp(engine, store, func() {
		engine.Stop()
		observer.Stop()
		hub.Close()
		store.Close()
		if browser != nil {
			browser.Close()
		}
	})
	tray.Run()
	return nil
}
