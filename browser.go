// Package main - browser.go
//
// Browser-backed capture source for game clients that run in a browser tab.
//
// Key Responsibilities:
//   - Chromedp browser lifecycle management (start, navigate, close)
//   - Viewport screenshot capture with timeout protection (5s)
//   - Region cropping so the engine sees the same Capturer contract as the
//     native screen grabber
//
// Browser Architecture:
// Nested contexts for proper resource management:
//   - allocCtx: allocator context for the browser process
//   - ctx: browser context for page operations
// Both contexts have cancel functions for graceful cleanup.
//
// Timeout Strategy:
//   - Navigation: 60 seconds (slow network tolerance)
//   - Screenshot: 5 seconds (prevent hanging)
package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/png"
	"time"

	"github.com/chromedp/chromedp"
)

// BrowserCapturer captures frames from a browser tab hosting the game.
type BrowserCapturer struct {
	url string

	ctx         context.Context
	cancel      context.CancelFunc
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewBrowserCapturer creates a capturer that will navigate to the given game
// URL on Start.
func NewBrowserCapturer(url string) *BrowserCapturer {
	return &BrowserCapturer{url: url}
}

// Start launches the browser and navigates to the game page.
func (b *BrowserCapturer) Start() error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", false),
		chromedp.Flag("disable-gpu", false),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)

	b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	b.ctx, b.cancel = chromedp.NewContext(b.allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		LogDebug(format, args...)
	}))
	LogInfo("Browser context created")

	navCtx, navCancel := context.WithTimeout(b.ctx, 60*time.Second)
	defer navCancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(b.url)); err != nil {
		return fmt.Errorf("navigate %s: %w", b.url, err)
	}
	LogInfo("Navigated to %s", b.url)
	return nil
}

// Capture screenshots the viewport and crops the requested region.
// Coordinates are viewport-relative.
func (b *BrowserCapturer) Capture(region image.Rectangle) (*image.RGBA, error) {
	if b.ctx == nil || b.ctx.Err() != nil {
		return nil, fmt.Errorf("browser context is invalid")
	}
	if region.Empty() {
		return nil, fmt.Errorf("capture: empty region")
	}

	var buf []byte
	captureCtx, cancel := context.WithTimeout(b.ctx, 5*time.Second)
	defer cancel()

	if err := chromedp.Run(captureCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	crop := region.Intersect(img.Bounds())
	if crop.Empty() {
		return nil, fmt.Errorf("region %v outside viewport %v", region, img.Bounds())
	}
	rgba := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, crop.Min, draw.Src)
	return rgba, nil
}

// Close tears down the browser contexts.
func (b *BrowserCapturer) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	LogInfo("Browser closed")
}
