/*
Smoke entry point: boots the Vulkan backend against a GLFW window, clears the
swapchain every frame and streams a test texture if one is present. Real
engines consume the engine/renderer draw table instead of this loop.
*/
package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spectraldrift/aurora/engine/config"
	"github.com/spectraldrift/aurora/engine/core"
	"github.com/spectraldrift/aurora/engine/platform"
	"github.com/spectraldrift/aurora/engine/renderer"
	"github.com/spectraldrift/aurora/engine/renderer/vulkan"
)

func main() {
	cfg, err := config.Load("aurora.toml")
	if err != nil {
		core.LogFatal("loading config: %v", err)
		os.Exit(1)
	}

	if err := core.MetricsInitialize(); err != nil {
		core.LogFatal("initializing metrics: %v", err)
		os.Exit(1)
	}

	p, err := platform.New()
	if err != nil {
		core.LogFatal("creating platform: %v", err)
		os.Exit(1)
	}
	if err := p.Startup(cfg.AppName, 100, 100, cfg.Width, cfg.Height); err != nil {
		os.Exit(1)
	}
	defer p.Shutdown()

	texturePaths := map[vulkan.TextureID]string{}
	loader := func(id vulkan.TextureID) (vulkan.TexturePixels, error) {
		path, ok := texturePaths[id]
		if !ok {
			return vulkan.TexturePixels{}, errors.New("no pixel source registered for texture")
		}
		return vulkan.LoadPixelsFromFile(path)
	}

	r := renderer.New(p, cfg, loader)
	if err := r.Initialize(); err != nil {
		core.LogFatal("initializing renderer: %v", err)
		os.Exit(1)
	}
	defer r.Shutdown()

	var testTexture vulkan.TextureID
	if _, err := os.Stat("assets/test.png"); err == nil {
		testTexture = r.AcquireTexture("assets/test.png")
		texturePaths[testTexture] = "assets/test.png"
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	lastTick := time.Now()
	for !p.ShouldClose() {
		select {
		case <-sigCh:
			core.LogInfo("Signal received, shutting down.")
			return
		default:
		}

		p.PumpMessages()

		ok, err := r.BeginFrame()
		if err != nil {
			core.LogError("begin frame: %v", err)
			return
		}
		if !ok {
			// Swapchain recreate or minimized surface; skip this tick.
			continue
		}

		r.SetupFrame(cfg.Width, cfg.Height)
		r.RequestClear()
		if err := r.EnsureCleared(); err != nil {
			core.LogError("clear: %v", err)
			return
		}

		if err := r.EndFrame(); err != nil {
			core.LogError("end frame: %v", err)
			return
		}

		now := time.Now()
		core.MetricsUpdate(now.Sub(lastTick).Seconds())
		lastTick = now
	}
}
