package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avoronov/streamcast/internal/config"
	"github.com/avoronov/streamcast/internal/decoder"
	"github.com/avoronov/streamcast/internal/engine"
	"github.com/avoronov/streamcast/internal/sink"
	"github.com/avoronov/streamcast/internal/source"
	"github.com/avoronov/streamcast/internal/ui"
)

var (
	versionFlag  = flag.Bool("version", false, "Show version information")
	debugFlag    = flag.Bool("debug", false, "Enable debug logging")
	startFlag    = flag.Float64("start", 0, "Start position in seconds")
	headlessFlag = flag.Bool("headless", false, "Run without the terminal UI")
)

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s v%s - %s\n\n", config.AppName, config.AppVersion, config.AppDescription)
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <url-or-path>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", config.AppName, config.AppVersion)
		fmt.Println(config.AppDescription)
		os.Exit(0)
	}

	setupLogging(*debugFlag)

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.DefaultConfig()
	}

	ref := flag.Arg(0)
	if ref == "" {
		if cfg.LastSource == "" {
			flag.Usage()
			os.Exit(2)
		}
		ref = cfg.LastSource
	}

	out, err := sink.NewOto(sink.Config{
		SampleRate: decoder.SampleRate,
		Channels:   decoder.Channels,
		GrainBytes: cfg.GrainBytes,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open audio output: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()

	controller := engine.New(engine.Config{
		RingCapacity: cfg.BufferSeconds * decoder.SampleRate * decoder.BytesPerFrame,
		GrainBytes:   cfg.GrainBytes,
		Source: source.Options{
			ConnectTimeout: time.Duration(cfg.ConnectTimeoutSeconds) * time.Second,
			MaxRetries:     cfg.MaxRetries,
			UserAgent:      fmt.Sprintf("Streamcast/%s", config.AppVersion),
		},
	}, out)
	controller.SetVolume(cfg.Volume)

	cfg.LastSource = ref
	if err := cfg.Save(); err != nil {
		log.Debug().Err(err).Msg("Failed to persist config")
	}

	if *headlessFlag {
		runHeadless(controller, ref, *startFlag)
		return
	}

	view := ui.New(controller, cfg, ref)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Received shutdown signal, cleaning up...")
		view.Shutdown()
	}()

	if !controller.StartStreaming(ref, *startFlag) {
		fmt.Fprintln(os.Stderr, "Failed to start streaming")
		os.Exit(1)
	}

	if err := view.Run(); err != nil {
		log.Error().Err(err).Msg("UI error")
		controller.Stop()
		os.Exit(1)
	}

	controller.Stop()
	log.Info().Msg("Streamcast stopped")
}

func setupLogging(debug bool) {
	if !debug {
		// Avoid TUI corruption by only logging errors to /dev/null
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		if logFile, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0644); err == nil {
			log.Logger = log.Output(logFile)
		}
		return
	}

	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	logDir, err := os.UserCacheDir()
	if err != nil {
		logDir = os.TempDir()
	}
	logDir = filepath.Join(logDir, "streamcast")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log dir: %v\n", err)
	}
	logPath := filepath.Join(logDir, "debug.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log file: %v\n", err)
		logFile = os.Stderr
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: logFile, TimeFormat: "15:04:05"})
	fmt.Printf("Debug log: %s\n", logPath)
	log.Info().Msgf("Starting %s v%s (debug mode)", config.AppName, config.AppVersion)
}

// runHeadless streams without a terminal UI, printing a progress line per
// second. Exits on end of stream, fatal error, or interrupt.
func runHeadless(controller *engine.Controller, ref string, start float64) {
	done := make(chan struct{})
	var doneOnce sync.Once
	finish := func() { doneOnce.Do(func() { close(done) }) }
	lastPrinted := -1

	controller.OnState(func(playing bool, position, duration float64) {
		sec := int(position)
		if sec != lastPrinted {
			lastPrinted = sec
			if duration > 0 {
				fmt.Printf("\r%6.1fs / %.1fs", position, duration)
			} else {
				fmt.Printf("\r%6.1fs", position)
			}
		}
		if !playing && controller.State() == engine.StateEnded {
			finish()
		}
	})
	controller.OnError(func(msg string) {
		fmt.Fprintf(os.Stderr, "\nstream error: %s\n", msg)
		finish()
	})

	if !controller.StartStreaming(ref, start) {
		fmt.Fprintln(os.Stderr, "Failed to start streaming")
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-done:
	}
	fmt.Println()
	controller.Stop()
}
