package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/llehouerou/nowplaying/internal/config"
	"github.com/llehouerou/nowplaying/internal/media"
	"github.com/llehouerou/nowplaying/internal/session"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	manager, err := session.Connect()
	if err != nil {
		return err
	}
	defer manager.Close()

	svc := media.New(manager, cfg.SourceAppID, media.WithCoverMaxSize(cfg.CoverMaxSize))
	defer svc.Close()

	if err := svc.BeginMonitorSessions(); err != nil {
		return err
	}

	// Settings edits switch the monitored application live.
	stopWatch, err := config.Watch(func(next *config.Config) {
		svc.SetSourceAppID(next.SourceAppID)
	})
	if err != nil {
		slog.Warn("config watch unavailable", "error", err)
	} else {
		defer stopWatch()
	}

	sub := svc.Subscribe()
	defer sub.Cancel()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("monitoring media session", "app_id", svc.SourceAppID())

	for {
		select {
		case ev := <-sub.C:
			logState(svc, ev)
		case <-sub.Done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// logState reads the state back through the service accessors; events
// carry no payload.
func logState(svc media.Service, ev media.PlaybackChangedEvent) {
	state := svc.CurrentPlaybackState()
	if track := svc.CurrentTrack(); track != nil {
		slog.Info("now playing",
			"event", ev,
			"title", track.Title,
			"artist", track.Artist,
			"album", track.AlbumTitle,
			"length_s", track.Length,
			"playing", state.IsPlaying)
	} else {
		slog.Info("nothing playing", "event", ev, "playing", state.IsPlaying)
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
