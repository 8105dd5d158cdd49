// Package session wraps the platform media session-control API: enumerating
// controllable application sessions, subscribing to their change
// notifications and issuing transport commands.
package session

import (
	"context"

	"github.com/llehouerou/nowplaying/internal/asyncop"
	"github.com/llehouerou/nowplaying/internal/cover"
)

// Manager enumerates media sessions and reports changes to the set.
type Manager interface {
	// Sessions returns every session currently known to the platform.
	Sessions() ([]Session, error)
	// OnSessionsChanged registers fn to run whenever the set of sessions
	// changes. The callback may arrive on any thread.
	OnSessionsChanged(fn func()) (*Token, error)
	// Close releases the native connection. Live tokens become inert.
	Close() error
}

// Session is one controllable application's transport state.
type Session interface {
	// SourceAppID identifies the owning application. Platform dependent;
	// compared case-insensitively by callers.
	SourceAppID() (string, error)

	// MediaProperties fetches a metadata snapshot.
	MediaProperties(ctx context.Context) (Properties, error)
	// Timeline fetches the timeline snapshot.
	Timeline() (Timeline, error)
	// Playback fetches the playback snapshot.
	Playback() (Playback, error)

	OnMetadataChanged(fn func()) (*Token, error)
	OnPlaybackChanged(fn func()) (*Token, error)

	// Transport commands. Each returns a native completion handle; the
	// caller awaits it through an asyncop.Dispatcher.
	Play() asyncop.Op
	Pause() asyncop.Op
	SkipNext() asyncop.Op
	SkipPrevious() asyncop.Op
}

// Properties is one metadata snapshot. Each getter can fail independently;
// one unavailable field must not block the others.
type Properties interface {
	Title() (string, error)
	Artist() (string, error)
	AlbumTitle() (string, error)
	// Thumbnail returns a readable stream for the cover image, or
	// (nil, nil) when the session provides none locally.
	Thumbnail() (cover.Stream, error)
	// ArtURL returns a remote cover reference, or "" when none.
	ArtURL() (string, error)
}

// Timeline is a session timeline snapshot. Ticks are 100-nanosecond units.
type Timeline struct {
	MaxSeekTimeTicks int64
}

// Playback is a session playback snapshot.
type Playback struct {
	Status Status
}
