// Package media monitors one application's media session and republishes
// its transport state through a subscribable service.
package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/llehouerou/nowplaying/internal/broadcast"
)

// ErrClosed is returned by operations on a closed service.
var ErrClosed = errors.New("media: service closed")

// CommandError wraps a transport command failure for user-visible
// reporting. Absence of a bound session is never a CommandError.
type CommandError struct {
	Op  string
	Err error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("media: %s: %v", e.Op, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Service observes and controls one application's media session.
//
// Commands are silent successes while no session is bound: the absence of
// a target is normal state, not an error. Command failures against a live
// session surface as *CommandError.
type Service interface {
	// Transport commands.
	NextTrack(ctx context.Context) error
	PreviousTrack(ctx context.Context) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	// TogglePlayback pauses iff currently playing, otherwise plays.
	TogglePlayback(ctx context.Context) error
	// Seek moves playback to percent (clamped to 0-100). Not supported
	// by this adapter; accepted and ignored.
	Seek(ctx context.Context, percent int) error
	// SetVolume sets the target volume percent (clamped to 0-100). Not
	// supported by this adapter; accepted and ignored.
	SetVolume(ctx context.Context, percent int) error

	// Target selection.
	SetSourceAppID(id string)
	SourceAppID() string

	// State queries.
	CurrentTrack() *MediaTrack
	CurrentPlaybackState() PlaybackState

	// Event subscription.
	Subscribe() *broadcast.Subscription[PlaybackChangedEvent]

	// Lifecycle. BeginMonitorSessions is idempotent.
	BeginMonitorSessions() error
	EndMonitorSessions()
	Close() error
}
