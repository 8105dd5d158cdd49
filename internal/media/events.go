package media

// PlaybackChangedEvent signals that some slice of playback state changed.
// Events carry no payload: subscribers re-read current state through the
// service accessors, so a missed event costs at most one refresh.
type PlaybackChangedEvent int

const (
	EventTrackChanged PlaybackChangedEvent = iota
	EventPlay
	EventPause
	EventVolume
	EventPlaybackProgress
)

// String returns the event name.
func (e PlaybackChangedEvent) String() string {
	switch e {
	case EventTrackChanged:
		return "TrackChanged"
	case EventPlay:
		return "Play"
	case EventPause:
		return "Pause"
	case EventVolume:
		return "Volume"
	case EventPlaybackProgress:
		return "PlaybackProgress"
	default:
		return "Unknown"
	}
}
