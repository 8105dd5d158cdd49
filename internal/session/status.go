package session

// Status is a session's playback status. The full set of documented
// platform values is enumerated; callers must not assume it is binary.
type Status int

const (
	StatusClosed Status = iota
	StatusOpened
	StatusChanging
	StatusStopped
	StatusPlaying
	StatusPaused
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "Closed"
	case StatusOpened:
		return "Opened"
	case StatusChanging:
		return "Changing"
	case StatusStopped:
		return "Stopped"
	case StatusPlaying:
		return "Playing"
	case StatusPaused:
		return "Paused"
	default:
		return "Unknown"
	}
}
