package media

import "image"

// CoverKind tags the state of a track's album cover.
type CoverKind int

const (
	// CoverNone means the session provided no cover at all.
	CoverNone CoverKind = iota
	// CoverFailed means a cover was provided but could not be decoded.
	CoverFailed
	// CoverURL is an unresolved remote cover reference.
	CoverURL
	// CoverImage is a decoded cover bitmap.
	CoverImage
)

// String returns the kind name.
func (k CoverKind) String() string {
	switch k {
	case CoverNone:
		return "None"
	case CoverFailed:
		return "Failed"
	case CoverURL:
		return "URL"
	case CoverImage:
		return "Image"
	default:
		return "Unknown"
	}
}

// AlbumCover is a track's cover art. URL is set for CoverURL, Image for
// CoverImage; both are zero otherwise.
type AlbumCover struct {
	Kind  CoverKind
	URL   string
	Image image.Image
}

// HasArt reports whether the cover carries a usable reference or bitmap.
func (c AlbumCover) HasArt() bool {
	return c.Kind == CoverURL || c.Kind == CoverImage
}

// MediaTrack is the monitored application's current track. Instances are
// immutable once published; updates replace the whole value.
type MediaTrack struct {
	Title      string
	Artist     string
	AlbumTitle string
	AlbumCover AlbumCover
	Length     int64 // seconds
}

// PlaybackState is the monitored application's transport state.
type PlaybackState struct {
	IsPlaying bool
	// Volume in percent (0-100). The platform adapter cannot read or set
	// per-application volume, so this stays at its zero value.
	Volume int
	// Progress in percent, nil when unknown. Reserved; the adapter does
	// not report playback position yet.
	Progress *int
}
