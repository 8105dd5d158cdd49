package media

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/llehouerou/nowplaying/internal/asyncop"
	"github.com/llehouerou/nowplaying/internal/broadcast"
	"github.com/llehouerou/nowplaying/internal/cover"
	"github.com/llehouerou/nowplaying/internal/session"
)

// DefaultCoverMaxSize bounds decoded cover art dimensions in pixels.
const DefaultCoverMaxSize = 256

// ticksPerSecond is the native 100-nanosecond tick rate.
const ticksPerSecond = 10_000_000

func convertTicksToSeconds(ticks int64) int64 {
	if ticks < 0 {
		return 0
	}
	return ticks / ticksPerSecond
}

// bindPhase tracks the monitored session's lifecycle.
type bindPhase int

const (
	phaseUnbound bindPhase = iota
	phaseBinding
	phaseBound
	phaseUnbinding
	phaseClosed
)

func (p bindPhase) String() string {
	switch p {
	case phaseUnbound:
		return "unbound"
	case phaseBinding:
		return "binding"
	case phaseBound:
		return "bound"
	case phaseUnbinding:
		return "unbinding"
	case phaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Verify serviceImpl implements Service at compile time.
var _ Service = (*serviceImpl)(nil)

type serviceImpl struct {
	mu sync.RWMutex

	manager session.Manager
	ops     *asyncop.Dispatcher
	bus     *broadcast.Bus[PlaybackChangedEvent]

	sourceAppID string // case-folded target identifier

	sessionsToken *session.Token
	source        session.Session
	metadataToken *session.Token
	playbackToken *session.Token
	phase         bindPhase

	track    *MediaTrack
	playback PlaybackState

	coverMaxSize int

	done   chan struct{}
	closed bool
}

// Option configures a Service.
type Option func(*serviceImpl)

// WithCoverMaxSize overrides the decoded cover size bound.
func WithCoverMaxSize(px int) Option {
	return func(s *serviceImpl) { s.coverMaxSize = px }
}

// WithDispatcher overrides the command dispatcher.
func WithDispatcher(d *asyncop.Dispatcher) Option {
	return func(s *serviceImpl) { s.ops = d }
}

// New creates a media service monitoring the application identified by
// sourceAppID (matched case-insensitively). Call BeginMonitorSessions to
// start receiving events.
func New(manager session.Manager, sourceAppID string, opts ...Option) Service {
	s := &serviceImpl{
		manager:      manager,
		ops:          asyncop.NewDispatcher(0),
		bus:          broadcast.New[PlaybackChangedEvent](broadcast.DefaultCapacity),
		sourceAppID:  strings.ToLower(sourceAppID),
		coverMaxSize: DefaultCoverMaxSize,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BeginMonitorSessions starts watching for the target session. Calling it
// again while monitoring does nothing.
func (s *serviceImpl) BeginMonitorSessions() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.sessionsToken != nil {
		return nil
	}

	if err := s.updateSessionsLocked(); err != nil {
		return err
	}

	token, err := s.manager.OnSessionsChanged(s.bridge("sessions_changed", s.handleSessionsChanged))
	if err != nil {
		return err
	}
	s.sessionsToken = token
	return nil
}

// EndMonitorSessions stops watching for session set changes. A bound
// source session keeps its registrations until it disappears or the
// service closes. Does nothing if not monitoring.
func (s *serviceImpl) EndMonitorSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionsToken == nil {
		return
	}
	slog.Info("stopping media session monitoring")
	s.sessionsToken.Unregister()
	s.sessionsToken = nil
}

// Close unregisters every live native callback and closes the event bus.
// Native events arriving afterwards are dropped.
func (s *serviceImpl) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)

	s.sessionsToken.Unregister()
	s.sessionsToken = nil
	s.metadataToken.Unregister()
	s.metadataToken = nil
	s.playbackToken.Unregister()
	s.playbackToken = nil
	s.source = nil
	s.track = nil
	s.setPhaseLocked(phaseClosed)
	s.mu.Unlock()

	s.bus.Close()
	return nil
}

// bridge wraps a state-mutating handler as a native callback. Native
// notifications arrive on foreign threads; each one is handed off to its
// own goroutine, which drops the event if the service already closed.
func (s *serviceImpl) bridge(name string, handler func() error) func() {
	return func() {
		go func() {
			select {
			case <-s.done:
				slog.Debug("dropping native event, service closed", "event", name)
				return
			default:
			}
			slog.Debug("native event", "event", name)
			if err := handler(); err != nil {
				slog.Error("native event handler failed", "event", name, "error", err)
			}
		}()
	}
}

func (s *serviceImpl) handleSessionsChanged() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.updateSessionsLocked()
}

func (s *serviceImpl) handleMetadataChanged() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.updateTrackLocked()
}

func (s *serviceImpl) handlePlaybackChanged() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.updatePlaybackLocked()
}

// updateSessionsLocked binds the first session matching the target
// identifier, or tears down the previous binding when none matches.
func (s *serviceImpl) updateSessionsLocked() error {
	sessions, err := s.manager.Sessions()
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		id, err := sess.SourceAppID()
		if err != nil {
			slog.Warn("could not read session app id", "error", err)
			continue
		}
		slog.Debug("found session", "app_id", id)
		if !strings.EqualFold(id, s.sourceAppID) {
			continue
		}
		if s.source == nil {
			s.source = sess
			s.setPhaseLocked(phaseBinding)
			if err := s.beginMonitorSourceLocked(); err != nil {
				return err
			}
			s.setPhaseLocked(phaseBound)
		}
		return nil
	}

	s.endMonitorSourceLocked()
	return nil
}

// beginMonitorSourceLocked registers the per-session callbacks, then
// eagerly syncs both snapshots: registration only catches future
// notifications, and a freshly bound session must not display stale.
func (s *serviceImpl) beginMonitorSourceLocked() error {
	if s.metadataToken != nil || s.playbackToken != nil {
		return nil
	}
	if s.source == nil {
		return nil
	}

	slog.Info("monitoring source session", "app_id", s.sourceAppID)

	token, err := s.source.OnMetadataChanged(s.bridge("metadata_changed", s.handleMetadataChanged))
	if err != nil {
		return err
	}
	s.metadataToken = token

	token, err = s.source.OnPlaybackChanged(s.bridge("playback_changed", s.handlePlaybackChanged))
	if err != nil {
		return err
	}
	s.playbackToken = token

	if err := s.updateTrackLocked(); err != nil {
		return err
	}
	return s.updatePlaybackLocked()
}

// endMonitorSourceLocked tears down the bound session, if any: tokens are
// unregistered, the track cleared and one TrackChanged emitted so
// subscribers learn that nothing is playing anymore.
func (s *serviceImpl) endMonitorSourceLocked() {
	if s.source == nil {
		return
	}
	s.setPhaseLocked(phaseUnbinding)
	slog.Info("stopping source session monitoring", "app_id", s.sourceAppID)

	s.metadataToken.Unregister()
	s.metadataToken = nil
	s.playbackToken.Unregister()
	s.playbackToken = nil
	s.source = nil

	s.track = nil
	s.playback = PlaybackState{}
	s.setPhaseLocked(phaseUnbound)
	s.sendEventLocked(EventTrackChanged)
}

// updateTrackLocked re-reads the metadata and timeline snapshots. A track
// exists only while the timeline reports a positive length.
func (s *serviceImpl) updateTrackLocked() error {
	if s.source == nil {
		return nil
	}

	props, err := s.source.MediaProperties(context.Background())
	if err != nil {
		return err
	}
	timeline, err := s.source.Timeline()
	if err != nil {
		return err
	}

	length := convertTicksToSeconds(timeline.MaxSeekTimeTicks)
	if length > 0 {
		s.track = &MediaTrack{
			Title:      stringField(props.Title, "No Title"),
			Artist:     stringField(props.Artist, "No Artist"),
			AlbumTitle: stringField(props.AlbumTitle, "No Title"),
			AlbumCover: s.readCover(props),
			Length:     length,
		}
	} else {
		s.track = nil
	}
	s.sendEventLocked(EventTrackChanged)
	return nil
}

// updatePlaybackLocked re-reads the playback snapshot. Every documented
// status other than Playing counts as not playing.
func (s *serviceImpl) updatePlaybackLocked() error {
	if s.source == nil {
		return nil
	}

	playback, err := s.source.Playback()
	if err != nil {
		return err
	}

	var playing bool
	switch playback.Status {
	case session.StatusPlaying:
		playing = true
	case session.StatusClosed, session.StatusOpened, session.StatusChanging,
		session.StatusStopped, session.StatusPaused:
		playing = false
	}
	s.playback.IsPlaying = playing

	if playing {
		s.sendEventLocked(EventPlay)
	} else {
		s.sendEventLocked(EventPause)
	}
	return nil
}

// stringField reads one metadata field, falling back when the read fails
// or comes back empty. One bad field never blocks the rest of a snapshot.
func stringField(get func() (string, error), fallback string) string {
	v, err := get()
	if err != nil {
		slog.Warn("could not read metadata field", "error", err, "fallback", fallback)
		return fallback
	}
	if v == "" {
		slog.Warn("metadata field empty", "fallback", fallback)
		return fallback
	}
	return v
}

// readCover resolves a snapshot's cover art. Decode failures degrade to
// CoverFailed and never abort the metadata update.
func (s *serviceImpl) readCover(props session.Properties) AlbumCover {
	stream, err := props.Thumbnail()
	if err != nil {
		slog.Error("unable to fetch thumbnail", "error", err)
		return AlbumCover{Kind: CoverFailed}
	}
	if stream == nil {
		if url, err := props.ArtURL(); err == nil && url != "" {
			return AlbumCover{Kind: CoverURL, URL: url}
		}
		return AlbumCover{Kind: CoverNone}
	}

	img, err := cover.Decode(stream)
	if err != nil {
		slog.Error("unable to decode thumbnail", "error", err)
		return AlbumCover{Kind: CoverFailed}
	}
	return AlbumCover{Kind: CoverImage, Image: cover.Scale(img, s.coverMaxSize)}
}

func (s *serviceImpl) setPhaseLocked(p bindPhase) {
	if s.phase == p {
		return
	}
	slog.Debug("bind phase", "from", s.phase, "to", p)
	s.phase = p
}

func (s *serviceImpl) sendEventLocked(ev PlaybackChangedEvent) {
	switch ev {
	case EventTrackChanged:
		if s.track != nil {
			slog.Info("track changed",
				"title", s.track.Title,
				"artist", s.track.Artist,
				"length_s", s.track.Length,
				"cover", s.track.AlbumCover.Kind)
		} else {
			slog.Info("track changed", "track", "none")
		}
	case EventPlay, EventPause:
		slog.Info("playback changed", "playing", s.playback.IsPlaying)
	case EventVolume, EventPlaybackProgress:
	}
	s.bus.Publish(ev)
}

// command issues one transport command against the bound session. With no
// session bound it succeeds without any native call.
func (s *serviceImpl) command(ctx context.Context, name string, start func(session.Session) asyncop.Op) error {
	s.mu.RLock()
	closed := s.closed
	source := s.source
	s.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if source == nil {
		return nil
	}
	if err := s.ops.Await(ctx, start(source)); err != nil {
		return &CommandError{Op: name, Err: err}
	}
	return nil
}

func (s *serviceImpl) NextTrack(ctx context.Context) error {
	return s.command(ctx, "next track", session.Session.SkipNext)
}

func (s *serviceImpl) PreviousTrack(ctx context.Context) error {
	return s.command(ctx, "previous track", session.Session.SkipPrevious)
}

func (s *serviceImpl) Play(ctx context.Context) error {
	return s.command(ctx, "play", session.Session.Play)
}

func (s *serviceImpl) Pause(ctx context.Context) error {
	return s.command(ctx, "pause", session.Session.Pause)
}

// TogglePlayback pauses iff currently playing, otherwise plays. Exactly
// one of the two runs per invocation.
func (s *serviceImpl) TogglePlayback(ctx context.Context) error {
	s.mu.RLock()
	playing := s.playback.IsPlaying
	s.mu.RUnlock()

	if playing {
		return s.Pause(ctx)
	}
	return s.Play(ctx)
}

// Seek accepts a clamped percentage. The adapter cannot seek, so this is
// a capability gap, not a failure.
func (s *serviceImpl) Seek(_ context.Context, percent int) error {
	slog.Debug("seek not supported by adapter", "percent", clampPercent(percent))
	return nil
}

// SetVolume accepts a clamped percentage. The adapter cannot address
// per-application volume, so this is a capability gap, not a failure.
func (s *serviceImpl) SetVolume(_ context.Context, percent int) error {
	slog.Debug("volume control not supported by adapter", "percent", clampPercent(percent))
	return nil
}

// SetSourceAppID switches the monitored application. If monitoring is
// active, the previous session is unbound and discovery re-runs.
func (s *serviceImpl) SetSourceAppID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	id = strings.ToLower(id)
	if id == s.sourceAppID {
		return
	}
	slog.Info("switching source app", "app_id", id)

	s.endMonitorSourceLocked()
	s.sourceAppID = id
	if s.sessionsToken == nil {
		return
	}
	if err := s.updateSessionsLocked(); err != nil {
		slog.Error("session update failed", "error", err)
	}
}

func (s *serviceImpl) SourceAppID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sourceAppID
}

// CurrentTrack returns the current track, or nil when none. The returned
// value is never mutated in place.
func (s *serviceImpl) CurrentTrack() *MediaTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.track
}

func (s *serviceImpl) CurrentPlaybackState() PlaybackState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playback
}

func (s *serviceImpl) Subscribe() *broadcast.Subscription[PlaybackChangedEvent] {
	return s.bus.Subscribe()
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
