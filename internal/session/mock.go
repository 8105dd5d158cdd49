package session

import (
	"context"
	"sync"

	"github.com/llehouerou/nowplaying/internal/asyncop"
	"github.com/llehouerou/nowplaying/internal/cover"
)

// MockManager is a test double for Manager.
type MockManager struct {
	mu        sync.Mutex
	sessions  []Session
	listErr   error
	callbacks map[uint64]func()
	nextID    uint64
}

// NewMockManager creates a mock manager exposing the given sessions.
func NewMockManager(sessions ...Session) *MockManager {
	return &MockManager{
		sessions:  sessions,
		callbacks: make(map[uint64]func()),
	}
}

func (m *MockManager) Sessions() ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]Session(nil), m.sessions...), nil
}

func (m *MockManager) OnSessionsChanged(fn func()) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.callbacks[id] = fn
	return NewToken(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.callbacks, id)
	}), nil
}

func (m *MockManager) Close() error { return nil }

// Test helpers

// SetSessions replaces the session list without firing callbacks.
func (m *MockManager) SetSessions(sessions ...Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = sessions
}

// SetSessionsError makes Sessions fail.
func (m *MockManager) SetSessionsError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// FireSessionsChanged invokes every registered sessions-changed callback.
func (m *MockManager) FireSessionsChanged() {
	for _, fn := range m.snapshotCallbacks() {
		fn()
	}
}

// Registrations returns the number of live sessions-changed registrations.
func (m *MockManager) Registrations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.callbacks)
}

func (m *MockManager) snapshotCallbacks() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	fns := make([]func(), 0, len(m.callbacks))
	for _, fn := range m.callbacks {
		fns = append(fns, fn)
	}
	return fns
}

var _ Manager = (*MockManager)(nil)

// MockSession is a test double for Session.
type MockSession struct {
	mu sync.Mutex

	appID    string
	appIDErr error

	title, artist, album          string
	titleErr, artistErr, albumErr error
	thumb                         cover.Stream
	thumbErr                      error
	artURL                        string

	ticks       int64
	timelineErr error
	status      Status
	playbackErr error

	metadataCbs map[uint64]func()
	playbackCbs map[uint64]func()
	nextID      uint64

	calls      []string
	commandErr error
}

// NewMockSession creates a mock session for the given app id.
func NewMockSession(appID string) *MockSession {
	return &MockSession{
		appID:       appID,
		metadataCbs: make(map[uint64]func()),
		playbackCbs: make(map[uint64]func()),
	}
}

func (s *MockSession) SourceAppID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appID, s.appIDErr
}

func (s *MockSession) MediaProperties(_ context.Context) (Properties, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mockProperties{
		title:     s.title,
		artist:    s.artist,
		album:     s.album,
		titleErr:  s.titleErr,
		artistErr: s.artistErr,
		albumErr:  s.albumErr,
		thumb:     s.thumb,
		thumbErr:  s.thumbErr,
		artURL:    s.artURL,
	}, nil
}

func (s *MockSession) Timeline() (Timeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Timeline{MaxSeekTimeTicks: s.ticks}, s.timelineErr
}

func (s *MockSession) Playback() (Playback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Playback{Status: s.status}, s.playbackErr
}

func (s *MockSession) OnMetadataChanged(fn func()) (*Token, error) {
	return s.register(s.metadataCbs, fn)
}

func (s *MockSession) OnPlaybackChanged(fn func()) (*Token, error) {
	return s.register(s.playbackCbs, fn)
}

func (s *MockSession) register(cbs map[uint64]func(), fn func()) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	cbs[id] = fn
	return NewToken(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(cbs, id)
	}), nil
}

func (s *MockSession) record(name string) asyncop.Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	return asyncop.Done(s.commandErr)
}

func (s *MockSession) Play() asyncop.Op         { return s.record("play") }
func (s *MockSession) Pause() asyncop.Op        { return s.record("pause") }
func (s *MockSession) SkipNext() asyncop.Op     { return s.record("next") }
func (s *MockSession) SkipPrevious() asyncop.Op { return s.record("previous") }

// Test helpers

// SetTrack sets the metadata fields and timeline length in ticks.
func (s *MockSession) SetTrack(title, artist, album string, ticks int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.title, s.artist, s.album, s.ticks = title, artist, album, ticks
}

// SetFieldErrors makes individual metadata getters fail.
func (s *MockSession) SetFieldErrors(titleErr, artistErr, albumErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titleErr, s.artistErr, s.albumErr = titleErr, artistErr, albumErr
}

// SetThumbnail sets the thumbnail stream returned by snapshots.
func (s *MockSession) SetThumbnail(stream cover.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thumb = stream
}

// SetThumbnailError makes the thumbnail getter fail.
func (s *MockSession) SetThumbnailError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thumbErr = err
}

// SetArtURL sets a remote cover reference.
func (s *MockSession) SetArtURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artURL = url
}

// SetStatus sets the playback status.
func (s *MockSession) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// SetCommandError makes every transport command fail.
func (s *MockSession) SetCommandError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandErr = err
}

// FireMetadataChanged invokes every live metadata-changed callback.
func (s *MockSession) FireMetadataChanged() {
	for _, fn := range snapshot(&s.mu, s.metadataCbs) {
		fn()
	}
}

// FirePlaybackChanged invokes every live playback-changed callback.
func (s *MockSession) FirePlaybackChanged() {
	for _, fn := range snapshot(&s.mu, s.playbackCbs) {
		fn()
	}
}

// Calls returns the recorded transport command names in call order.
func (s *MockSession) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Registrations returns the number of live callback registrations.
func (s *MockSession) Registrations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.metadataCbs) + len(s.playbackCbs)
}

func snapshot(mu *sync.Mutex, cbs map[uint64]func()) []func() {
	mu.Lock()
	defer mu.Unlock()
	fns := make([]func(), 0, len(cbs))
	for _, fn := range cbs {
		fns = append(fns, fn)
	}
	return fns
}

var _ Session = (*MockSession)(nil)

// mockProperties is one snapshot of a MockSession's metadata.
type mockProperties struct {
	title, artist, album          string
	titleErr, artistErr, albumErr error
	thumb                         cover.Stream
	thumbErr                      error
	artURL                        string
}

func (p mockProperties) Title() (string, error)      { return p.title, p.titleErr }
func (p mockProperties) Artist() (string, error)     { return p.artist, p.artistErr }
func (p mockProperties) AlbumTitle() (string, error) { return p.album, p.albumErr }

func (p mockProperties) Thumbnail() (cover.Stream, error) {
	return p.thumb, p.thumbErr
}

func (p mockProperties) ArtURL() (string, error) { return p.artURL, nil }

var _ Properties = mockProperties{}
