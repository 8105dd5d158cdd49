//go:build linux

package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/llehouerou/nowplaying/internal/asyncop"
	"github.com/llehouerou/nowplaying/internal/cover"
)

const (
	mprisPrefix     = "org.mpris.MediaPlayer2."
	mprisPath       = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	playerInterface = "org.mpris.MediaPlayer2.Player"
	propsInterface  = "org.freedesktop.DBus.Properties"
	busInterface    = "org.freedesktop.DBus"
)

// DBusManager implements Manager over the MPRIS D-Bus interface. Each
// MPRIS-capable application owning a bus name under org.mpris.MediaPlayer2.
// appears as one session.
type DBusManager struct {
	conn *dbus.Conn

	mu       sync.Mutex
	handlers map[uint64]func(*dbus.Signal)
	nextID   uint64

	signals chan *dbus.Signal
	done    chan struct{}
}

// Connect opens the session bus and starts the signal pump.
func Connect() (Manager, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("session: connect to session bus: %w", err)
	}

	m := &DBusManager{
		conn:     conn,
		handlers: make(map[uint64]func(*dbus.Signal)),
		signals:  make(chan *dbus.Signal, 64),
		done:     make(chan struct{}),
	}
	conn.Signal(m.signals)
	go m.pump()
	return m, nil
}

// pump fans incoming D-Bus signals out to registered handlers. Handlers
// run on this goroutine; they must only schedule work, never block.
func (m *DBusManager) pump() {
	for {
		select {
		case sig, ok := <-m.signals:
			if !ok {
				return
			}
			m.dispatch(sig)
		case <-m.done:
			return
		}
	}
}

func (m *DBusManager) dispatch(sig *dbus.Signal) {
	m.mu.Lock()
	handlers := make([]func(*dbus.Signal), 0, len(m.handlers))
	for _, fn := range m.handlers {
		handlers = append(handlers, fn)
	}
	m.mu.Unlock()

	for _, fn := range handlers {
		fn(sig)
	}
}

// addHandler installs a match rule plus a local signal filter and returns
// a token that removes both.
func (m *DBusManager) addHandler(fn func(*dbus.Signal), opts ...dbus.MatchOption) (*Token, error) {
	if err := m.conn.AddMatchSignal(opts...); err != nil {
		return nil, fmt.Errorf("session: add match: %w", err)
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = fn
	m.mu.Unlock()

	return NewToken(func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
		if err := m.conn.RemoveMatchSignal(opts...); err != nil {
			slog.Warn("could not remove signal match", "error", err)
		}
	}), nil
}

// Sessions lists every MPRIS bus name currently owned.
func (m *DBusManager) Sessions() ([]Session, error) {
	var names []string
	err := m.conn.BusObject().Call(busInterface+".ListNames", 0).Store(&names)
	if err != nil {
		return nil, fmt.Errorf("session: list bus names: %w", err)
	}

	var sessions []Session
	for _, name := range names {
		if strings.HasPrefix(name, mprisPrefix) {
			sessions = append(sessions, newDBusSession(m, name))
		}
	}
	return sessions, nil
}

// OnSessionsChanged fires fn whenever an MPRIS bus name appears or
// disappears.
func (m *DBusManager) OnSessionsChanged(fn func()) (*Token, error) {
	handler := func(sig *dbus.Signal) {
		if sig.Name != busInterface+".NameOwnerChanged" || len(sig.Body) < 1 {
			return
		}
		name, ok := sig.Body[0].(string)
		if !ok || !strings.HasPrefix(name, mprisPrefix) {
			return
		}
		fn()
	}
	return m.addHandler(handler,
		dbus.WithMatchSender(busInterface),
		dbus.WithMatchInterface(busInterface),
		dbus.WithMatchMember("NameOwnerChanged"),
	)
}

// Close stops the signal pump and releases the bus connection.
func (m *DBusManager) Close() error {
	close(m.done)
	m.conn.RemoveSignal(m.signals)
	return m.conn.Close()
}

// nameOwner resolves a well-known bus name to its unique connection name.
// Signals carry the unique name as sender, so per-session filters need it.
func (m *DBusManager) nameOwner(name string) (string, error) {
	var owner string
	err := m.conn.BusObject().Call(busInterface+".GetNameOwner", 0, name).Store(&owner)
	if err != nil {
		return "", fmt.Errorf("session: resolve owner of %s: %w", name, err)
	}
	return owner, nil
}

// dbusSession is one MPRIS player.
type dbusSession struct {
	m    *DBusManager
	name string
	obj  dbus.BusObject
}

var _ Session = (*dbusSession)(nil)

func newDBusSession(m *DBusManager, name string) *dbusSession {
	return &dbusSession{
		m:    m,
		name: name,
		obj:  m.conn.Object(name, mprisPath),
	}
}

// SourceAppID returns the bus name suffix, e.g. "spotify" for
// org.mpris.MediaPlayer2.spotify.
func (s *dbusSession) SourceAppID() (string, error) {
	return strings.TrimPrefix(s.name, mprisPrefix), nil
}

func (s *dbusSession) metadata(ctx context.Context) (map[string]dbus.Variant, error) {
	var v dbus.Variant
	err := s.obj.CallWithContext(ctx, propsInterface+".Get", 0, playerInterface, "Metadata").Store(&v)
	if err != nil {
		return nil, fmt.Errorf("session: get metadata of %s: %w", s.name, err)
	}
	meta, ok := v.Value().(map[string]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("session: unexpected metadata type %T", v.Value())
	}
	return meta, nil
}

func (s *dbusSession) MediaProperties(ctx context.Context) (Properties, error) {
	meta, err := s.metadata(ctx)
	if err != nil {
		return nil, err
	}
	return mprisProperties{meta: meta}, nil
}

func (s *dbusSession) Timeline() (Timeline, error) {
	meta, err := s.metadata(context.Background())
	if err != nil {
		return Timeline{}, err
	}
	length, err := variantInt64(meta, "mpris:length")
	if err != nil {
		return Timeline{}, err
	}
	// mpris:length is in microseconds; ticks are 100 ns.
	return Timeline{MaxSeekTimeTicks: length * 10}, nil
}

func (s *dbusSession) Playback() (Playback, error) {
	var v dbus.Variant
	err := s.obj.Call(propsInterface+".Get", 0, playerInterface, "PlaybackStatus").Store(&v)
	if err != nil {
		return Playback{}, fmt.Errorf("session: get playback status of %s: %w", s.name, err)
	}
	status, _ := v.Value().(string)
	return Playback{Status: mapPlaybackStatus(status)}, nil
}

func mapPlaybackStatus(status string) Status {
	switch status {
	case "Playing":
		return StatusPlaying
	case "Paused":
		return StatusPaused
	case "Stopped":
		return StatusStopped
	default:
		slog.Debug("unknown playback status", "status", status)
		return StatusChanging
	}
}

// onPropertiesChanged fires fn when one of the given player properties
// changes on this session.
func (s *dbusSession) onPropertiesChanged(fn func(), properties ...string) (*Token, error) {
	owner, err := s.m.nameOwner(s.name)
	if err != nil {
		return nil, err
	}

	handler := func(sig *dbus.Signal) {
		if sig.Sender != owner || sig.Name != propsInterface+".PropertiesChanged" {
			return
		}
		if len(sig.Body) < 2 {
			return
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			return
		}
		for _, prop := range properties {
			if _, ok := changed[prop]; ok {
				fn()
				return
			}
		}
	}
	return s.m.addHandler(handler,
		dbus.WithMatchSender(s.name),
		dbus.WithMatchObjectPath(mprisPath),
		dbus.WithMatchInterface(propsInterface),
		dbus.WithMatchMember("PropertiesChanged"),
	)
}

func (s *dbusSession) OnMetadataChanged(fn func()) (*Token, error) {
	return s.onPropertiesChanged(fn, "Metadata")
}

func (s *dbusSession) OnPlaybackChanged(fn func()) (*Token, error) {
	return s.onPropertiesChanged(fn, "PlaybackStatus", "Volume")
}

// callOp adapts an in-flight D-Bus call to asyncop.Op.
type callOp struct {
	call *dbus.Call
}

func (o callOp) Wait() error {
	<-o.call.Done
	return o.call.Err
}

func (s *dbusSession) command(method string) asyncop.Op {
	return callOp{call: s.obj.Go(playerInterface+"."+method, 0, nil)}
}

func (s *dbusSession) Play() asyncop.Op         { return s.command("Play") }
func (s *dbusSession) Pause() asyncop.Op        { return s.command("Pause") }
func (s *dbusSession) SkipNext() asyncop.Op     { return s.command("Next") }
func (s *dbusSession) SkipPrevious() asyncop.Op { return s.command("Previous") }

// mprisProperties reads metadata fields out of one fetched snapshot.
type mprisProperties struct {
	meta map[string]dbus.Variant
}

var _ Properties = mprisProperties{}

func (p mprisProperties) stringField(key string) (string, error) {
	v, ok := p.meta[key]
	if !ok {
		return "", fmt.Errorf("session: metadata field %s missing", key)
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("session: metadata field %s has type %T", key, v.Value())
	}
	return s, nil
}

func (p mprisProperties) Title() (string, error) {
	return p.stringField("xesam:title")
}

func (p mprisProperties) AlbumTitle() (string, error) {
	return p.stringField("xesam:album")
}

func (p mprisProperties) Artist() (string, error) {
	v, ok := p.meta["xesam:artist"]
	if !ok {
		return "", fmt.Errorf("session: metadata field xesam:artist missing")
	}
	switch artists := v.Value().(type) {
	case []string:
		return strings.Join(artists, ", "), nil
	case string:
		return artists, nil
	default:
		return "", fmt.Errorf("session: metadata field xesam:artist has type %T", v.Value())
	}
}

func (p mprisProperties) artURL() string {
	v, ok := p.meta["mpris:artUrl"]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

// Thumbnail opens local (file://) cover art as a readable stream. Remote
// references are reported through ArtURL instead.
func (p mprisProperties) Thumbnail() (cover.Stream, error) {
	raw := p.artURL()
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "file" {
		return nil, nil
	}
	return cover.OpenFile(u.Path)
}

func (p mprisProperties) ArtURL() (string, error) {
	raw := p.artURL()
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw, nil
	}
	return "", nil
}

func variantInt64(meta map[string]dbus.Variant, key string) (int64, error) {
	v, ok := meta[key]
	if !ok {
		return 0, nil
	}
	switch n := v.Value().(type) {
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("session: metadata field %s has type %T", key, v.Value())
	}
}
