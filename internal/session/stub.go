//go:build !linux

package session

// stubManager is a no-op manager for platforms without a supported
// session-control API. It never reports any session.
type stubManager struct{}

// Connect returns a no-op manager on unsupported platforms.
func Connect() (Manager, error) {
	return &stubManager{}, nil
}

func (s *stubManager) Sessions() ([]Session, error) {
	return nil, nil
}

func (s *stubManager) OnSessionsChanged(_ func()) (*Token, error) {
	return NewToken(nil), nil
}

func (s *stubManager) Close() error {
	return nil
}
