package session

import "sync"

// Token identifies a live native callback registration. Unregister is
// idempotent and nil-safe, so a token cannot be unregistered twice.
type Token struct {
	once   sync.Once
	remove func()
}

// NewToken wraps remove, which runs at most once.
func NewToken(remove func()) *Token {
	return &Token{remove: remove}
}

// Unregister removes the native registration. Calling it again, or on a
// nil token, does nothing.
func (t *Token) Unregister() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		if t.remove != nil {
			t.remove()
		}
	})
}
