package call

import "sync"

// Extensions maps short dialable extensions to connected users. A
// binding exists only while the user's connection is live; lookup is a
// single map read and always resolves to a currently-connected user
// because the signaling router unbinds on disconnect.
type Extensions struct {
	mu     sync.RWMutex
	byExt  map[string]string // extension → user id
	byUser map[string]string // user id → extension
}

// NewExtensions creates an empty extension registry.
func NewExtensions() *Extensions {
	return &Extensions{
		byExt:  make(map[string]string),
		byUser: make(map[string]string),
	}
}

// Bind associates an extension with a user. A user holds at most one
// binding: rebinding moves the user to the new extension. Binding an
// extension held by a different user returns ErrExtensionInUse.
func (x *Extensions) Bind(userID, ext string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if holder, ok := x.byExt[ext]; ok && holder != userID {
		return ErrExtensionInUse
	}
	if prev, ok := x.byUser[userID]; ok && prev != ext {
		delete(x.byExt, prev)
	}
	x.byExt[ext] = userID
	x.byUser[userID] = ext
	return nil
}

// Unbind removes the user's extension binding, if any.
func (x *Extensions) Unbind(userID string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if ext, ok := x.byUser[userID]; ok {
		delete(x.byExt, ext)
		delete(x.byUser, userID)
	}
}

// Lookup resolves an extension to the user currently bound to it.
func (x *Extensions) Lookup(ext string) (userID string, ok bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	userID, ok = x.byExt[ext]
	return userID, ok
}

// ExtensionOf returns the extension bound to a user.
func (x *Extensions) ExtensionOf(userID string) (ext string, ok bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ext, ok = x.byUser[userID]
	return ext, ok
}

// Count returns the number of live bindings.
func (x *Extensions) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byExt)
}
