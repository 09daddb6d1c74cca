package users

import (
	"errors"
	"sync"
)

// ErrStaleCredential marks a cached quick-login credential that the
// backend rejected. The cache entry must be dropped so the next sign-in
// goes through the full flow instead of retrying a dead credential.
var ErrStaleCredential = errors.New("cached credential rejected")

// Credential is the remembered quick-login identity for a device.
type Credential struct {
	Email  string
	Secret string
}

// CredentialCache holds at most one remembered credential, the quick-login
// slot on the sign-in screen.
type CredentialCache struct {
	mu    sync.Mutex
	cred  Credential
	valid bool
}

func (c *CredentialCache) Save(cred Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cred = cred
	c.valid = true
}

func (c *CredentialCache) Load() (Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred, c.valid
}

func (c *CredentialCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cred = Credential{}
	c.valid = false
}

// SignIn runs attempt with the cached credential. A stale rejection
// invalidates the cache and propagates as ErrStaleCredential; other errors
// (transient backend failures) keep the cache intact for retry.
func (c *CredentialCache) SignIn(attempt func(Credential) error) error {
	cred, ok := c.Load()
	if !ok {
		return ErrStaleCredential
	}
	err := attempt(cred)
	if errors.Is(err, ErrStaleCredential) {
		c.Invalidate()
	}
	return err
}
