package users

import (
	"errors"
	"testing"
)

func TestCredentialCacheSaveLoad(t *testing.T) {
	var cache CredentialCache

	if _, ok := cache.Load(); ok {
		t.Error("empty cache must report no credential")
	}

	cache.Save(Credential{Email: "caixa@cantina.com", Secret: "s3cret"})
	cred, ok := cache.Load()
	if !ok || cred.Email != "caixa@cantina.com" || cred.Secret != "s3cret" {
		t.Errorf("unexpected cached credential: %+v, ok=%v", cred, ok)
	}

	cache.Invalidate()
	if cred, ok := cache.Load(); ok || cred.Email != "" {
		t.Errorf("invalidated cache still holds %+v", cred)
	}
}

func TestSignInEmptyCache(t *testing.T) {
	var cache CredentialCache

	err := cache.SignIn(func(Credential) error {
		t.Fatal("attempt must not run without a cached credential")
		return nil
	})
	if !errors.Is(err, ErrStaleCredential) {
		t.Errorf("expected ErrStaleCredential, got %v", err)
	}
}

func TestSignInStaleCredentialDropsCache(t *testing.T) {
	var cache CredentialCache
	cache.Save(Credential{Email: "caixa@cantina.com", Secret: "old"})

	err := cache.SignIn(func(Credential) error {
		return ErrStaleCredential
	})
	if !errors.Is(err, ErrStaleCredential) {
		t.Fatalf("expected ErrStaleCredential, got %v", err)
	}
	if _, ok := cache.Load(); ok {
		t.Error("rejected credential must be dropped from the cache")
	}
}

func TestSignInTransientErrorKeepsCache(t *testing.T) {
	var cache CredentialCache
	cache.Save(Credential{Email: "caixa@cantina.com", Secret: "good"})

	boom := errors.New("network down")
	err := cache.SignIn(func(Credential) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected the transient error, got %v", err)
	}
	if _, ok := cache.Load(); !ok {
		t.Error("transient failure must not drop the credential")
	}

	// Retry after the outage succeeds with the same credential.
	err = cache.SignIn(func(cred Credential) error {
		if cred.Secret != "good" {
			t.Errorf("unexpected credential on retry: %+v", cred)
		}
		return nil
	})
	if err != nil {
		t.Errorf("retry failed: %v", err)
	}
}
