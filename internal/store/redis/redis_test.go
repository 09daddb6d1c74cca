package redis

import (
	"context"
	"errors"
	"testing"

	redis "github.com/redis/go-redis/v9"

	"github.com/samuelcolman2/cantina-icone/internal/store"
)

func TestKeyPathMapping(t *testing.T) {
	s := NewWithClient(redis.NewClient(&redis.Options{}), "cantina")

	if got := s.key("products/p1/stock"); got != "cantina/products/p1/stock" {
		t.Errorf("unexpected key: %q", got)
	}
	if got := s.path("cantina/products/p1/stock"); got != "products/p1/stock" {
		t.Errorf("unexpected path: %q", got)
	}
	if got := s.path(s.key("sales_log")); got != "sales_log" {
		t.Errorf("key/path mapping is not an inverse: %q", got)
	}
}

func TestDefaultPrefix(t *testing.T) {
	s := NewWithClient(redis.NewClient(&redis.Options{}), "")

	if got := s.key("products"); got != "cantina/products" {
		t.Errorf("expected the default prefix, got %q", got)
	}
	if s.channel != "cantina!changes" {
		t.Errorf("unexpected change channel: %q", s.channel)
	}
}

func TestPrefixIsolation(t *testing.T) {
	client := redis.NewClient(&redis.Options{})
	a := NewWithClient(client, "lunch")
	b := NewWithClient(client, "dinner")

	if a.key("products/p1") == b.key("products/p1") {
		t.Error("different prefixes must map to different keys")
	}
	if a.channel == b.channel {
		t.Error("different prefixes must use different change channels")
	}
}

func TestWrapErr(t *testing.T) {
	if wrapErr(nil) != nil {
		t.Error("nil must pass through")
	}
	if got := wrapErr(redis.Nil); !errors.Is(got, store.ErrNotFound) {
		t.Errorf("redis.Nil must map to ErrNotFound, got %v", got)
	}
	if got := wrapErr(context.Canceled); !errors.Is(got, context.Canceled) {
		t.Errorf("context errors must pass through, got %v", got)
	}
	if got := wrapErr(errors.New("connection refused")); !errors.Is(got, store.ErrUnavailable) {
		t.Errorf("backend errors must map to ErrUnavailable, got %v", got)
	}
}
