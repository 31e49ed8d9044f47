package proxy

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPool_AddAndNext(t *testing.T) {
	pool := NewPool(Config{})
	if err := pool.Add("127.0.0.1:8080", "http://127.0.0.1:8081", "socks5://127.0.0.1:9050"); err != nil {
		t.Fatalf("unexpected error adding proxies: %v", err)
	}

	want := []string{"http://127.0.0.1:8080", "http://127.0.0.1:8081", "socks5://127.0.0.1:9050", "http://127.0.0.1:8080"}
	for i, w := range want {
		u := pool.Next()
		if u == nil || u.String() != w {
			t.Errorf("call %d: expected %s, got %v", i, w, u)
		}
	}
}

func TestPool_AddRejectsBadURL(t *testing.T) {
	pool := NewPool(Config{})
	if err := pool.Add("http://ok", "http://bad host:%%"); err == nil {
		t.Fatal("expected parse error")
	}
	if pool.Len() != 0 {
		t.Errorf("expected no proxies added on error, got %d", pool.Len())
	}
}

func TestPool_Benching(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	pool := NewPool(Config{MaxFailures: 2, Cooldown: time.Minute})
	pool.now = func() time.Time { return now }

	if err := pool.Add("http://a", "http://b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := pool.Next()
	if a.String() != "http://a" {
		t.Fatalf("expected http://a, got %v", a)
	}
	_ = pool.MarkFailure(a)
	_ = pool.MarkFailure(a)

	for i := 0; i < 2; i++ {
		if u := pool.Next(); u.String() != "http://b" {
			t.Fatalf("expected http://b while a is benched, got %v", u)
		}
	}

	now = now.Add(2 * time.Minute)
	if u := pool.Next(); u.String() != "http://a" {
		t.Fatalf("expected http://a after cooldown, got %v", u)
	}
	if s := pool.Stats()[0]; s.Failures != 0 || s.Benched {
		t.Errorf("expected a to return with a clean slate, got %+v", s)
	}
}

func TestPool_SuccessForgivesFailure(t *testing.T) {
	pool := NewPool(Config{MaxFailures: 2})
	_ = pool.Add("http://a")
	a := pool.Next()

	_ = pool.MarkFailure(a)
	_ = pool.MarkSuccess(a)
	_ = pool.MarkFailure(a)

	if pool.Next() == nil {
		t.Error("a success between failures should keep the proxy usable")
	}
	if s := pool.Stats()[0]; s.Successes != 1 || s.Failures != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestPool_AllBenched(t *testing.T) {
	pool := NewPool(Config{MaxFailures: 1, Cooldown: time.Hour})
	_ = pool.Add("http://a")

	_ = pool.MarkFailure(pool.Next())
	if u := pool.Next(); u != nil {
		t.Errorf("expected nil when all proxies benched, got %v", u)
	}
}

func TestPool_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	content := "\n# upstream pool\nhttp://proxy1.com\nproxy2.com:80\n\nsocks5://proxy3.com:1080\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write proxy file: %v", err)
	}

	pool := NewPool(Config{})
	if err := pool.LoadFile(path); err != nil {
		t.Fatalf("failed to load file: %v", err)
	}

	for _, want := range []string{"http://proxy1.com", "http://proxy2.com:80", "socks5://proxy3.com:1080"} {
		u := pool.Next()
		if u == nil || u.String() != want {
			t.Errorf("expected %s, got %v", want, u)
		}
	}

	if err := pool.LoadFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPool_MarkUnknown(t *testing.T) {
	pool := NewPool(Config{})
	_ = pool.Add("http://a")
	unknown, _ := url.Parse("http://unknown")

	if err := pool.MarkSuccess(unknown); !errors.Is(err, ErrUnknownProxy) {
		t.Errorf("expected ErrUnknownProxy, got %v", err)
	}
	if err := pool.MarkFailure(unknown); !errors.Is(err, ErrUnknownProxy) {
		t.Errorf("expected ErrUnknownProxy, got %v", err)
	}
	if err := pool.MarkFailure(nil); err == nil {
		t.Error("expected error for nil url")
	}
}

func TestPool_Empty(t *testing.T) {
	if u := NewPool(Config{}).Next(); u != nil {
		t.Errorf("expected nil on empty pool, got %v", u)
	}
}
