package cache

import (
	"testing"
	"time"
)

func TestNewEntry(t *testing.T) {
	entry := NewEntry([]byte(`{"versions":["10.1"]}`), 5*time.Minute)

	if entry.IsExpired() {
		t.Error("fresh entry should not be expired")
	}
	if ttl := entry.TTL(); ttl <= 4*time.Minute || ttl > 5*time.Minute {
		t.Errorf("TTL = %v, want ~5m", ttl)
	}
}

func TestEntryExpired(t *testing.T) {
	entry := &Entry{
		Data:     []byte("{}"),
		Expires:  time.Now().Add(-time.Minute),
		CachedAt: time.Now().Add(-6 * time.Minute),
	}

	if !entry.IsExpired() {
		t.Error("entry past its Expires should be expired")
	}
	if ttl := entry.TTL(); ttl != 0 {
		t.Errorf("TTL of expired entry = %v, want 0", ttl)
	}
}
