package handoff

import (
	"errors"
	"testing"
	"time"
)

func newTestStore(ttl time.Duration, maxUploads int) (*SessionStore, *time.Time) {
	s := NewSessionStore(ttl, maxUploads)
	now := time.Now()
	s.now = func() time.Time { return now }
	return s, &now
}

func TestValidate_AddressBinding(t *testing.T) {
	s, _ := newTestStore(3*time.Minute, 3)
	id := s.Create("10.0.0.1")

	if !s.Validate(id, "10.0.0.1") {
		t.Fatal("session must validate from its creating address")
	}
	if s.Validate(id, "10.0.0.2") {
		t.Fatal("session must never validate from a different address")
	}
	// The mismatch must have invalidated the session entirely.
	if s.Validate(id, "10.0.0.1") {
		t.Fatal("session must be unusable after an address mismatch")
	}
}

func TestValidate_SelfInvalidatesOnExpiry(t *testing.T) {
	s, now := newTestStore(3*time.Minute, 3)
	id := s.Create("10.0.0.1")

	*now = now.Add(2 * time.Minute)
	if !s.Validate(id, "10.0.0.1") {
		t.Fatal("session within TTL must validate")
	}

	// Past TTL, validate must fail and delete the entry without any sweep.
	*now = now.Add(2 * time.Minute)
	if s.Validate(id, "10.0.0.1") {
		t.Fatal("expired session must not validate")
	}
	if s.Len() != 0 {
		t.Fatalf("expired session must be deleted on validate, %d left", s.Len())
	}
}

func TestValidate_UnknownID(t *testing.T) {
	s, _ := newTestStore(3*time.Minute, 3)
	if s.Validate("upload-does-not-exist", "10.0.0.1") {
		t.Fatal("unknown session id must not validate")
	}
}

func TestIncrementUpload_Quota(t *testing.T) {
	s, _ := newTestStore(3*time.Minute, 3)
	id := s.Create("10.0.0.1")

	for i := 0; i < 3; i++ {
		if err := s.IncrementUpload(id); err != nil {
			t.Fatalf("upload %d within quota failed: %v", i+1, err)
		}
	}
	if err := s.IncrementUpload(id); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("want ErrQuotaExceeded on upload beyond quota, got %v", err)
	}
}

func TestIncrementUpload_UnknownSession(t *testing.T) {
	s, _ := newTestStore(3*time.Minute, 3)
	if err := s.IncrementUpload("upload-nope"); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("want ErrSessionInvalid, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	s, now := newTestStore(3*time.Minute, 3)
	old := s.Create("10.0.0.1")
	_ = old

	*now = now.Add(2 * time.Minute)
	fresh := s.Create("10.0.0.2")

	*now = now.Add(2 * time.Minute)
	if dropped := s.SweepExpired(); dropped != 1 {
		t.Fatalf("want 1 session swept, got %d", dropped)
	}
	if !s.Validate(fresh, "10.0.0.2") {
		t.Fatal("fresh session must survive the sweep")
	}
}

func TestCreate_IDsAreOpaqueAndUnique(t *testing.T) {
	s, _ := newTestStore(3*time.Minute, 3)
	a := s.Create("10.0.0.1")
	b := s.Create("10.0.0.1")
	if a == b {
		t.Fatal("session ids must be unique")
	}
	if len(a) < len("upload-")+32 {
		t.Fatalf("session id suspiciously short: %q", a)
	}
}
