package console

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/invigil/sdk/go/invigil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func storedAlert(id, typ string, received time.Time) StoredAlert {
	return StoredAlert{
		ID:         id,
		Type:       typ,
		SourcePid:  1234,
		Detail:     "detail for " + id,
		RaisedAt:   received.Add(-time.Second),
		ReceivedAt: received,
	}
}

func TestStoreInsertAndRecent(t *testing.T) {
	s := newTestStore(t)

	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		a := storedAlert(id, "file_tamper", base.Add(time.Duration(i)*time.Second))
		if err := s.Insert(a); err != nil {
			t.Fatalf("Insert %s: %v", id, err)
		}
	}

	got, err := s.Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent returned %d alerts, want 3", len(got))
	}
	if got[0].ID != "c" || got[1].ID != "b" || got[2].ID != "a" {
		t.Errorf("wrong order: got %s, %s, %s, want c, b, a", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestStoreRoundTripFields(t *testing.T) {
	s := newTestStore(t)

	in := StoredAlert{
		ID:         "round-trip",
		Type:       "process_blocked",
		SourcePid:  4242,
		Detail:     "blocked /usr/bin/solitaire",
		RaisedAt:   time.Unix(0, 1700000000000000001),
		ReceivedAt: time.Unix(0, 1700000000000000002),
	}
	if err := s.Insert(in); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Recent returned %d alerts, want 1", len(got))
	}
	out := got[0]
	if out.ID != in.ID || out.Type != in.Type || out.SourcePid != in.SourcePid || out.Detail != in.Detail {
		t.Errorf("fields changed: got %+v, want %+v", out, in)
	}
	if out.RaisedAt.UnixNano() != in.RaisedAt.UnixNano() {
		t.Errorf("RaisedAt = %d, want %d", out.RaisedAt.UnixNano(), in.RaisedAt.UnixNano())
	}
	if out.ReceivedAt.UnixNano() != in.ReceivedAt.UnixNano() {
		t.Errorf("ReceivedAt = %d, want %d", out.ReceivedAt.UnixNano(), in.ReceivedAt.UnixNano())
	}
}

func TestStoreRecentLimit(t *testing.T) {
	s := newTestStore(t)

	base := time.Now()
	for i := 0; i < 5; i++ {
		a := storedAlert(string(rune('a'+i)), "process_blocked", base.Add(time.Duration(i)*time.Second))
		if err := s.Insert(a); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	got, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d alerts", len(got))
	}
	if got[0].ID != "e" || got[1].ID != "d" {
		t.Errorf("got %s, %s, want e, d", got[0].ID, got[1].ID)
	}
}

func TestStoreRecentEmpty(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if got == nil {
		t.Fatal("Recent returned nil, want empty slice")
	}
	if len(got) != 0 {
		t.Errorf("Recent returned %d alerts, want 0", len(got))
	}
}

func TestStoreCount(t *testing.T) {
	s := newTestStore(t)

	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("empty store Count = %d", n)
	}

	for i := 0; i < 3; i++ {
		a := storedAlert(string(rune('x'+i)), "service_tamper", time.Now())
		if err := s.Insert(a); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	n, err = s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestOpenStoreCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "var", "lib", "invigil", "alerts.db")
	s, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer s.Close()

	if err := s.Insert(storedAlert("nested", "file_tamper", time.Now())); err != nil {
		t.Errorf("Insert into nested store: %v", err)
	}
}

func TestFromAlert(t *testing.T) {
	in := invigil.Alert{
		Type:      "file_tamper",
		Time:      time.Unix(0, 1700000000123456789),
		SourcePid: 7,
		Detail:    "detected removal of /usr/local/bin/invigil",
	}
	now := time.Now()

	a := FromAlert(in, now)
	if a.ID == "" {
		t.Error("FromAlert left ID empty")
	}
	if b := FromAlert(in, now); b.ID == a.ID {
		t.Error("FromAlert reused an ID")
	}
	if a.Type != "file_tamper" {
		t.Errorf("Type = %q, want file_tamper", a.Type)
	}
	if a.SourcePid != 7 || a.Detail != in.Detail {
		t.Errorf("fields = %+v", a)
	}
	if !a.RaisedAt.Equal(in.Time) {
		t.Errorf("RaisedAt = %v, want %v", a.RaisedAt, in.Time)
	}
	if !a.ReceivedAt.Equal(now) {
		t.Errorf("ReceivedAt = %v, want %v", a.ReceivedAt, now)
	}
}
