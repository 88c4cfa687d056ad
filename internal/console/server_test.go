package console

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/ppiankov/invigil/sdk/go/invigil"
)

func newTestRouter(t *testing.T, status StatusFunc) (*mux.Router, *Store) {
	t.Helper()
	s := newTestStore(t)
	if status == nil {
		status = func() (invigil.Status, bool) {
			return invigil.Status{}, false
		}
	}
	r := mux.NewRouter()
	RegisterRoutes(r, NewHandler(s, NewHub(), status))
	return r, s
}

func get(t *testing.T, r *mux.Router, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestGetStatus(t *testing.T) {
	snap := invigil.Status{
		Version:              "1.1",
		ProtectedPid:         4321,
		ProcessProtection:    true,
		FileProtection:       true,
		Alive:                true,
		FailedUnlockAttempts: 2,
		Role:                 "teacher",
		PolicyValid:          true,
	}
	r, s := newTestRouter(t, func() (invigil.Status, bool) { return snap, true })
	if err := s.Insert(storedAlert("one", "file_tamper", time.Now())); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rec := get(t, r, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got struct {
		Version           string `json:"version"`
		ProtectedPid      uint32 `json:"protected_pid"`
		ProcessProtection bool   `json:"process_protection"`
		FileProtection    bool   `json:"file_protection"`
		Alive             bool   `json:"alive"`
		FailedAttempts    uint32 `json:"failed_unlock_attempts"`
		Role              string `json:"role"`
		PolicyValid       bool   `json:"policy_valid"`
		AlertCount        int64  `json:"alert_count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Version != "1.1" {
		t.Errorf("version = %q, want 1.1", got.Version)
	}
	if got.ProtectedPid != 4321 || !got.ProcessProtection || !got.FileProtection || !got.Alive {
		t.Errorf("snapshot fields wrong: %+v", got)
	}
	if got.FailedAttempts != 2 {
		t.Errorf("failed attempts = %d, want 2", got.FailedAttempts)
	}
	if got.Role != "teacher" {
		t.Errorf("role = %q, want teacher", got.Role)
	}
	if !got.PolicyValid {
		t.Error("policy_valid = false")
	}
	if got.AlertCount != 1 {
		t.Errorf("alert_count = %d, want 1", got.AlertCount)
	}
}

func TestGetStatusBeforeFirstHeartbeat(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	rec := get(t, r, "/api/status")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestGetAlertsNewestFirst(t *testing.T) {
	r, s := newTestRouter(t, nil)

	base := time.Now()
	if err := s.Insert(storedAlert("older", "file_tamper", base)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(storedAlert("newer", "process_blocked", base.Add(time.Second))); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rec := get(t, r, "/api/alerts")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var got []StoredAlert
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d alerts, want 2", len(got))
	}
	if got[0].ID != "newer" || got[1].ID != "older" {
		t.Errorf("order = %s, %s, want newer, older", got[0].ID, got[1].ID)
	}
}

func TestGetAlertsLimit(t *testing.T) {
	r, s := newTestRouter(t, nil)

	base := time.Now()
	for i, id := range []string{"first", "second", "third"} {
		if err := s.Insert(storedAlert(id, "file_tamper", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	rec := get(t, r, "/api/alerts?limit=1")
	var got []StoredAlert
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].ID != "third" {
		t.Errorf("got %+v, want just third", got)
	}
}

func TestGetAlertsBadLimit(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	for _, raw := range []string{"banana", "-3", "1.5"} {
		rec := get(t, r, "/api/alerts?limit="+raw)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", raw, rec.Code)
		}
	}
}

func TestGetAlertsEmptyIsArray(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	rec := get(t, r, "/api/alerts")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("empty history body = %q, want []", body)
	}
}

func TestAlertsRejectsPost(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/alerts", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}
