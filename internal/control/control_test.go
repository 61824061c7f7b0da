package control

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibetunnel/core/internal/session"
	"github.com/vibetunnel/core/internal/stream"
)

func newTestServer(t *testing.T) (*httptest.Server, *session.Registry) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	hub := stream.New()
	registry := session.New(t.TempDir(), hub, log)
	t.Cleanup(registry.Shutdown)

	srv := New(Config{Registry: registry, Hub: hub, Log: log})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, registry
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func createSession(t *testing.T, ts *httptest.Server, body map[string]interface{}) string {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/sessions", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("create: status %d: %s", resp.StatusCode, raw)
	}
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return out.SessionID
}

func waitForStatus(t *testing.T, ts *httptest.Server, id, want string, timeout time.Duration) session.Session {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/api/sessions/" + id)
		if err != nil {
			t.Fatalf("GET session: %v", err)
		}
		var sess session.Session
		err = json.NewDecoder(resp.Body).Decode(&sess)
		resp.Body.Close()
		if err == nil && string(sess.Status) == want {
			return sess
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("session %s never reached status %s", id, want)
	return session.Session{}
}

func TestCreateSessionAndExitLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)

	id := createSession(t, ts, map[string]interface{}{
		"command":    []string{"echo", "hi"},
		"workingDir": t.TempDir(),
	})
	if !regexp.MustCompile(`^[0-9a-f-]{8,36}$`).MatchString(id) {
		t.Fatalf("sessionId %q does not look like a UUID or hex id", id)
	}

	sess := waitForStatus(t, ts, id, "exited", 2*time.Second)
	if sess.ExitCode == nil || *sess.ExitCode != 0 {
		t.Fatalf("exitCode = %v, want 0", sess.ExitCode)
	}
	if sess.PID != 0 {
		t.Fatalf("pid should be cleared after exit, got %d", sess.PID)
	}
}

func TestStreamReplaysExitedSession(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createSession(t, ts, map[string]interface{}{
		"command":    []string{"echo", "stream-me"},
		"workingDir": t.TempDir(),
	})
	waitForStatus(t, ts, id, "exited", 2*time.Second)

	resp, err := http.Get(ts.URL + "/api/sessions/" + id + "/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	text := string(body)
	if !strings.Contains(text, "event: output") {
		t.Fatalf("stream missing output event:\n%s", text)
	}
	if !strings.Contains(text, "event: exit\ndata: 0") {
		t.Fatalf("stream missing exit event:\n%s", text)
	}
	if strings.Count(text, "event: exit") != 1 {
		t.Fatalf("expected exactly one exit event:\n%s", text)
	}
}

func TestTextAndBufferSnapshotsOfExitedSession(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createSession(t, ts, map[string]interface{}{
		"command":    []string{"echo", "snapshot-content"},
		"workingDir": t.TempDir(),
	})
	waitForStatus(t, ts, id, "exited", 2*time.Second)

	resp, err := http.Get(ts.URL + "/api/sessions/" + id + "/text")
	if err != nil {
		t.Fatalf("GET text: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("text status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "snapshot-content") {
		t.Fatalf("text snapshot missing session output:\n%s", body)
	}

	resp, err = http.Get(ts.URL + "/api/sessions/" + id + "/buffer")
	if err != nil {
		t.Fatalf("GET buffer: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("buffer status = %d", resp.StatusCode)
	}
	if len(raw) < 8 || raw[0] != 0x56 || raw[1] != 0x54 || raw[2] != 0x01 {
		t.Fatalf("buffer header = % x", raw[:8])
	}
}

func TestCreateSessionValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	tests := []struct {
		name string
		body map[string]interface{}
		want int
		msg  string
	}{
		{
			name: "missing working dir",
			body: map[string]interface{}{"command": []string{"echo", "hi"}, "workingDir": "/nonexistent"},
			want: http.StatusBadRequest,
			msg:  "working directory",
		},
		{
			name: "empty command",
			body: map[string]interface{}{"command": []string{}, "workingDir": "/tmp"},
			want: http.StatusBadRequest,
		},
		{
			name: "name too long",
			body: map[string]interface{}{"command": []string{"true"}, "workingDir": "/tmp", "name": strings.Repeat("x", 300)},
			want: http.StatusBadRequest,
		},
		{
			name: "bad title mode",
			body: map[string]interface{}{"command": []string{"true"}, "workingDir": "/tmp", "titleMode": "bogus"},
			want: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/sessions", tt.body)
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.msg != "" {
				var e struct {
					Error string `json:"error"`
				}
				json.NewDecoder(resp.Body).Decode(&e)
				if !strings.Contains(e.Error, tt.msg) {
					t.Fatalf("error %q does not mention %q", e.Error, tt.msg)
				}
			}
		})
	}
}

func TestSessionIDCollision(t *testing.T) {
	ts, _ := newTestServer(t)
	dir := t.TempDir()
	body := map[string]interface{}{
		"command":    []string{"sh", "-c", "sleep 30"},
		"workingDir": dir,
		"sessionId":  "test1234",
	}
	id := createSession(t, ts, body)
	if id != "test1234" {
		t.Fatalf("sessionId = %q, want test1234", id)
	}
	defer http.Post(ts.URL+"/api/cleanup-exited", "", nil)
	defer deleteSession(t, ts, id)

	resp := postJSON(t, ts.URL+"/api/sessions", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func deleteSession(t *testing.T, ts *httptest.Server, id string) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
}

func TestInputValidationAndLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createSession(t, ts, map[string]interface{}{
		"command":    []string{"cat"},
		"workingDir": t.TempDir(),
	})
	waitForStatus(t, ts, id, "running", 2*time.Second)

	resp := postJSON(t, ts.URL+"/api/sessions/"+id+"/input", map[string]string{"text": ""})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty input status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/sessions/"+id+"/input", map[string]string{"text": "hello\n"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("input status = %d, want 204", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/sessions/nope/input", map[string]string{"text": "x"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session input status = %d, want 404", resp.StatusCode)
	}

	deleteSession(t, ts, id)
	waitForStatus(t, ts, id, "exited", 6*time.Second)

	resp = postJSON(t, ts.URL+"/api/sessions/"+id+"/input", map[string]string{"text": "x"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("input to exited session status = %d, want 410", resp.StatusCode)
	}
}

func TestDeleteKillsSession(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createSession(t, ts, map[string]interface{}{
		"command":    []string{"sh", "-c", "sleep 100"},
		"workingDir": t.TempDir(),
	})
	waitForStatus(t, ts, id, "running", 2*time.Second)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}

	sess := waitForStatus(t, ts, id, "exited", 6*time.Second)
	if sess.ExitCode == nil || *sess.ExitCode >= 0 {
		t.Fatalf("exitCode = %v, want a negative signal code", sess.ExitCode)
	}
}

func TestResizeValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createSession(t, ts, map[string]interface{}{
		"command":    []string{"sh", "-c", "sleep 30"},
		"workingDir": t.TempDir(),
	})
	defer deleteSession(t, ts, id)
	waitForStatus(t, ts, id, "running", 2*time.Second)

	resp := postJSON(t, ts.URL+"/api/sessions/"+id+"/resize", map[string]int{"cols": 0, "rows": 40})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero cols status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/sessions/"+id+"/resize", map[string]int{"cols": 120, "rows": 40})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("resize status = %d, want 204", resp.StatusCode)
	}

	sess := waitForStatus(t, ts, id, "running", time.Second)
	if sess.Cols != 120 || sess.Rows != 40 {
		t.Fatalf("cols/rows = %d/%d, want 120/40", sess.Cols, sess.Rows)
	}
}

func TestActivityEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createSession(t, ts, map[string]interface{}{
		"command":    []string{"sh", "-c", "sleep 30"},
		"workingDir": t.TempDir(),
	})
	defer deleteSession(t, ts, id)
	waitForStatus(t, ts, id, "running", 2*time.Second)

	resp, err := http.Get(ts.URL + "/api/sessions/" + id + "/activity")
	if err != nil {
		t.Fatalf("GET activity: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activity status = %d", resp.StatusCode)
	}
	var act struct {
		IsActive *bool `json:"isActive"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&act); err != nil {
		t.Fatalf("decode activity: %v", err)
	}
	if act.IsActive == nil {
		t.Fatal("activity response missing isActive")
	}

	resp2, err := http.Get(ts.URL + "/api/sessions/activity")
	if err != nil {
		t.Fatalf("GET all activity: %v", err)
	}
	defer resp2.Body.Close()
	var all map[string]json.RawMessage
	if err := json.NewDecoder(resp2.Body).Decode(&all); err != nil {
		t.Fatalf("decode all activity: %v", err)
	}
	if _, ok := all[id]; !ok {
		t.Fatalf("aggregate activity missing session %s", id)
	}
}

func TestHealthAndCleanup(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createSession(t, ts, map[string]interface{}{
		"command":    []string{"true"},
		"workingDir": t.TempDir(),
	})
	waitForStatus(t, ts, id, "exited", 2*time.Second)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	var health struct {
		OK       bool    `json:"ok"`
		Uptime   float64 `json:"uptime"`
		Sessions int     `json:"sessions"`
	}
	err = json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if err != nil || !health.OK || health.Sessions != 1 {
		t.Fatalf("health = %+v, err %v", health, err)
	}

	resp, err = http.Post(ts.URL+"/api/cleanup-exited", "application/json", nil)
	if err != nil {
		t.Fatalf("POST cleanup: %v", err)
	}
	var cleaned struct {
		LocalCleaned int `json:"localCleaned"`
	}
	err = json.NewDecoder(resp.Body).Decode(&cleaned)
	resp.Body.Close()
	if err != nil || cleaned.LocalCleaned != 1 {
		t.Fatalf("cleanup = %+v, err %v", cleaned, err)
	}

	resp, _ = http.Get(ts.URL + "/api/sessions/" + id)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("session should be gone after cleanup, got %d", resp.StatusCode)
	}
}

func TestBasicAuth(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	hub := stream.New()
	registry := session.New(t.TempDir(), hub, log)
	t.Cleanup(registry.Shutdown)

	srv := New(Config{Registry: registry, Hub: hub, Log: log, Username: "u", Password: "p"})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/health", nil)
	req.SetBasicAuth("u", "p")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with auth: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", resp.StatusCode)
	}
}

func TestListSessions(t *testing.T) {
	ts, _ := newTestServer(t)
	id := createSession(t, ts, map[string]interface{}{
		"command":    []string{"sh", "-c", "sleep 30"},
		"workingDir": t.TempDir(),
		"sessionId":  "deadbeef",
		"name":       "listed",
	})
	defer deleteSession(t, ts, id)
	waitForStatus(t, ts, id, "running", 2*time.Second)

	resp, err := http.Get(ts.URL + "/api/sessions")
	if err != nil {
		t.Fatalf("GET sessions: %v", err)
	}
	defer resp.Body.Close()
	var list []session.Session
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	for _, sess := range list {
		if sess.ID == "deadbeef" && sess.Status == session.StatusRunning && sess.Name == "listed" {
			return
		}
	}
	t.Fatalf("deadbeef not found running in %s", fmt.Sprint(list))
}
