package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeHub struct {
	status string
}

func (f *fakeHub) Status() string         { return f.status }
func (f *fakeHub) IsConnected() bool      { return f.status == "connected" }
func (f *fakeHub) RTT() time.Duration     { return 42 * time.Millisecond }
func (f *fakeHub) Attempts() int          { return 3 }
func (f *fakeHub) Degraded() bool         { return false }
func (f *fakeHub) ActivePage() string     { return "positions" }
func (f *fakeHub) PausedTopics() []string { return []string{"events.new"} }

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(New(&fakeHub{status: "connected"}, zerolog.Nop()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health returned %d", resp.StatusCode)
	}
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(New(&fakeHub{status: "connected"}, zerolog.Nop()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Status     string   `json:"status"`
		Connected  bool     `json:"connected"`
		RTTMS      int64    `json:"rtt_ms"`
		Attempts   int      `json:"attempts"`
		ActivePage string   `json:"active_page"`
		Paused     []string `json:"paused"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}

	if body.Status != "connected" || !body.Connected {
		t.Fatalf("unexpected status body: %+v", body)
	}
	if body.RTTMS != 42 || body.Attempts != 3 {
		t.Fatalf("unexpected metrics: %+v", body)
	}
	if body.ActivePage != "positions" || len(body.Paused) != 1 {
		t.Fatalf("unexpected page state: %+v", body)
	}
}
