package webhook

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JKgeneral1/IT-tgBot/internal/bridge"
	"github.com/JKgeneral1/IT-tgBot/internal/dedupe"
)

// recordingEngine captures lifecycle events handed over by the server.
type recordingEngine struct {
	mu     sync.Mutex
	events []bridge.LifecycleEvent
	err    error
}

func (r *recordingEngine) HandleLifecycle(ctx context.Context, ev bridge.LifecycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEngine) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recordingEngine) last() bridge.LifecycleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func newTestServer(t *testing.T, opts StartOpts) *httptest.Server {
	t.Helper()
	router, err := newRouter(opts)
	if err != nil {
		t.Fatalf("newRouter: %v", err)
	}
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhook", strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	return resp
}

func TestPushDeliversEvent(t *testing.T) {
	eng := &recordingEngine{}
	srv := newTestServer(t, StartOpts{Engine: eng})

	body := `{"ticket_id":"t-1","Fields":{"status":{"Id":106939,"Name":"Pending"}}}`
	resp := post(t, srv, body, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if eng.count() != 1 {
		t.Fatalf("events = %d, want 1", eng.count())
	}
	ev := eng.last()
	if ev.TicketID != "t-1" || ev.StatusID != 106939 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestPushAcceptsAliasKeysAndNumericIDs(t *testing.T) {
	eng := &recordingEngine{}
	srv := newTestServer(t, StartOpts{Engine: eng})

	resp := post(t, srv, `{"TaskId":4711,"status":12}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	ev := eng.last()
	if ev.TicketID != "4711" || ev.StatusID != 12 {
		t.Fatalf("event = %+v", ev)
	}
}

func TestPushMissingTicketIDRejected(t *testing.T) {
	eng := &recordingEngine{}
	srv := newTestServer(t, StartOpts{Engine: eng})

	resp := post(t, srv, `{"Fields":{"status":1}}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if eng.count() != 0 {
		t.Fatalf("events = %d, want 0", eng.count())
	}
}

func TestPushMalformedBodyRejected(t *testing.T) {
	eng := &recordingEngine{}
	srv := newTestServer(t, StartOpts{Engine: eng})

	resp := post(t, srv, `{not json`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPushSecretEnforced(t *testing.T) {
	eng := &recordingEngine{}
	srv := newTestServer(t, StartOpts{Engine: eng, Secret: "s3cret"})

	resp := post(t, srv, `{"ticket_id":"t-1"}`, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("no header: status = %d, want 403", resp.StatusCode)
	}
	resp = post(t, srv, `{"ticket_id":"t-1"}`, map[string]string{DefaultSecretHeader: "wrong"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("wrong secret: status = %d, want 403", resp.StatusCode)
	}
	resp = post(t, srv, `{"ticket_id":"t-1"}`, map[string]string{DefaultSecretHeader: "s3cret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("right secret: status = %d, want 200", resp.StatusCode)
	}
	if eng.count() != 1 {
		t.Fatalf("events = %d, want 1", eng.count())
	}
}

func TestPushCustomSecretHeader(t *testing.T) {
	eng := &recordingEngine{}
	srv := newTestServer(t, StartOpts{Engine: eng, Secret: "s3cret", SecretHeader: "X-Desk-Token"})

	resp := post(t, srv, `{"ticket_id":"t-1"}`, map[string]string{DefaultSecretHeader: "s3cret"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("default header: status = %d, want 403", resp.StatusCode)
	}
	resp = post(t, srv, `{"ticket_id":"t-1"}`, map[string]string{"X-Desk-Token": "s3cret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("configured header: status = %d, want 200", resp.StatusCode)
	}
	if eng.count() != 1 {
		t.Fatalf("events = %d, want 1", eng.count())
	}
}

func TestPushDuplicateBodyShortCircuits(t *testing.T) {
	eng := &recordingEngine{}
	srv := newTestServer(t, StartOpts{Engine: eng, Guard: dedupe.New(time.Minute, 100)})

	body := `{"ticket_id":"t-1","status":5}`
	for i := 0; i < 3; i++ {
		resp := post(t, srv, body, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("delivery %d: status = %d, want 200", i, resp.StatusCode)
		}
	}
	if eng.count() != 1 {
		t.Fatalf("events after redeliveries = %d, want 1", eng.count())
	}
}

func TestPushEngineFailureAllowsRetry(t *testing.T) {
	eng := &recordingEngine{err: fmt.Errorf("storage down")}
	srv := newTestServer(t, StartOpts{Engine: eng, Guard: dedupe.New(time.Minute, 100)})

	body := `{"ticket_id":"t-1","status":5}`
	resp := post(t, srv, body, nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}

	eng.mu.Lock()
	eng.err = nil
	eng.mu.Unlock()
	resp = post(t, srv, body, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry status = %d, want 200", resp.StatusCode)
	}
	if eng.count() != 1 {
		t.Fatalf("events after retry = %d, want 1", eng.count())
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, StartOpts{Engine: &recordingEngine{}})
	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestParseEventComments(t *testing.T) {
	body := `{
		"ticket_id": "t-9",
		"Fields": {
			"Comments": [
				{"Text": "<p>Try rebooting the switch&nbsp;first.<br/>Then call us.</p>"},
				{"Text": ""}
			]
		}
	}`
	ev, err := parseEvent([]byte(body))
	if err != nil {
		t.Fatalf("parseEvent: %v", err)
	}
	if len(ev.Comments) != 1 {
		t.Fatalf("comments = %v, want 1 entry", ev.Comments)
	}
	want := "Try rebooting the switch first.\nThen call us."
	if ev.Comments[0] != want {
		t.Fatalf("comment = %q, want %q", ev.Comments[0], want)
	}
}

func TestParseEventTopLevelComment(t *testing.T) {
	ev, err := parseEvent([]byte(`{"id":"t-2","comment":"plain note"}`))
	if err != nil {
		t.Fatalf("parseEvent: %v", err)
	}
	if len(ev.Comments) != 1 || ev.Comments[0] != "plain note" {
		t.Fatalf("comments = %v", ev.Comments)
	}
}
