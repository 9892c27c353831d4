package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/bittyctl/internal/discovery"
	"github.com/danmuck/bittyctl/internal/dispatch"
	"github.com/danmuck/bittyctl/internal/link"
	"github.com/danmuck/bittyctl/internal/profile"
	"github.com/danmuck/bittyctl/internal/protocol/session"
	"github.com/danmuck/bittyctl/internal/testutil/fakeport"
	"github.com/danmuck/bittyctl/internal/testutil/testlog"
	"github.com/danmuck/bittyctl/internal/transport"
)

type harness struct {
	server *Server
	d      *dispatch.Dispatcher

	mu    sync.Mutex
	ports map[string]*fakeport.Port
	names []string
}

func newHarness(t *testing.T, admitted ...string) *harness {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.Unit = 10 * time.Millisecond
	h := &harness{ports: make(map[string]*fakeport.Port)}
	h.d = dispatch.New(link.NewRegistry(), profile.Default(), cfg)
	disc := discovery.New(h.d, h.open, transport.EnumeratorFunc(h.list), discovery.DefaultRulesFor("linux"))
	h.server = New(Config{Addr: "127.0.0.1:0"}, h.d, disc, discovery.NewSupervisor(disc, discovery.DefaultWatchOptions()))
	for _, name := range admitted {
		p := h.port(name)
		if _, err := h.d.Registry().Admit(link.New(name, p)); err != nil {
			t.Fatalf("admit %s: %v", name, err)
		}
	}
	return h
}

func (h *harness) port(name string) *fakeport.Port {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.ports[name]
	if !ok {
		p = fakeport.NewEcho(name)
		h.ports[name] = p
	}
	return p
}

func (h *harness) open(name string) (transport.Transport, error) {
	return h.port(name), nil
}

func (h *harness) list() ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.names...), nil
}

func (h *harness) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)
	var out map[string]any
	if rr.Body.Len() > 0 && rr.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(rr.Body.Bytes(), &out)
	}
	return rr.Code, out
}

func TestHealthAndLinks(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "/dev/ttyUSB0", "/dev/ttyUSB1")

	code, body := h.do(t, http.MethodGet, "/health", nil)
	if code != http.StatusOK || body["links"] != float64(2) {
		t.Fatalf("unexpected health: code=%d body=%v", code, body)
	}
	code, body = h.do(t, http.MethodGet, "/links", nil)
	links, _ := body["links"].([]any)
	if code != http.StatusOK || len(links) != 2 {
		t.Fatalf("unexpected links: code=%d body=%v", code, body)
	}
	first, _ := links[0].(map[string]any)
	if first["display"] != "ttyUSB0" {
		t.Fatalf("unexpected first link: %v", first)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || !bytes.Contains(rr.Body.Bytes(), []byte("bittyctl_http_requests_total")) {
		t.Fatalf("metrics not exposed: code=%d", rr.Code)
	}
}

func TestSendEndpoint(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "/dev/ttyUSB0")

	code, body := h.do(t, http.MethodPost, "/send", sendRequest{Command: "L", Ints: make([]int, 16)})
	if code != http.StatusOK || body["ok"] != true {
		t.Fatalf("unexpected send: code=%d body=%v", code, body)
	}
	outcomes, _ := body["outcomes"].([]any)
	if len(outcomes) != 1 {
		t.Fatalf("expected one outcome, got %v", body["outcomes"])
	}
	if got := outcomes[0].(map[string]any)["line"]; got != "L" {
		t.Fatalf("unexpected echo line: %v", got)
	}

	code, body = h.do(t, http.MethodPost, "/send", sendRequest{Args: []string{"kbalance"}})
	if code != http.StatusOK || body["ok"] != true {
		t.Fatalf("unexpected string send: code=%d body=%v", code, body)
	}
	frames := h.port("/dev/ttyUSB0").Frames()
	if len(frames) != 2 || string(frames[1]) != "kbalance\n" {
		t.Fatalf("unexpected frames: %q", frames)
	}
}

func TestSendEndpointErrors(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "/dev/ttyUSB0")

	if code, _ := h.do(t, http.MethodPost, "/send", sendRequest{Command: "L", Ints: []int{1, 2}}); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed payload, got %d", code)
	}
	if code, _ := h.do(t, http.MethodPost, "/send", sendRequest{Targets: []string{"/dev/nope"}, Command: "d"}); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown target, got %d", code)
	}
	if len(h.port("/dev/ttyUSB0").Frames()) != 0 {
		t.Fatalf("rejected requests must not transmit")
	}

	empty := newHarness(t)
	if code, _ := empty.do(t, http.MethodPost, "/send", sendRequest{Command: "d"}); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no links, got %d", code)
	}
}

func TestDiscoverEndpoint(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	validate := false
	code, body := h.do(t, http.MethodPost, "/discover", discoverRequest{
		Names:    []string{"/dev/ttyUSB0", "/dev/ttyAMA0"},
		Validate: &validate,
	})
	admitted, _ := body["admitted"].([]any)
	if code != http.StatusOK || len(admitted) != 1 || admitted[0] != "/dev/ttyUSB0" {
		t.Fatalf("unexpected discover: code=%d body=%v", code, body)
	}
	if h.d.Registry().Len() != 1 {
		t.Fatalf("discovered link not admitted")
	}
}

func TestReplugEndpoints(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.server.base = ctx

	if code, _ := h.do(t, http.MethodGet, "/replug", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 before any watch, got %d", code)
	}
	code, body := h.do(t, http.MethodPost, "/replug", nil)
	if code != http.StatusAccepted || body["started"] != true {
		t.Fatalf("unexpected replug start: code=%d body=%v", code, body)
	}
	if code, _ := h.do(t, http.MethodPost, "/replug", nil); code != http.StatusOK {
		t.Fatalf("expected running watch to be reused, got %d", code)
	}
	if code, _ := h.do(t, http.MethodPost, "/replug/select", selectRequest{Name: "/dev/ttyUSB0"}); code != http.StatusConflict {
		t.Fatalf("expected 409 before manual fallback, got %d", code)
	}

	w := h.server.replug.Current()
	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("watch never fell back")
	}
	h.mu.Lock()
	h.names = []string{"/dev/ttyUSB0"}
	h.mu.Unlock()

	code, body = h.do(t, http.MethodGet, "/replug", nil)
	candidates, _ := body["candidates"].([]any)
	if code != http.StatusOK || body["state"] != "manual_fallback" || len(candidates) != 1 {
		t.Fatalf("unexpected replug status: code=%d body=%v", code, body)
	}
	code, body = h.do(t, http.MethodPost, "/replug/select", selectRequest{Name: "/dev/ttyUSB0"})
	if code != http.StatusOK || body["admitted"] != true || body["state"] != "resolved" {
		t.Fatalf("unexpected selection: code=%d body=%v", code, body)
	}
}

func TestCloseEndpoint(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "/dev/ttyUSB0", "/dev/ttyUSB1")
	code, body := h.do(t, http.MethodPost, "/close", nil)
	if code != http.StatusOK || body["links"] != float64(0) {
		t.Fatalf("unexpected close: code=%d body=%v", code, body)
	}
	for _, name := range []string{"/dev/ttyUSB0", "/dev/ttyUSB1"} {
		if h.port(name).IsOpen() {
			t.Fatalf("%s still open", name)
		}
	}
}

func TestMutatingRoutesRequireToken(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "/dev/ttyUSB0")
	disc := discovery.New(h.d, h.open, transport.EnumeratorFunc(h.list), discovery.DefaultRulesFor("linux"))
	h.server = New(Config{Token: "s3cret"}, h.d, disc, discovery.NewSupervisor(disc, discovery.DefaultWatchOptions()))

	if code, _ := h.do(t, http.MethodGet, "/links", nil); code != http.StatusOK {
		t.Fatalf("read routes stay open, got %d", code)
	}
	if code, _ := h.do(t, http.MethodPost, "/close", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if h.d.Registry().Len() != 1 {
		t.Fatalf("unauthorized close must not run")
	}

	req := httptest.NewRequest(http.MethodPost, "/close", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || h.d.Registry().Len() != 0 {
		t.Fatalf("authorized close failed: code=%d body=%s", rr.Code, rr.Body.String())
	}
}
