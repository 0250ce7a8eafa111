package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"logicsniffer/pkg/capture"
	"logicsniffer/pkg/device"
	"logicsniffer/pkg/emulator"
	"logicsniffer/pkg/metrics"
	"logicsniffer/pkg/signals"
)

func newTestServer(t *testing.T) (*Server, *capture.Session) {
	t.Helper()
	reg := signals.NewRegistry()
	if _, err := reg.Add("data", []int{0, 1, 2, 3, 4, 5, 6, 7}); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Add("clk", []int{8}); err != nil {
		t.Fatal(err)
	}
	m := metrics.NewSnifferMetrics()
	session := capture.New(capture.Config{
		Registry: reg,
		Setup:    device.NewSetup(reg, 100000000, 0),
		Metrics:  m,
	})
	s := New(Config{Addr: ":0", Session: session, Metrics: m})
	t.Cleanup(func() { s.Stop() })
	return s, session
}

func rpc(t *testing.T, h http.Handler, method string, params map[string]any) jsonRPCResponse {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jsonrpc", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("%s: status %d", method, rec.Code)
	}
	var resp jsonRPCResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("%s: decoding response: %v", method, err)
	}
	return resp
}

func TestServerInfo(t *testing.T) {
	s, _ := newTestServer(t)
	resp := rpc(t, s.Handler(), "server.info", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}
	result := resp.Result.(map[string]any)
	if result["version"] != Version {
		t.Errorf("version = %v", result["version"])
	}
	if result["state"] != "idle" {
		t.Errorf("state = %v, want idle", result["state"])
	}
	if result["capacity"] != float64(12288) {
		t.Errorf("capacity = %v, want 12288", result["capacity"])
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/server/info", nil))
	if !strings.Contains(rec.Body.String(), `"hostname"`) {
		t.Errorf("REST server info: %s", rec.Body.String())
	}
}

func TestSignals(t *testing.T) {
	s, _ := newTestServer(t)
	resp := rpc(t, s.Handler(), "sniffer.signals", nil)
	result := resp.Result.(map[string]any)
	sigs := result["signals"].([]any)
	if len(sigs) != 2 {
		t.Fatalf("got %d signals, want 2", len(sigs))
	}
	clk := sigs[1].(map[string]any)
	if clk["name"] != "clk" || clk["bits"] != float64(1) || clk["mask"] != float64(0x100) {
		t.Errorf("clk = %v", clk)
	}
	if result["groups"] != float64(2) {
		t.Errorf("groups = %v, want 2", result["groups"])
	}
}

func TestCompile(t *testing.T) {
	s, session := newTestServer(t)
	resp := rpc(t, s.Handler(), "sniffer.compile", map[string]any{"spec": "data=0x10 and clk=1"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error.Message)
	}
	result := resp.Result.(map[string]any)
	if result["success"] != true || result["used"] != float64(1) {
		t.Errorf("result = %v", result)
	}
	records := result["records"].([]any)
	if len(records) != 12 {
		t.Fatalf("got %d records, want 12", len(records))
	}
	// slot 3 mask record: opcode 0xCC, mask 0x1FF little endian
	if records[9] != "ccff010000" {
		t.Errorf("slot 3 mask record = %v", records[9])
	}
	if len(result["stages"].([]any)) != 4 {
		t.Errorf("stages = %v", result["stages"])
	}
	if session.Result() != nil {
		t.Error("compile over the API must not change the session")
	}
}

func TestCompileErrors(t *testing.T) {
	s, _ := newTestServer(t)
	resp := rpc(t, s.Handler(), "sniffer.compile", map[string]any{"spec": "bogus=1"})
	if resp.Error == nil || !strings.Contains(resp.Error.Message, "TRIGGER_PARSE") {
		t.Errorf("expected a parse error, got %+v", resp)
	}

	resp = rpc(t, s.Handler(), "sniffer.compile", nil)
	if resp.Error == nil || resp.Error.Code != codeServerError {
		t.Errorf("expected missing parameter error, got %+v", resp)
	}

	resp = rpc(t, s.Handler(), "sniffer.compile", map[string]any{"spec": "data=1 after 1s"})
	result := resp.Result.(map[string]any)
	if result["success"] != false || len(result["problems"].([]any)) == 0 {
		t.Errorf("expected failed pass with problems, got %v", result)
	}

	resp = rpc(t, s.Handler(), "sniffer.nothing", nil)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Errorf("expected method not found, got %+v", resp)
	}
}

func TestStages(t *testing.T) {
	s, session := newTestServer(t)
	resp := rpc(t, s.Handler(), "sniffer.stages", nil)
	if resp.Result.(map[string]any)["compiled"] != false {
		t.Errorf("fresh session should not be compiled: %v", resp.Result)
	}

	if _, err := session.Compile("clk=1"); err != nil {
		t.Fatal(err)
	}
	resp = rpc(t, s.Handler(), "sniffer.stages", nil)
	result := resp.Result.(map[string]any)
	if result["compiled"] != true || result["ready"] != true {
		t.Errorf("result = %v", result)
	}
}

func TestStagesDuringCapture(t *testing.T) {
	s, session := newTestServer(t)
	if _, err := session.Compile("clk=1"); err != nil {
		t.Fatal(err)
	}

	host, dev := net.Pipe()
	em := emulator.New(emulator.Repeat(0))
	em.SetMaxSamples(1000)
	stop := make(chan struct{})
	go em.Serve(dev, stop)
	defer func() {
		close(stop)
		host.Close()
		dev.Close()
	}()

	events, unsubscribe := session.Subscribe()
	defer unsubscribe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		session.Capture(ctx, host)
	}()
	defer func() {
		cancel()
		<-done
	}()

	timeout := time.After(5 * time.Second)
	for armed := false; !armed; {
		select {
		case ev := <-events:
			armed = ev.State == capture.StateArmed
		case <-timeout:
			t.Fatal("capture never armed")
		}
	}

	answered := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		body := strings.NewReader(`{"jsonrpc":"2.0","method":"sniffer.stages","id":1}`)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jsonrpc", body))
		answered <- rec
	}()
	select {
	case rec := <-answered:
		var resp jsonRPCResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Result.(map[string]any)["ready"] != true {
			t.Errorf("result = %v", resp.Result)
		}
	case <-time.After(time.Second):
		t.Fatalf("sniffer.stages did not answer while the capture was armed (state %s)", session.State().State)
	}
}

func TestJSONRPCRejectsBadInput(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jsonrpc", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/jsonrpc", strings.NewReader("{")))
	var resp jsonRPCResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Errorf("expected parse error, got %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, session := newTestServer(t)
	session.Compile("clk=1")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "sniffer_trigger_compile_passes_total 1") {
		t.Errorf("metrics output:\n%s", body)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading websocket message: %v", err)
	}
	return msg
}

func TestWebSocket(t *testing.T) {
	s, session := newTestServer(t)
	server := httptest.NewServer(s.Handler())
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+server.URL[4:]+"/websocket", nil)
	if err != nil {
		t.Fatalf("failed to connect websocket: %v", err)
	}
	defer conn.Close()

	hello := readMessage(t, conn)
	if hello["method"] != "notify_capture_state" {
		t.Fatalf("first message = %v", hello)
	}

	if err := conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": "sniffer.signals", "id": 7}); err != nil {
		t.Fatal(err)
	}
	resp := readMessage(t, conn)
	if resp["id"] != float64(7) || resp["result"] == nil {
		t.Fatalf("response = %v", resp)
	}

	if _, err := session.Compile("clk=1"); err != nil {
		t.Fatal(err)
	}
	var states []any
	for len(states) < 2 {
		msg := readMessage(t, conn)
		if msg["method"] != "notify_capture_state" {
			continue
		}
		ev := msg["params"].([]any)[0].(map[string]any)
		states = append(states, ev["state"])
	}
	if states[0] != "compiling" || states[1] != "idle" {
		t.Errorf("states = %v, want [compiling idle]", states)
	}
}
