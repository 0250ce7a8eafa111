// Package monitor serves a JSON-RPC API over HTTP and websocket for
// inspecting a capture session: its signals, the compiled trigger stages
// and the acquisition state.
package monitor

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"logicsniffer/pkg/capture"
	"logicsniffer/pkg/log"
	"logicsniffer/pkg/metrics"
	"logicsniffer/pkg/sump"
	"logicsniffer/pkg/trigger"
)

var logger = log.GetLogger("monitor")

// Version is reported by server.info.
const Version = "0.1.0"

// Server is the monitor API server.
type Server struct {
	session *capture.Session
	metrics *metrics.SnifferMetrics

	httpMu     sync.Mutex
	httpServer *http.Server
	addr       string
	mux        *http.ServeMux

	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*WSClient
	wsClientMu sync.RWMutex
	nextWSID   int64

	forwardOnce sync.Once
	unsubscribe func()

	running   atomic.Bool
	startTime time.Time
}

// Config holds server configuration.
type Config struct {
	// HTTP address to listen on, e.g. ":7125"
	Addr string

	Session *capture.Session

	// Metrics is served on /metrics when set.
	Metrics *metrics.SnifferMetrics
}

// New creates a monitor server for a session.
func New(cfg Config) *Server {
	s := &Server{
		session:   cfg.Session,
		metrics:   cfg.Metrics,
		addr:      cfg.Addr,
		wsClients: make(map[int64]*WSClient),
		startTime: time.Now(),
	}
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	s.mux.HandleFunc("/websocket", s.handleWebSocket)
	s.mux.HandleFunc("/server/info", s.handleServerInfo)
	if cfg.Metrics != nil {
		s.mux.Handle("/metrics", metrics.NewServer(cfg.Metrics, cfg.Addr).MetricsHandler())
	}
	return s
}

// Handler returns the HTTP handler and starts forwarding session state
// changes to websocket clients.
func (s *Server) Handler() http.Handler {
	s.forwardOnce.Do(func() {
		events, unsubscribe := s.session.Subscribe()
		s.unsubscribe = unsubscribe
		go s.forwardEvents(events)
	})
	return s.corsMiddleware(s.mux)
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler()}
	s.httpMu.Lock()
	s.httpServer = srv
	s.httpMu.Unlock()
	s.running.Store(true)
	logger.Info("monitor listening on %s", ln.Addr())
	err := srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop closes every websocket client and the HTTP server.
func (s *Server) Stop() error {
	s.running.Store(false)
	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	s.wsClientMu.Lock()
	for _, client := range s.wsClients {
		client.Close()
	}
	s.wsClients = make(map[int64]*WSClient)
	s.wsClientMu.Unlock()

	s.httpMu.Lock()
	defer s.httpMu.Unlock()
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// JSON-RPC 2.0 structures

type jsonRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      any            `json:"id,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeServerError    = -32000
)

type rpcError struct {
	code int
	msg  string
}

func (e *rpcError) Error() string { return e.msg }

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, errorResponse(nil, codeParseError, "Parse error"))
		return
	}
	s.writeJSON(w, s.call(req))
}

func (s *Server) call(req jsonRPCRequest) jsonRPCResponse {
	result, err := s.dispatchMethod(req.Method, req.Params)
	if err != nil {
		code := codeServerError
		if re, ok := err.(*rpcError); ok {
			code = re.code
		}
		return errorResponse(req.ID, code, err.Error())
	}
	return jsonRPCResponse{JSONRPC: "2.0", Result: result, ID: req.ID}
}

func errorResponse(id any, code int, message string) jsonRPCResponse {
	return jsonRPCResponse{
		JSONRPC: "2.0",
		Error:   &jsonRPCError{Code: code, Message: message},
		ID:      id,
	}
}

func (s *Server) dispatchMethod(method string, params map[string]any) (any, error) {
	switch method {
	case "server.info":
		return s.methodServerInfo()
	case "sniffer.signals":
		return s.methodSignals()
	case "sniffer.compile":
		return s.methodCompile(params)
	case "sniffer.stages":
		return s.methodStages()
	case "sniffer.state":
		return s.session.State(), nil
	}
	return nil, &rpcError{code: codeMethodNotFound, msg: "method not found: " + method}
}

func (s *Server) methodServerInfo() (any, error) {
	hostname, _ := os.Hostname()
	s.wsClientMu.RLock()
	clients := len(s.wsClients)
	s.wsClientMu.RUnlock()
	setup := s.session.Setup()
	return map[string]any{
		"version":         Version,
		"hostname":        hostname,
		"websocket_count": clients,
		"uptime":          time.Since(s.startTime).Seconds(),
		"state":           s.session.State().State,
		"sample_rate":     setup.SampleRate,
		"capacity":        setup.Capacity(),
		"holdoff":         setup.TriggerIndex(),
	}, nil
}

type signalInfo struct {
	Name     string `json:"name"`
	Index    int    `json:"index"`
	Channels []int  `json:"channels"`
	Bits     int    `json:"bits"`
	Mask     uint32 `json:"mask"`
}

func (s *Server) methodSignals() (any, error) {
	reg := s.session.Registry()
	out := make([]signalInfo, 0, reg.Len())
	for _, sig := range reg.Signals() {
		out = append(out, signalInfo{
			Name:     sig.Name,
			Index:    sig.Index,
			Channels: sig.Channels,
			Bits:     sig.Bits(),
			Mask:     sig.Mask,
		})
	}
	return map[string]any{
		"signals":         out,
		"channels_in_use": reg.ChannelsInUse(),
		"groups":          reg.ActiveGroups(),
	}, nil
}

// stageRecords renders the wire records of every stage as hex strings.
func stageRecords(stages *sump.Stages) ([]string, error) {
	var out []string
	for slot, st := range stages {
		recs, err := sump.EncodeStage(slot, st)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", slot, err)
		}
		for _, r := range recs {
			out = append(out, hex.EncodeToString(r[:]))
		}
	}
	return out, nil
}

func compileReply(res *trigger.Result) (map[string]any, error) {
	records, err := stageRecords(&res.Stages)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":  res.Success,
		"used":     res.Used,
		"stages":   res.Stages,
		"records":  records,
		"problems": res.Messages(),
	}, nil
}

func (s *Server) methodCompile(params map[string]any) (any, error) {
	spec, ok := params["spec"].(string)
	if !ok {
		return nil, fmt.Errorf("missing 'spec' parameter")
	}
	res, err := s.session.Preview(spec)
	if err != nil {
		return nil, err
	}
	return compileReply(res)
}

func (s *Server) methodStages() (any, error) {
	res := s.session.Result()
	if res == nil {
		return map[string]any{"compiled": false}, nil
	}
	reply, err := compileReply(res)
	if err != nil {
		return nil, err
	}
	_, ready := s.session.Stages()
	reply["compiled"] = true
	reply["ready"] = ready
	return reply, nil
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	result, _ := s.methodServerInfo()
	s.writeJSON(w, map[string]any{"result": result})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("writing response: %v", err)
	}
}

// forwardEvents broadcasts session state changes until the subscription
// ends.
func (s *Server) forwardEvents(events <-chan capture.Event) {
	for ev := range events {
		s.broadcast(map[string]any{
			"jsonrpc": "2.0",
			"method":  "notify_capture_state",
			"params":  []any{ev},
		})
	}
}

func (s *Server) broadcast(msg any) {
	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	for _, client := range s.wsClients {
		client.Send(msg)
	}
}
