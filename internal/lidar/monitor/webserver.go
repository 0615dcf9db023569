package monitor

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/ringfilter/internal/lidar/bus"
	"github.com/banshee-data/ringfilter/internal/lidar/pipeline"
	"github.com/banshee-data/ringfilter/internal/lidar/ringfilter"
	"github.com/banshee-data/ringfilter/internal/monitoring"
	"github.com/banshee-data/ringfilter/internal/timeutil"
	"github.com/banshee-data/ringfilter/internal/version"
)

//go:embed status.html
var statusHTML embed.FS

var statusTemplate = template.Must(template.ParseFS(statusHTML, "status.html"))

// maxConfigBody caps PUT /api/ring_filter/config request bodies.
const maxConfigBody = 1 << 20

// ConfigController reads and replaces the filter configuration.
// *pipeline.Controller implements it.
type ConfigController interface {
	Current() ringfilter.FilterConfig
	Version() uint64
	Submit(cfg ringfilter.FilterConfig, source string) error
}

// MetricsHistory serves persisted metrics. *lidardb.DB implements it.
type MetricsHistory interface {
	RecentScanMetrics(ctx context.Context, limit int) ([]ringfilter.ScanMetrics, error)
	RecentConfigChanges(ctx context.Context, limit int) ([]pipeline.ConfigChange, error)
}

// WebServer handles the HTTP interface for monitoring and tuning the filter.
type WebServer struct {
	address           string
	sensorID          string
	udpPort           int
	forwardingEnabled bool
	forwardAddr       string
	forwardPort       int

	packetStats *PacketStats
	scanStats   *ScanStats
	controller  ConfigController
	history     MetricsHistory
	topicStats  func() map[string]bus.Stats
	nodeStats   func() pipeline.NodeStats
	clock       timeutil.Clock

	mux    *http.ServeMux
	server *http.Server
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address           string
	SensorID          string
	UDPPort           int
	ForwardingEnabled bool
	ForwardAddr       string
	ForwardPort       int

	PacketStats *PacketStats
	ScanStats   *ScanStats
	Controller  ConfigController
	History     MetricsHistory // optional
	TopicStats  func() map[string]bus.Stats
	NodeStats   func() pipeline.NodeStats
	Clock       timeutil.Clock

	// Routes attaches extra handlers (e.g. database admin pages).
	Routes []func(*http.ServeMux)
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	clock := config.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	scanStats := config.ScanStats
	if scanStats == nil {
		scanStats = NewScanStats(0)
	}
	packetStats := config.PacketStats
	if packetStats == nil {
		packetStats = NewPacketStats(clock)
	}
	ws := &WebServer{
		address:           config.Address,
		sensorID:          config.SensorID,
		udpPort:           config.UDPPort,
		forwardingEnabled: config.ForwardingEnabled,
		forwardAddr:       config.ForwardAddr,
		forwardPort:       config.ForwardPort,
		packetStats:       packetStats,
		scanStats:         scanStats,
		controller:        config.Controller,
		history:           config.History,
		topicStats:        config.TopicStats,
		nodeStats:         config.NodeStats,
		clock:             clock,
	}
	ws.mux = ws.setupRoutes()
	for _, attach := range config.Routes {
		attach(ws.mux)
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ws
}

// Handler returns the server's route multiplexer.
func (ws *WebServer) Handler() http.Handler { return ws.mux }

func (ws *WebServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Diagf("monitor: encode response: %v", err)
	}
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	ws.writeJSON(w, status, map[string]string{"error": msg})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", ws.address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", ws.address, err)
	}
	return ws.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (ws *WebServer) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting HTTP server on %s", ln.Addr())
		if err := ws.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	monitoring.Logf("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Opsf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Opsf("HTTP server force close error: %v", err)
		}
	}
	monitoring.Logf("HTTP server routine stopped")
	return nil
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/ring_filter/config", ws.handleConfig)
	mux.HandleFunc("/api/ring_filter/config/history", ws.handleConfigHistory)
	mux.HandleFunc("/api/ring_filter/metrics/latest", ws.handleMetricsLatest)
	mux.HandleFunc("/api/ring_filter/metrics/history", ws.handleMetricsHistory)
	mux.HandleFunc("/api/ring_filter/stats", ws.handleStats)
	mux.HandleFunc("/debug/ring_filter/chart", ws.handleMetricsChart)
	mux.HandleFunc("/debug/ring_filter/plot.png", ws.handleReductionPlot)

	return mux
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   ringfilter.FilterName,
		"version":   version.Version,
		"git_sha":   version.GitSHA,
		"timestamp": ws.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	forwardingStatus := "disabled"
	if ws.forwardingEnabled {
		forwardingStatus = fmt.Sprintf("enabled (%s:%d)", ws.forwardAddr, ws.forwardPort)
	}
	var cfg ringfilter.FilterConfig
	var cfgVersion uint64
	if ws.controller != nil {
		cfg = ws.controller.Current()
		cfgVersion = ws.controller.Version()
	}
	var summary *Summary
	if s := ws.scanStats.Summary(); s.Scans > 0 {
		summary = &s
	}

	data := struct {
		SensorID         string
		Version          string
		GitSHA           string
		Uptime           string
		UDPPort          int
		HTTPAddress      string
		ForwardingStatus string
		Config           ringfilter.FilterConfig
		ConfigVersion    uint64
		Stats            *StatsSnapshot
		Summary          *Summary
	}{
		SensorID:         ws.sensorID,
		Version:          version.Version,
		GitSHA:           version.GitSHA,
		Uptime:           ws.packetStats.GetUptime().Round(time.Second).String(),
		UDPPort:          ws.udpPort,
		HTTPAddress:      ws.address,
		ForwardingStatus: forwardingStatus,
		Config:           cfg,
		ConfigVersion:    cfgVersion,
		Stats:            ws.packetStats.GetLatestSnapshot(),
		Summary:          summary,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
	}
}

// configRequest requires both fields; a partial update is rejected.
type configRequest struct {
	RingDivisor   *int     `json:"ring_div"`
	VoxelLeafSize *float64 `json:"voxel_leaf_size"`
}

type configResponse struct {
	Config  ringfilter.FilterConfig `json:"config"`
	Version uint64                  `json:"version"`
	Pending bool                    `json:"pending,omitempty"`
}

// handleConfig serves GET (current config) and PUT (full replacement).
// A PUT is queued on config/ring_filter and answered with 202 Accepted.
func (ws *WebServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if ws.controller == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "config control not available")
		return
	}

	switch r.Method {
	case http.MethodGet:
		ws.writeJSON(w, http.StatusOK, configResponse{
			Config:  ws.controller.Current(),
			Version: ws.controller.Version(),
		})
	case http.MethodPut, http.MethodPost:
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfigBody))
		dec.DisallowUnknownFields()
		var req configRequest
		if err := dec.Decode(&req); err != nil {
			ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid config JSON: %v", err))
			return
		}
		if req.RingDivisor == nil || req.VoxelLeafSize == nil {
			ws.writeJSONError(w, http.StatusBadRequest, "both 'ring_div' and 'voxel_leaf_size' are required")
			return
		}
		cfg := ringfilter.FilterConfig{RingDivisor: *req.RingDivisor, VoxelLeafSize: *req.VoxelLeafSize}
		if err := ws.controller.Submit(cfg, "http"); err != nil {
			ws.writeJSONError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		requested, _ := cfg.Sanitize()
		ws.writeJSON(w, http.StatusAccepted, configResponse{
			Config:  requested,
			Version: ws.controller.Version(),
			Pending: true,
		})
	default:
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (ws *WebServer) handleMetricsLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	m, ok := ws.scanStats.Latest()
	if !ok {
		ws.writeJSONError(w, http.StatusNotFound, "no scans processed yet")
		return
	}
	ws.writeJSON(w, http.StatusOK, m)
}

// parseLimit reads ?limit=, defaulting to def and clamped to [1, max].
func parseLimit(r *http.Request, def, max int) int {
	limit := def
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > max {
		limit = max
	}
	return limit
}

// handleMetricsHistory returns recent metrics, oldest first.
// Query params:
//
//	limit (optional, default 100)
//	source (optional) "memory" (default) or "db"
func (ws *WebServer) handleMetricsHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	limit := parseLimit(r, 100, 10000)

	switch src := r.URL.Query().Get("source"); src {
	case "", "memory":
		ws.writeJSON(w, http.StatusOK, ws.scanStats.History(limit))
	case "db":
		if ws.history == nil {
			ws.writeJSONError(w, http.StatusServiceUnavailable, "no database configured")
			return
		}
		rows, err := ws.history.RecentScanMetrics(r.Context(), limit)
		if err != nil {
			ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("query metrics: %v", err))
			return
		}
		ws.writeJSON(w, http.StatusOK, rows)
	default:
		ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown source %q", src))
	}
}

func (ws *WebServer) handleConfigHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.history == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	changes, err := ws.history.RecentConfigChanges(r.Context(), parseLimit(r, 50, 1000))
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("query config history: %v", err))
		return
	}
	ws.writeJSON(w, http.StatusOK, changes)
}

type statsResponse struct {
	SensorID string               `json:"sensor_id"`
	Uptime   string               `json:"uptime"`
	Ingress  *StatsSnapshot       `json:"ingress,omitempty"`
	Filter   Summary              `json:"filter"`
	Node     *pipeline.NodeStats  `json:"node,omitempty"`
	Topics   map[string]bus.Stats `json:"topics,omitempty"`
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	resp := statsResponse{
		SensorID: ws.sensorID,
		Uptime:   ws.packetStats.GetUptime().Round(time.Second).String(),
		Ingress:  ws.packetStats.GetLatestSnapshot(),
		Filter:   ws.scanStats.Summary(),
	}
	if ws.nodeStats != nil {
		ns := ws.nodeStats()
		resp.Node = &ns
	}
	if ws.topicStats != nil {
		resp.Topics = ws.topicStats()
	}
	ws.writeJSON(w, http.StatusOK, resp)
}

// Close shuts down the web server immediately.
func (ws *WebServer) Close() error {
	return ws.server.Close()
}
