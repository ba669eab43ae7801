// Package api serves the capture bridge over HTTP and WebSocket for
// development and for hosts that prefer a local socket over the C ABI.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/ScreenBridge/internal/bridge"
	"github.com/bryanchriswhite/ScreenBridge/internal/capture"
	"github.com/bryanchriswhite/ScreenBridge/internal/config"
	"github.com/bryanchriswhite/ScreenBridge/internal/logger"
	"github.com/bryanchriswhite/ScreenBridge/internal/output"
	"github.com/bryanchriswhite/ScreenBridge/internal/window"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// CodeHeader carries the bridge code of a capture response
const CodeHeader = "X-Capture-Code"

// WindowLister enumerates windows for /api/windows
type WindowLister interface {
	ListWindows() ([]*window.Info, error)
}

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	bridge    *bridge.Bridge
	configMgr *config.Manager
	windows   WindowLister
	upgrader  websocket.Upgrader
	preview   *output.MJPEG

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a new API server. configMgr and windows may be nil.
func NewServer(b *bridge.Bridge, configMgr *config.Manager, windows WindowLister) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		bridge:    b,
		configMgr: configMgr,
		windows:   windows,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return allowedOrigin(r.Header.Get("Origin"))
			},
		},
	}

	previewCfg := output.Config{}
	if configMgr != nil {
		cfg := configMgr.Get()
		previewCfg = output.Config{FPS: cfg.Preview.FPS, Quality: cfg.Preview.Quality}
	}
	s.preview = output.NewMJPEG(s.previewFrame, previewCfg)

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/capability", s.handleCapability).Methods("GET")
	api.HandleFunc("/windows", s.handleWindows).Methods("GET")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")

	api.HandleFunc("/capture/fullscreen", s.handleCaptureFullscreen).Methods("GET")
	api.HandleFunc("/capture/region", s.handleCaptureRegion).Methods("GET")
	api.HandleFunc("/capture/window/{id}", s.handleCaptureWindow).Methods("GET")
	api.HandleFunc("/capture/stream", s.handleCaptureStream)
	api.HandleFunc("/preview", s.preview.Handler()).Methods("GET")
}

// Handler returns the routed handler with origin checks applied
func (s *Server) Handler() http.Handler {
	return s.localOnly(s.router)
}

// Start serves on the loopback interface until Shutdown
func (s *Server) Start(port int) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	logger.WithComponent("api").Info().Str("addr", "http://"+addr).Msg("Starting server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server started by Start. Preview streams are closed
// first since they never finish on their own.
func (s *Server) Shutdown(ctx context.Context) error {
	s.preview.Stop()

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// localOnly rejects requests not addressed to a loopback host (DNS
// rebinding) and cross-origin requests from anything but loopback pages.
func (s *Server) localOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowedHost(r.Host) {
			logger.WithComponent("api").Warn().Str("host", r.Host).Msg("Rejected request for non-loopback host")
			http.Error(w, "host not allowed", http.StatusForbidden)
			return
		}
		origin := r.Header.Get("Origin")
		if !allowedOrigin(origin) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Expose-Headers", CodeHeader)
		}
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func allowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return loopbackName(u.Hostname())
}

// allowedHost checks the Host header, with or without a port
func allowedHost(host string) bool {
	if host == "" {
		return false
	}
	return loopbackName((&url.URL{Host: host}).Hostname())
}

func loopbackName(name string) bool {
	switch strings.ToLower(name) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleCapability(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Report())
}

func (s *Server) handleWindows(w http.ResponseWriter, r *http.Request) {
	if s.windows == nil {
		http.Error(w, "window listing not supported by this backend", http.StatusNotImplemented)
		return
	}
	windows, err := s.windows.ListWindows()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, windows)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		http.Error(w, "no configuration loaded", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleCaptureFullscreen(w http.ResponseWriter, r *http.Request) {
	s.serveCapture(w, r, capture.Fullscreen())
}

func (s *Server) handleCaptureRegion(w http.ResponseWriter, r *http.Request) {
	req, err := parseRegion(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.serveCapture(w, r, req)
}

func (s *Server) handleCaptureWindow(w http.ResponseWriter, r *http.Request) {
	id, err := parseWindowID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.serveCapture(w, r, capture.Window(id))
}

func (s *Server) serveCapture(w http.ResponseWriter, r *http.Request, req capture.Request) {
	data, code := s.bridge.Encode(r.Context(), req)
	w.Header().Set(CodeHeader, strconv.Itoa(int(code)))
	if code != bridge.OK {
		writeJSON(w, StatusForCode(code), errorBody(code))
		return
	}
	w.Header().Set("Content-Type", s.bridge.Encoder().MIMEType())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// previewFrame feeds the MJPEG preview with fullscreen captures
func (s *Server) previewFrame(ctx context.Context) (*image.RGBA, error) {
	f, code := s.bridge.Frame(ctx, capture.Fullscreen())
	if code != bridge.OK {
		return nil, code.Err()
	}
	return f.ToRGBA()
}

// streamRequest is one capture request on the WebSocket stream
type streamRequest struct {
	Kind     string  `json:"kind"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	W        float64 `json:"w"`
	H        float64 `json:"h"`
	WindowID uint32  `json:"window_id"`
}

func (r streamRequest) toRequest() capture.Request {
	switch r.Kind {
	case "fullscreen":
		return capture.Fullscreen()
	case "region":
		return capture.Region(r.X, r.Y, r.W, r.H)
	case "window":
		return capture.Window(r.WindowID)
	default:
		return capture.Request{}
	}
}

// handleCaptureStream answers each JSON request with a binary image message
// or a JSON error message, in order.
func (s *Server) handleCaptureStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	for {
		var msg streamRequest
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}

		data, code := s.bridge.Encode(r.Context(), msg.toRequest())
		if code != bridge.OK {
			err = conn.WriteJSON(errorBody(code))
		} else {
			err = conn.WriteMessage(websocket.BinaryMessage, data)
		}
		if err != nil {
			log.Debug().Err(err).Msg("WebSocket write error")
			return
		}
	}
}

// StatusForCode maps a bridge code to an HTTP status
func StatusForCode(code bridge.Code) int {
	switch code {
	case bridge.OK:
		return http.StatusOK
	case bridge.NotAvailable:
		return http.StatusServiceUnavailable
	case bridge.PermissionDenied:
		return http.StatusForbidden
	case bridge.EncodingFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

type captureError struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

func errorBody(code bridge.Code) captureError {
	return captureError{Code: int(code), Error: code.String()}
}

func parseRegion(q url.Values) (capture.Request, error) {
	var v [4]float64
	for i, key := range []string{"x", "y", "w", "h"} {
		s := q.Get(key)
		if s == "" {
			return capture.Request{}, fmt.Errorf("missing query parameter %q", key)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return capture.Request{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		v[i] = f
	}
	return capture.Region(v[0], v[1], v[2], v[3]), nil
}

// parseWindowID accepts decimal or 0x-prefixed hex ids, as printed by xwininfo
func parseWindowID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid window id %q", s)
	}
	return uint32(id), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
