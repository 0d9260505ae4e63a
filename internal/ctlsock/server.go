// Package ctlsock exposes the host control surface of spec §4.11: an
// HTTP API served over a local Unix socket (or Windows named pipe),
// grounded on the teacher's own control_server.go — an http.ServeMux
// wired onto a net.Listener, JSON in and out.
package ctlsock

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/op/go-logging"
)

// DeviceSummary is the JSON shape returned by GET /devices and
// GET /devices/{addr}.
type DeviceSummary struct {
	Addr      string  `json:"addr"`
	Name      string  `json:"name"`
	Connected bool    `json:"connected"`
	Authed    bool    `json:"authed"`
	RxRate    float64 `json:"rx_bytes_per_sec"`
	TxRate    float64 `json:"tx_bytes_per_sec"`
}

// InstallRequest is the JSON body of POST /devices/{addr}/install.
type InstallRequest struct {
	DataType string `json:"data_type"` // "watchface" | "thirdparty_app" | "firmware"
	Path     string `json:"path"`
}

// Backend is whatever owns device state; the server never reaches into the
// registry/device packages directly so it stays free of an import cycle.
type Backend interface {
	ListDevices() []DeviceSummary
	GetDevice(addr string) (DeviceSummary, bool)
	Install(addr string, req InstallRequest) error
}

// Server serves the control API.
type Server struct {
	backend Backend
	log     *logging.Logger
	mux     *http.ServeMux
}

func New(backend Backend, log *logging.Logger) *Server {
	s := &Server{backend: backend, log: log, mux: http.NewServeMux()}
	s.mux.HandleFunc("/devices", s.handleDevices)
	s.mux.HandleFunc("/devices/", s.handleDevicePath)
	return s
}

// Serve blocks running the HTTP server over listener.
func (s *Server) Serve(listener net.Listener) error {
	return http.Serve(listener, s.mux)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.backend.ListDevices())
}

// handleDevicePath dispatches /devices/{addr} and /devices/{addr}/install.
func (s *Server) handleDevicePath(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path[len("/devices/"):]
	addr := path
	action := ""
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			addr = path[:i]
			action = path[i+1:]
			break
		}
	}
	if addr == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch action {
	case "":
		s.handleGetDevice(w, r, addr)
	case "install":
		s.handleInstall(w, r, addr)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request, addr string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	dev, ok := s.backend.GetDevice(addr)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request, addr string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req InstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.backend.Install(addr, req); err != nil {
		if s.log != nil {
			s.log.Warning("ctlsock: install failed:", err)
		}
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
