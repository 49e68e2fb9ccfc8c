package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/dgnsrekt/feedrelay/internal/relay"
)

// Relay is the part of the relay the HTTP handlers read from.
type Relay interface {
	Status() relay.Status
	Snapshot() ([]string, bool)
}

type Server struct {
	relay   Relay
	encoder *zstd.Encoder
	logger  *zap.Logger
}

func NewServer(r Relay, logger *zap.Logger) (*Server, error) {
	// A nil writer is fine for EncodeAll-only use.
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	return &Server{
		relay:   r,
		encoder: encoder,
		logger:  logger,
	}, nil
}

// Close releases the zstd encoder.
func (s *Server) Close() error {
	return s.encoder.Close()
}

type errorResponse struct {
	Error string `json:"error"`
}

// HandleHealth serves GET /healthz.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relay.Status())
}

// HandleSnapshot serves GET /snapshot: the retained rows, one per line.
func (s *Server) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	rows, complete := s.relay.Snapshot()
	if !complete {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "snapshot not ready"})
		return
	}

	var sb strings.Builder
	for _, row := range rows {
		sb.WriteString(row)
		sb.WriteByte('\n')
	}
	body := []byte(sb.String())

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Snapshot-Rows", strconv.Itoa(len(rows)))
	w.Header().Add("Vary", "Accept-Encoding")
	if acceptsZstd(r) {
		body = s.encoder.EncodeAll(body, nil)
		w.Header().Set("Content-Encoding", "zstd")
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(body); err != nil {
		s.logger.Debug("snapshot write failed", zap.Error(err))
	}
}

// acceptsZstd reports whether the Accept-Encoding header lists zstd.
func acceptsZstd(r *http.Request) bool {
	for _, header := range r.Header.Values("Accept-Encoding") {
		for _, part := range strings.Split(header, ",") {
			coding, _, _ := strings.Cut(strings.TrimSpace(part), ";")
			if strings.EqualFold(coding, "zstd") {
				return true
			}
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
