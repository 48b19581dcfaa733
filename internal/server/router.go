package server

import "net/http"

// NewRouter wires HTTP routes to the server's handlers.
func NewRouter(s *Server) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/iso8583", s.handleMessage)
	mux.HandleFunc("/api/iso8583/batch", s.handleBatch)
	mux.HandleFunc("/api/iso8583/report", s.handleReport)
	mux.HandleFunc("/ws/iso8583", s.handleStream)
	mux.HandleFunc("/artifacts/", s.handleArtifactDownload)
	mux.HandleFunc("/catalog", s.handleCatalog)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return mux
}
