package http

import (
	"bytes"
	"net/http"
	"time"

	"bollette/internal/backup"
	"bollette/internal/log"
	"bollette/internal/observability/metrics"
)

// handleBackup streams a snapshot of the whole ledger. The snapshot is
// buffered so a failure still produces a proper error status.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var buf bytes.Buffer
	snap, err := backup.Export(r.Context(), s.backend.Bills, &buf)
	metrics.ObserveExport("backup", "json", err, time.Since(start))
	if err != nil {
		s.fail(w, r, log.OpExport, err)
		return
	}
	name := "bollette-" + snap.CreatedAt.Format("20060102-150405") + ".json"
	NewResponse().File(contentTypeJSON, name, buf.Bytes()).Write(w)
}

// handleRestore replaces the ledger with the uploaded snapshot. An invalid
// snapshot leaves the ledger untouched.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	snap, err := backup.Restore(r.Context(), s.backend.Bills, r.Body)
	if err != nil {
		s.fail(w, r, log.OpRestore, err)
		return
	}
	NewResponse().JSON(map[string]any{
		"restored":       len(snap.Bills),
		"schema_version": snap.SchemaVersion,
		"created_at":     snap.CreatedAt,
	}).Write(w)
}
