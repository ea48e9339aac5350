package http

import (
	"net/http"

	"bollette/internal/export"
	"bollette/internal/log"
)

// handleStatistics serves year, month or custom-range statistics; see
// ParseWindow for the accepted parameters.
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	win, err := ParseWindow(r.URL.Query(), s.location(), s.now())
	if err != nil {
		s.fail(w, r, log.OpAggregate, err)
		return
	}
	data, err := s.backend.Statistics.Statistics(r.Context(), win)
	if err != nil {
		s.fail(w, r, log.OpAggregate, err)
		return
	}
	NewResponse().JSON(newStatisticsView(win, data)).Write(w)
}

func (s *Server) handleExportStatistics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := parseFormat(q)
	if err != nil {
		s.fail(w, r, log.OpExport, err)
		return
	}
	q.Del("format")
	win, err := ParseWindow(q, s.location(), s.now())
	if err != nil {
		s.fail(w, r, log.OpExport, err)
		return
	}
	data, err := s.backend.Statistics.Statistics(r.Context(), win)
	if err != nil {
		s.fail(w, r, log.OpExport, err)
		return
	}
	out, err := export.Statistics(format, win, data)
	if err != nil {
		s.fail(w, r, log.OpExport, err)
		return
	}
	NewResponse().File(format.ContentType(), format.Filename("statistics-"+safeFilename(win.String())), out).Write(w)
}
