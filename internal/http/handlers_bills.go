package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bollette/internal/export"
	"bollette/internal/log"
)

func (s *Server) location() *time.Location {
	return s.backend.Statistics.Aggregator().Location()
}

func (s *Server) handleListBills(w http.ResponseWriter, r *http.Request) {
	filter, err := ParseBillFilter(r.URL.Query(), s.location())
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	bills, err := s.backend.Bills.ListBills(r.Context(), filter)
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}

	views := make([]billView, 0, len(bills))
	for _, b := range bills {
		views = append(views, newBillView(b))
	}
	NewResponse().JSON(map[string]any{
		"bills": views,
		"count": len(views),
	}).Write(w)
}

func (s *Server) handleCreateBill(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	var req billRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	b, err := req.toBill(s.location())
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	created, err := s.backend.Bills.CreateBill(r.Context(), b)
	if err != nil {
		s.fail(w, r, log.OpCreate, err)
		return
	}
	NewResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/bills/"+created.ID).
		JSON(newBillView(created)).
		Write(w)
}

func (s *Server) handleGetBill(w http.ResponseWriter, r *http.Request) {
	b, _, err := s.backend.Bills.GetBill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	NewResponse().JSON(newBillView(b)).Write(w)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	_, bal, err := s.backend.Bills.GetBill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	NewResponse().JSON(bal).Write(w)
}

// handleUpdateBill replaces a bill. The body may omit the ID; a differing
// ID is rejected rather than silently renaming the bill.
func (s *Server) handleUpdateBill(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	id := chi.URLParam(r, "id")

	var req billRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	b, err := req.toBill(s.location())
	if err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	if b.ID != "" && b.ID != id {
		s.fail(w, r, log.OpUpdate, malformed("body id %q does not match path id %q", b.ID, id))
		return
	}
	b.ID = id

	updated, err := s.backend.Bills.UpdateBill(r.Context(), b)
	if err != nil {
		s.fail(w, r, log.OpUpdate, err)
		return
	}
	NewResponse().JSON(newBillView(updated)).Write(w)
}

func (s *Server) handleDeleteBill(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Bills.DeleteBill(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, log.OpDelete, err)
		return
	}
	NewResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleAddPayment(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	var req paymentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, log.OpPay, err)
		return
	}
	p, err := req.toPayment(s.location())
	if err != nil {
		s.fail(w, r, log.OpPay, err)
		return
	}

	b, _, err := s.backend.Bills.AddPayment(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		s.fail(w, r, log.OpPay, err)
		return
	}
	NewResponse().Status(http.StatusCreated).JSON(newBillView(b)).Write(w)
}

func (s *Server) handleExportBill(w http.ResponseWriter, r *http.Request) {
	format, err := parseFormat(r.URL.Query())
	if err != nil {
		s.fail(w, r, log.OpExport, err)
		return
	}
	b, _, err := s.backend.Bills.GetBill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, log.OpExport, err)
		return
	}
	data, err := export.Bill(format, b)
	if err != nil {
		s.fail(w, r, log.OpExport, err)
		return
	}
	NewResponse().File(format.ContentType(), format.Filename("bill-"+safeFilename(b.ID)), data).Write(w)
}

// safeFilename keeps letters, digits, dashes and underscores.
func safeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
