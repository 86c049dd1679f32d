package adminapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"swarmgate/internal/banstore"
	"swarmgate/internal/domain"

	"github.com/charmbracelet/log"
)

// parseIPv4 converts dotted-quad input to the canonical unsigned 32-bit
// form; the store below this boundary only ever sees integers.
func parseIPv4(raw string) (uint32, bool) {
	ip := net.ParseIP(raw)
	if ip == nil {
		return 0, false
	}
	return domain.IPToUint32(ip)
}

func toInfo(r domain.BanRange) BanRangeInfo {
	return BanRangeInfo{
		ID:      r.ID,
		From:    domain.Uint32ToIP(r.FromIP).String(),
		To:      domain.Uint32ToIP(r.ToIP).String(),
		Reason:  r.Reason,
		Created: r.CreatedAt,
	}
}

const (
	defaultListLimit = 50
	// Caps the page size a caller can request so a single list call
	// cannot materialize the whole table.
	maxListLimit = 500
)

func (s *Server) listBanRanges(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil || page < 1 {
		writeError(w, "Invalid page", http.StatusBadRequest)
		return
	}

	limit := defaultListLimit
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		if parsed, parseErr := strconv.Atoi(rawLimit); parseErr == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	ranges, info, err := s.store.List(r.Context(), page, limit)
	if err != nil {
		log.Error("Could not list ban ranges", "error", err)
		writeError(w, "Could not list ban ranges", http.StatusInternalServerError)
		return
	}

	resp := BanRangePage{
		Ranges: make([]BanRangeInfo, 0, len(ranges)),
		Page:   info.Page,
		Limit:  info.Limit,
		Total:  info.Total,
		Pages:  info.Pages,
	}
	for _, br := range ranges {
		resp.Ranges = append(resp.Ranges, toInfo(br))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) createBanRange(w http.ResponseWriter, r *http.Request) {
	var req BanRangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	br, ok := rangeFromRequest(req)
	if !ok {
		writeError(w, "Invalid IPv4 address", http.StatusBadRequest)
		return
	}

	created, err := s.store.Create(r.Context(), br)
	if err != nil {
		var validation *banstore.ValidationError
		if errors.As(err, &validation) {
			writeError(w, validation.Error(), http.StatusBadRequest)
			return
		}
		log.Error("Could not create ban range", "error", err)
		writeError(w, "Could not create ban range", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, toInfo(created))
}

func (s *Server) bulkCreateBanRanges(w http.ResponseWriter, r *http.Request) {
	var req BulkCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Ranges) == 0 {
		writeError(w, "Empty batch", http.StatusBadRequest)
		return
	}

	ranges := make([]domain.BanRange, 0, len(req.Ranges))
	for _, entry := range req.Ranges {
		br, ok := rangeFromRequest(entry)
		if !ok {
			writeError(w, "Invalid IPv4 address in batch", http.StatusBadRequest)
			return
		}
		ranges = append(ranges, br)
	}

	inserted, err := s.store.BulkCreate(r.Context(), ranges)
	if err != nil {
		var validation *banstore.ValidationError
		if errors.As(err, &validation) {
			writeError(w, validation.Error(), http.StatusBadRequest)
			return
		}
		log.Error("Could not bulk create ban ranges", "error", err)
		writeError(w, "Could not bulk create ban ranges", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, BulkCreateResponse{
		Inserted: inserted,
		Skipped:  int64(len(ranges)) - inserted,
	})
}

func (s *Server) updateBanRange(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, "Invalid id", http.StatusBadRequest)
		return
	}

	var req BanRangePatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var patch banstore.Patch
	if req.From != nil {
		from, ok := parseIPv4(*req.From)
		if !ok {
			writeError(w, "Invalid IPv4 address", http.StatusBadRequest)
			return
		}
		patch.FromIP = &from
	}
	if req.To != nil {
		to, ok := parseIPv4(*req.To)
		if !ok {
			writeError(w, "Invalid IPv4 address", http.StatusBadRequest)
			return
		}
		patch.ToIP = &to
	}
	patch.Reason = req.Reason

	updated, err := s.store.Update(r.Context(), id, patch)
	if err != nil {
		writeStoreError(w, err, "Could not update ban range")
		return
	}
	writeJSON(w, http.StatusOK, toInfo(updated))
}

func (s *Server) deleteBanRange(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, "Invalid id", http.StatusBadRequest)
		return
	}

	deleted, err := s.store.Delete(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "Could not delete ban range")
		return
	}
	writeJSON(w, http.StatusOK, toInfo(deleted))
}

func rangeFromRequest(req BanRangeRequest) (domain.BanRange, bool) {
	from, okFrom := parseIPv4(req.From)
	to, okTo := parseIPv4(req.To)
	if !okFrom || !okTo {
		return domain.BanRange{}, false
	}
	return domain.BanRange{FromIP: from, ToIP: to, Reason: req.Reason}, true
}

func writeStoreError(w http.ResponseWriter, err error, fallback string) {
	var validation *banstore.ValidationError
	switch {
	case errors.Is(err, banstore.ErrNotFound):
		writeError(w, "Ban range not found", http.StatusNotFound)
	case errors.As(err, &validation):
		writeError(w, validation.Error(), http.StatusBadRequest)
	default:
		log.Error(fallback, "error", err)
		writeError(w, fallback, http.StatusInternalServerError)
	}
}
