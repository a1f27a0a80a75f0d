package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"perkledger/catalog"
	"perkledger/tier"
)

type revocationRequest struct {
	Count int `json:"count"`
}

type revocationResponse struct {
	Revoked int `json:"revoked"`
}

// RevokeEntries is the cancellation-penalty hook: it flips the most recent
// counted entries back to uncounted, immediately removing their rolling-window
// credit. The count defaults to the configured penalty size; revoking fewer
// entries than requested (a thin ledger) is not an error.
func (s *Server) RevokeEntries(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid customer id")
		return
	}
	// An empty body means "use the configured penalty size".
	var req revocationRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Count <= 0 {
		req.Count = s.revokeCount
	}

	if _, err := s.catalog.CustomerByID(r.Context(), customerID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.internalError(w, r, "load customer", err)
		return
	}

	revoked, err := s.ledger.RevokeMostRecentCounted(r.Context(), customerID, req.Count)
	if err != nil {
		s.internalError(w, r, "revoke entries", err)
		return
	}
	s.metrics.ObserveRevocations(revoked)
	s.logger.Info("entries revoked", "customer_id", customerID, "requested", req.Count, "revoked", revoked)

	writeJSON(w, http.StatusOK, revocationResponse{Revoked: revoked})
}

type decayResponse struct {
	Applied bool      `json:"applied"`
	Tier    *tierView `json:"tier,omitempty"`
}

// DecayTier is the inactivity hook invoked by the external periodic job. It
// lowers the customer one rank when no counted activity falls inside the idle
// threshold; recently active customers are reported back unchanged.
func (s *Server) DecayTier(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid customer id")
		return
	}

	result, applied, err := tier.Decay(r.Context(), s.catalog, s.ledger, customerID, s.decayIdle, s.clock.Now())
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.internalError(w, r, "decay tier", err)
		return
	}
	if applied {
		s.metrics.ObserveDecay()
		code := "none"
		if result != nil {
			code = result.Code
		}
		s.logger.Info("tier decayed", "customer_id", customerID, "tier", code)
	}

	writeJSON(w, http.StatusOK, decayResponse{Applied: applied, Tier: tierViewOf(result)})
}
