package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"perkledger/benefit"
	"perkledger/catalog"
	"perkledger/ledger"
	"perkledger/models"
	"perkledger/observability/logging"
	"perkledger/tier"
)

type presentationRequest struct {
	Code       string    `json:"code"`
	LocationID uuid.UUID `json:"location_id"`
}

type tierView struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
	Name string    `json:"name"`
	Rank int       `json:"rank"`
}

type presentationResponse struct {
	CustomerID uuid.UUID `json:"customer_id"`
	Name       string    `json:"name"`
	Tier       *tierView `json:"tier,omitempty"`
	Counted    bool      `json:"counted"`
	Promoted   bool      `json:"promoted"`
}

// RecordPresentation resolves a terminal-presented code to a customer, runs
// the dedup-gated ledger insert, and re-evaluates the tier before answering
// so the response reflects any promotion this presentation caused.
func (s *Server) RecordPresentation(w http.ResponseWriter, r *http.Request) {
	var req presentationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" || req.LocationID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "code and location_id are required")
		return
	}

	if _, err := s.catalog.LocationByID(r.Context(), req.LocationID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "unknown location")
			return
		}
		s.internalError(w, r, "load location", err)
		return
	}

	customer, ok, err := s.resolveCustomerByCode(r.Context(), req.Code)
	if err != nil {
		s.internalError(w, r, "resolve code", err)
		return
	}
	if !ok {
		s.metrics.ObservePresentation("not_found")
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	locationID := req.LocationID
	entry, err := s.ledger.Record(r.Context(), ledger.RecordInput{
		CustomerID: customer.ID,
		LocationID: &locationID,
		Kind:       models.KindVisit,
	})
	if err != nil {
		s.internalError(w, r, "record presentation", err)
		return
	}

	result, err := s.eval.Evaluate(r.Context(), customer.ID)
	if err != nil {
		s.internalError(w, r, "evaluate tier", err)
		return
	}
	if result.Promoted {
		s.metrics.ObservePromotion(result.Tier.Code)
		s.logger.Info("tier promotion",
			"customer_id", customer.ID,
			"tier", result.Tier.Code,
			logging.MaskPhone("phone", customer.Phone))
	}

	outcome := "duplicate"
	if entry.Counted {
		outcome = "counted"
	}
	s.metrics.ObservePresentation(outcome)

	writeJSON(w, http.StatusOK, presentationResponse{
		CustomerID: customer.ID,
		Name:       customer.Name,
		Tier:       tierViewOf(result.Tier),
		Counted:    entry.Counted,
		Promoted:   result.Promoted,
	})
}

// resolveCustomerByCode scans every active customer holding a provisioned
// secret and returns the first whose secret validates the code. The code
// alone does not identify a customer, so this is a deliberate N-way scan;
// the population size is exported as a gauge to watch its scaling ceiling.
func (s *Server) resolveCustomerByCode(ctx context.Context, code string) (*models.Customer, bool, error) {
	customers, err := s.catalog.ActiveCustomersWithSecret(ctx)
	if err != nil {
		return nil, false, err
	}
	s.metrics.ObserveScanPopulation(len(customers))

	now := s.clock.Now()
	for i := range customers {
		if s.proofer.Validate(code, customers[i].OTPSecret, now) {
			return &customers[i], true, nil
		}
	}
	return nil, false, nil
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, tier.ErrCatalogIntegrity) || errors.Is(err, benefit.ErrCatalogIntegrity) {
		s.logger.Error("catalog integrity fault", "op", op, "error", err.Error())
	} else {
		s.logger.Error("request failed", "op", op, "path", r.URL.Path, "error", err.Error())
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func tierViewOf(t *models.Tier) *tierView {
	if t == nil {
		return nil
	}
	return &tierView{ID: t.ID, Code: t.Code, Name: t.Name, Rank: t.Rank}
}
