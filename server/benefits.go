package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"perkledger/benefit"
	"perkledger/catalog"
	"perkledger/ledger"
	"perkledger/models"
)

type benefitView struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	SingleUse bool      `json:"single_use"`
	MaxPerDay int       `json:"max_per_day"`
}

// GetEligibleBenefits returns the benefits the customer may redeem right
// now. The set is computed fresh on every call; callers may poll it safely.
func (s *Server) GetEligibleBenefits(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid customer id")
		return
	}

	eligible, err := s.resolver.Eligible(r.Context(), customerID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.internalError(w, r, "resolve benefits", err)
		return
	}

	views := make([]benefitView, 0, len(eligible))
	for _, b := range eligible {
		views = append(views, benefitView{
			ID: b.ID, Code: b.Code, Name: b.Name,
			SingleUse: b.SingleUse, MaxPerDay: b.MaxPerDay,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"benefits": views})
}

type redemptionRequest struct {
	BenefitID  uuid.UUID `json:"benefit_id"`
	LocationID uuid.UUID `json:"location_id"`
}

// RedeemBenefit re-checks eligibility inside the insert transaction rather
// than trusting any earlier snapshot; a benefit whose conditions changed
// since the terminal queried them is rejected and the caller must re-query.
func (s *Server) RedeemBenefit(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid customer id")
		return
	}
	var req redemptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BenefitID == uuid.Nil || req.LocationID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "benefit_id and location_id are required")
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

	var entry *models.LedgerEntry
	rejected := false
	err = s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		txResolver := benefit.NewResolver(s.catalog.WithTx(tx), s.ledger.WithTx(tx), s.clock)
		ok, err := txResolver.CheckRedeemable(r.Context(), customerID, req.BenefitID)
		if err != nil {
			return err
		}
		if !ok {
			rejected = true
			return nil
		}
		locationID := req.LocationID
		benefitID := req.BenefitID
		entry, err = s.ledger.WithTx(tx).Record(r.Context(), ledger.RecordInput{
			CustomerID: customerID,
			LocationID: &locationID,
			Kind:       models.KindBenefitRedeemed,
			BenefitID:  &benefitID,
		})
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			writeError(w, http.StatusNotFound, "not found")
		default:
			s.internalError(w, r, "redeem benefit", err)
		}
		return
	}
	if rejected {
		s.metrics.ObserveRedemption("rejected")
		writeJSON(w, http.StatusConflict, map[string]string{"status": "rejected"})
		return
	}

	// A counted redemption advances tier progress like a visit does.
	result, err := s.eval.Evaluate(r.Context(), customerID)
	if err != nil {
		s.internalError(w, r, "evaluate tier", err)
		return
	}
	if result.Promoted {
		s.metrics.ObservePromotion(result.Tier.Code)
	}

	s.metrics.ObserveRedemption("accepted")
	writeJSON(w, http.StatusCreated, map[string]any{
		"entry":   entry,
		"counted": entry.Counted,
	})
}
