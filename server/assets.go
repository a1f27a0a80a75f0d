package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"perkledger/catalog"
	"perkledger/ledger"
	"perkledger/models"
)

type assetStateRequest struct {
	CustomerID  *uuid.UUID `json:"customer_id,omitempty"`
	Phone       string     `json:"phone,omitempty"`
	ExternalRef string     `json:"external_ref"`
	State       string     `json:"state"`
	ReportedAt  time.Time  `json:"reported_at"`
}

type assetStateResponse struct {
	Asset   *models.Asset `json:"asset"`
	EntryID uuid.UUID     `json:"entry_id"`
}

// SyncAssetState ingests one report from the external asset system. The
// report is applied to the asset record and journaled as an uncounted ledger
// entry so the audit trail shows when each state transition was learned.
// Reports may address the customer by id or by phone.
func (s *Server) SyncAssetState(w http.ResponseWriter, r *http.Request) {
	var req assetStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ExternalRef = strings.TrimSpace(req.ExternalRef)
	req.State = strings.TrimSpace(req.State)
	if req.ExternalRef == "" || req.State == "" {
		writeError(w, http.StatusBadRequest, "external_ref and state are required")
		return
	}
	if req.CustomerID == nil && req.Phone == "" {
		writeError(w, http.StatusBadRequest, "customer_id or phone is required")
		return
	}
	if req.ReportedAt.IsZero() {
		req.ReportedAt = s.clock.Now()
	}

	var (
		customer *models.Customer
		err      error
	)
	if req.CustomerID != nil {
		customer, err = s.catalog.CustomerByID(r.Context(), *req.CustomerID)
	} else {
		customer, err = s.catalog.CustomerByPhone(r.Context(), req.Phone)
	}
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.internalError(w, r, "resolve customer", err)
		return
	}

	asset, err := s.catalog.UpsertAssetState(r.Context(), customer.ID, req.ExternalRef, req.State, req.ReportedAt)
	if err != nil {
		s.internalError(w, r, "upsert asset state", err)
		return
	}

	snapshot, _ := json.Marshal(map[string]string{
		"external_ref": req.ExternalRef,
		"state":        asset.State,
	})
	entry, err := s.ledger.Record(r.Context(), ledger.RecordInput{
		CustomerID:    customer.ID,
		Kind:          models.KindExternalStateSync,
		StateSnapshot: string(snapshot),
	})
	if err != nil {
		s.internalError(w, r, "record sync entry", err)
		return
	}

	writeJSON(w, http.StatusOK, assetStateResponse{Asset: asset, EntryID: entry.ID})
}
