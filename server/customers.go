package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"perkledger/catalog"
	"perkledger/observability/logging"
	"perkledger/otp"
)

type createCustomerRequest struct {
	Phone string `json:"phone"`
	Name  string `json:"name"`
}

type createCustomerResponse struct {
	ID     uuid.UUID `json:"id"`
	Phone  string    `json:"phone"`
	Name   string    `json:"name"`
	State  string    `json:"state"`
	Secret string    `json:"secret"`
}

// CreateCustomer activates a member and provisions the shared code secret.
// The secret appears in this response and nowhere else; it is never
// serialized again and cannot be re-read through the API.
func (s *Server) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Phone = strings.TrimSpace(req.Phone)
	req.Name = strings.TrimSpace(req.Name)
	if req.Phone == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "phone and name are required")
		return
	}

	if _, err := s.catalog.CustomerByPhone(r.Context(), req.Phone); err == nil {
		writeError(w, http.StatusConflict, "phone already registered")
		return
	} else if !errors.Is(err, catalog.ErrNotFound) {
		s.internalError(w, r, "check phone", err)
		return
	}

	secret, err := otp.GenerateSecret()
	if err != nil {
		s.internalError(w, r, "generate secret", err)
		return
	}
	customer, err := s.catalog.CreateCustomer(r.Context(), req.Phone, req.Name, secret)
	if err != nil {
		s.internalError(w, r, "create customer", err)
		return
	}

	s.logger.Info("customer activated",
		"customer_id", customer.ID,
		logging.MaskPhone("phone", customer.Phone),
		logging.MaskSecret("secret"))

	writeJSON(w, http.StatusCreated, createCustomerResponse{
		ID:     customer.ID,
		Phone:  customer.Phone,
		Name:   customer.Name,
		State:  string(customer.State),
		Secret: secret,
	})
}

type currentCodeResponse struct {
	Code      string `json:"code"`
	ExpiresIn int    `json:"expires_in_seconds"`
}

// GetCurrentCode derives the customer's code for the current step. This is
// the admin-side rendering of what the customer's device would display; it
// exists for support tooling and carries the remaining step lifetime.
func (s *Server) GetCurrentCode(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid customer id")
		return
	}
	customer, err := s.catalog.CustomerByID(r.Context(), customerID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.internalError(w, r, "load customer", err)
		return
	}
	if customer.OTPSecret == "" {
		writeError(w, http.StatusConflict, "customer has no provisioned secret")
		return
	}

	now := s.clock.Now()
	code, err := s.proofer.Code(customer.OTPSecret, now)
	if err != nil {
		s.internalError(w, r, "derive code", err)
		return
	}
	step := int64(s.proofer.Step.Seconds())
	remaining := step - now.Unix()%step

	writeJSON(w, http.StatusOK, currentCodeResponse{
		Code:      code,
		ExpiresIn: int(remaining),
	})
}
