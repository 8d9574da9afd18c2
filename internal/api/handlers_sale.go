package api

import (
	"net/http"
	"strconv"

	"github.com/cfd-ledger/internal/errors"
	"github.com/cfd-ledger/internal/models"
	"github.com/cfd-ledger/internal/service"
	"github.com/cfd-ledger/internal/types"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// PurchaseRequest is the body of POST /api/ico/purchases
type PurchaseRequest struct {
	HolderAddress   string          `json:"holderAddress"`
	PhaseOrdinal    int             `json:"phaseOrdinal"`
	AmountPaid      decimal.Decimal `json:"amountPaid"`
	ExternalTxRef   string          `json:"externalTxRef"`
	ReferrerAddress string          `json:"referrerAddress,omitempty"`
}

// handleSaleStatus handles GET /api/ico/status
func (s *Server) handleSaleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.services.Status.Status(r.Context(), s.now())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// handleRecordPurchase handles POST /api/ico/purchases.
// A new purchase answers 201; a replayed external tx reference answers 200 with the original record.
func (s *Server) handleRecordPurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := parseJSONBody(r, &req); err != nil {
		invalidBody(w, r, err)
		return
	}

	result, err := s.services.Purchases.ApplyPurchase(r.Context(), service.PurchaseEvent{
		HolderAddress:   req.HolderAddress,
		PhaseOrdinal:    req.PhaseOrdinal,
		AmountPaid:      req.AmountPaid,
		ExternalTxRef:   req.ExternalTxRef,
		ReferrerAddress: req.ReferrerAddress,
		ObservedAt:      s.now(),
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	statusCode := http.StatusCreated
	if result.Replayed {
		statusCode = http.StatusOK
	}
	respondJSON(w, statusCode, result)
}

// PurchaseHistoryResponse lists a holder's purchases
type PurchaseHistoryResponse struct {
	HolderAddress string                   `json:"holderAddress"`
	Purchases     []*models.PurchaseRecord `json:"purchases"`
}

// handlePhase handles GET /api/ico/phases/{ordinal}
func (s *Server) handlePhase(w http.ResponseWriter, r *http.Request) {
	ordinal, err := strconv.Atoi(mux.Vars(r)["ordinal"])
	if err != nil {
		respondServiceError(w, r, errors.NewValidationError("ordinal", "must be an integer"))
		return
	}

	phase, err := s.services.Status.Phase(r.Context(), ordinal)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, phase.StatusAt(s.now()))
}

// handlePurchaseHistory handles GET /api/ico/purchases/{address}
func (s *Server) handlePurchaseHistory(w http.ResponseWriter, r *http.Request) {
	purchases, err := s.services.Purchases.Purchases(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if purchases == nil {
		purchases = []*models.PurchaseRecord{}
	}

	// The service already rejected malformed addresses
	holder, _ := types.NormalizeAddress(mux.Vars(r)["address"])
	respondJSON(w, http.StatusOK, PurchaseHistoryResponse{HolderAddress: holder, Purchases: purchases})
}
