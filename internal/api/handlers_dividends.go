package api

import (
	"net/http"

	"github.com/cfd-ledger/internal/errors"
	"github.com/cfd-ledger/internal/models"
	"github.com/cfd-ledger/internal/ratelimit"
	"github.com/cfd-ledger/internal/types"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// ClaimRequest is the body of POST /api/dividends/claim
type ClaimRequest struct {
	HolderAddress string `json:"holderAddress"`
}

// ClaimResponse reports a recorded claim
type ClaimResponse struct {
	HolderAddress string          `json:"holderAddress"`
	Cycle         string          `json:"cycle"`
	AmountClaimed decimal.Decimal `json:"amountClaimed"`
}

// ClaimHistoryResponse lists a holder's claims
type ClaimHistoryResponse struct {
	HolderAddress string                  `json:"holderAddress"`
	Claims        []*models.DividendClaim `json:"claims"`
}

// DistributionRequest is the body of POST /api/dividends/distributions
type DistributionRequest struct {
	Cycle  string          `json:"cycle"`
	Profit decimal.Decimal `json:"profit"`
}

// handleDividendInfo handles GET /api/dividends/{address}
func (s *Server) handleDividendInfo(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	ctx := ratelimit.WithPriority(r.Context(), ratelimit.PriorityLow)
	info, err := s.services.Dividends.Info(ctx, address, s.now())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// handleProjection handles GET /api/dividends/{address}/projection?monthlyProfit=
func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	raw := r.URL.Query().Get("monthlyProfit")
	if raw == "" {
		respondServiceError(w, r, errors.NewValidationError("monthlyProfit", "is required"))
		return
	}
	profit, err := decimal.NewFromString(raw)
	if err != nil {
		respondServiceError(w, r, errors.NewValidationError("monthlyProfit", "must be a decimal number"))
		return
	}

	ctx := ratelimit.WithPriority(r.Context(), ratelimit.PriorityLow)
	projection, err := s.services.Dividends.Project(ctx, address, profit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, projection)
}

// handleClaimHistory handles GET /api/dividends/{address}/claims
func (s *Server) handleClaimHistory(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	claims, err := s.services.Claims.Claims(r.Context(), address)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if claims == nil {
		claims = []*models.DividendClaim{}
	}

	holder, _ := types.NormalizeAddress(address)
	respondJSON(w, http.StatusOK, ClaimHistoryResponse{HolderAddress: holder, Claims: claims})
}

// handleClaimDividends handles POST /api/dividends/claim
func (s *Server) handleClaimDividends(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := parseJSONBody(r, &req); err != nil {
		invalidBody(w, r, err)
		return
	}

	claim, err := s.services.Claims.Claim(r.Context(), req.HolderAddress, s.now())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, ClaimResponse{
		HolderAddress: claim.Holder,
		Cycle:         claim.Cycle,
		AmountClaimed: claim.Amount,
	})
}

// handleDistribute handles POST /api/dividends/distributions
func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	var req DistributionRequest
	if err := parseJSONBody(r, &req); err != nil {
		invalidBody(w, r, err)
		return
	}

	distribution, err := s.services.Distribution.Distribute(r.Context(), req.Cycle, req.Profit, s.now())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, distribution)
}
