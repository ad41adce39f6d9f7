// Package pool provides the HTTP handlers binding the UI/API surface to the
// pool engine: creating pools, joining/leaving, cancellation, and status
// queries.
package pool

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/savannacommerce/pool-engine/internal/engine"
	"github.com/savannacommerce/pool-engine/internal/ledger"
	"github.com/savannacommerce/pool-engine/internal/model"
	"github.com/savannacommerce/pool-engine/internal/poolspec"
	"github.com/savannacommerce/pool-engine/internal/store"
)

// Service handles pool API operations. All engine semantics live in the
// manager; handlers only decode, delegate, and map errors to HTTP statuses.
type Service struct {
	mgr    *engine.Manager
	store  store.Store
	logger *slog.Logger
}

// NewService creates a new pool API service.
func NewService(mgr *engine.Manager, st store.Store, logger *slog.Logger) *Service {
	return &Service{
		mgr:    mgr,
		store:  st,
		logger: logger.With(slog.String("component", "api")),
	}
}

// --- Request/Response types ---

// JoinRequest is the JSON body for POST /pools/{poolID}/join.
type JoinRequest struct {
	ParticipantID string `json:"participant_id"`
	Quantity      int64  `json:"quantity"`
}

// LeaveRequest is the JSON body for POST /pools/{poolID}/leave.
type LeaveRequest struct {
	ParticipantID string `json:"participant_id"`
}

// CancelRequest is the JSON body for POST /pools/{poolID}/cancel.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// RuleRequest is the JSON body for POST /rules.
type RuleRequest struct {
	ParticipantID            string `json:"participant_id"`
	ProductCategory          string `json:"product_category"`
	Location                 string `json:"location"`
	MaxQuantityPerPool       int64  `json:"max_quantity_per_pool"`
	MaxActiveAutoCommitments int    `json:"max_active_auto_commitments"`
}

// SnapshotResponse is the JSON body for GET /pools/{poolID}/commitments.
type SnapshotResponse struct {
	PoolID            string             `json:"pool_id"`
	CommittedQuantity int64              `json:"committed_quantity"`
	ParticipantCount  int                `json:"participant_count"`
	Commitments       []model.Commitment `json:"commitments"`
}

// --- HTTP Handlers ---

// CreatePool handles POST /api/v1/pools
func (s *Service) CreatePool(w http.ResponseWriter, r *http.Request) {
	var spec poolspec.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := s.mgr.CreatePool(r.Context(), &spec)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// GetPool handles GET /api/v1/pools/{poolID}
func (s *Service) GetPool(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	p, err := s.store.GetPool(r.Context(), poolID)
	if err != nil {
		writeError(w, "pool not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// GetPoolStatus handles GET /api/v1/pools/{poolID}/status
func (s *Service) GetPoolStatus(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	status, err := s.mgr.GetPoolStatus(r.Context(), poolID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// ListPools handles GET /api/v1/pools
// Returns open pools, optionally filtered by ?category= and ?location=.
func (s *Service) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.mgr.ListOpenPools(r.Context(),
		r.URL.Query().Get("category"),
		r.URL.Query().Get("location"))
	if err != nil {
		writeError(w, "failed to list pools", http.StatusInternalServerError)
		return
	}
	if pools == nil {
		pools = []model.Pool{}
	}

	writeJSON(w, http.StatusOK, pools)
}

// Join handles POST /api/v1/pools/{poolID}/join
func (s *Service) Join(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ParticipantID == "" {
		writeError(w, "participant_id is required", http.StatusBadRequest)
		return
	}

	c, err := s.mgr.Join(r.Context(), poolID, req.ParticipantID, req.Quantity, model.SourceManual)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.logger.Info("join accepted",
		"pool_id", poolID,
		"participant", req.ParticipantID,
		"quantity", req.Quantity,
	)
	writeJSON(w, http.StatusOK, c)
}

// Leave handles POST /api/v1/pools/{poolID}/leave
func (s *Service) Leave(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	var req LeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ParticipantID == "" {
		writeError(w, "participant_id is required", http.StatusBadRequest)
		return
	}

	if err := s.mgr.Leave(r.Context(), poolID, req.ParticipantID); err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

// Cancel handles POST /api/v1/pools/{poolID}/cancel
func (s *Service) Cancel(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.mgr.Cancel(r.Context(), poolID, req.Reason); err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// GetCommitments handles GET /api/v1/pools/{poolID}/commitments
// Returns a consistent ledger snapshot.
func (s *Service) GetCommitments(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	if _, err := s.store.GetPool(r.Context(), poolID); err != nil {
		writeError(w, "pool not found", http.StatusNotFound)
		return
	}

	quantity, count, commitments, err := s.mgr.Ledger().Snapshot(r.Context(), poolID)
	if err != nil {
		writeError(w, "failed to snapshot ledger", http.StatusInternalServerError)
		return
	}
	if commitments == nil {
		commitments = []model.Commitment{}
	}

	writeJSON(w, http.StatusOK, SnapshotResponse{
		PoolID:            poolID,
		CommittedQuantity: quantity,
		ParticipantCount:  count,
		Commitments:       commitments,
	})
}

// GetSettlement handles GET /api/v1/pools/{poolID}/settlement
func (s *Service) GetSettlement(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")

	rec, err := s.store.GetSettlementRecord(r.Context(), poolID)
	if err != nil {
		writeError(w, "settlement record not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// CreateRule handles POST /api/v1/rules
func (s *Service) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ParticipantID == "" || req.ProductCategory == "" {
		writeError(w, "participant_id and product_category are required", http.StatusBadRequest)
		return
	}
	if req.MaxQuantityPerPool <= 0 || req.MaxActiveAutoCommitments <= 0 {
		writeError(w, "max_quantity_per_pool and max_active_auto_commitments must be positive", http.StatusBadRequest)
		return
	}

	rule := &model.AutoEnrollmentRule{
		ID:                       uuid.New().String(),
		ParticipantID:            req.ParticipantID,
		ProductCategory:          req.ProductCategory,
		Location:                 req.Location,
		MaxQuantityPerPool:       req.MaxQuantityPerPool,
		MaxActiveAutoCommitments: req.MaxActiveAutoCommitments,
		Enabled:                  true,
	}
	if err := s.store.CreateRule(r.Context(), rule); err != nil {
		writeError(w, "failed to create rule", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, rule)
}

// Routes mounts all pool API handlers on the router.
func (s *Service) Routes(r chi.Router) {
	r.Get("/pools", s.ListPools)
	r.Post("/pools", s.CreatePool)
	r.Get("/pools/{poolID}", s.GetPool)
	r.Get("/pools/{poolID}/status", s.GetPoolStatus)
	r.Get("/pools/{poolID}/commitments", s.GetCommitments)
	r.Get("/pools/{poolID}/settlement", s.GetSettlement)
	r.Post("/pools/{poolID}/join", s.Join)
	r.Post("/pools/{poolID}/leave", s.Leave)
	r.Post("/pools/{poolID}/cancel", s.Cancel)
	r.Post("/rules", s.CreateRule)
}

// writeEngineError maps engine/ledger errors onto HTTP statuses: validation
// errors to 400, unknown pools to 404, state conflicts to 409.
func (s *Service) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrPoolNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrInvalidQuantity):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrPoolNotOpen),
		errors.Is(err, engine.ErrPoolLocked),
		errors.Is(err, engine.ErrTooLateToCancel),
		errors.Is(err, engine.ErrPoolTerminal),
		errors.Is(err, ledger.ErrPoolFull),
		errors.Is(err, ledger.ErrNoCommitment):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		s.logger.Error("internal error", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
