package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"grievflow/auth"
	"grievflow/bid"
	"grievflow/completion"
	"grievflow/disagreement"
	"grievflow/fault"
	"grievflow/grievance"
	"grievflow/metrics"
	"grievflow/role"
)

type ctxKey string

const ctxKeyUserID ctxKey = "userID"

type grievanceService interface {
	Submit(ctx context.Context, requesterID, contentRef string) (int64, error)
	Get(ctx context.Context, id int64) (grievance.Grievance, error)
	ListOpen(ctx context.Context) ([]int64, error)
	DashboardCounts(ctx context.Context) (grievance.StatusCounts, error)
}

type bidService interface {
	Submit(ctx context.Context, grievanceID int64, providerID string, amountLocal int64) (int64, error)
	Get(ctx context.Context, id int64) (bid.Bid, error)
	ListForGrievance(ctx context.Context, grievanceID int64) ([]bid.Bid, error)
}

type escrowService interface {
	Assign(ctx context.Context, grievanceID, winningBidID, suppliedFunds int64, assignerID string) error
	SetFee(ctx context.Context, basisPoints int64, adminID string) error
}

type completionService interface {
	SubmitProof(ctx context.Context, grievanceID int64, providerID, proofRef string) error
	ConfirmAsRequester(ctx context.Context, grievanceID int64, callerID string) (bool, error)
	ConfirmAsAssigner(ctx context.Context, grievanceID int64, callerID string) (bool, error)
}

type disagreementService interface {
	Record(ctx context.Context, grievanceID int64, authorID, body string) (disagreement.Note, error)
	List(ctx context.Context, grievanceID int64) ([]disagreement.Note, error)
}

type oracleService interface {
	SetRate(ctx context.Context, newRate int64, adminID string) (int64, error)
}

type roleService interface {
	Grant(ctx context.Context, granteeID string, cap role.Capability, callerID string) error
	ListForUser(ctx context.Context, userID string) ([]role.Capability, error)
}

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(tokenString string) (string, error)
}

// Server routes HTTP requests to the marketplace services.
type Server struct {
	authService         authService
	grievanceService    grievanceService
	bidService          bidService
	escrowService       escrowService
	completionService   completionService
	disagreementService disagreementService
	oracleService       oracleService
	roleService         roleService

	metrics *metrics.Registry
	logger  *slog.Logger
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/register", s.handleRegister)
	mux.HandleFunc("/api/login", s.handleLogin)

	mux.HandleFunc("/api/grievances", s.requireAuth(s.handleGrievances))
	mux.HandleFunc("/api/grievances/", s.requireAuth(s.handleGrievanceDetail))
	mux.HandleFunc("/api/bids/", s.requireAuth(s.handleBidDetail))
	mux.HandleFunc("/api/dashboard", s.requireAuth(s.handleDashboard))
	mux.HandleFunc("/api/admin/exchange-rate", s.requireAuth(s.handleExchangeRate))
	mux.HandleFunc("/api/admin/fee", s.requireAuth(s.handleFee))
	mux.HandleFunc("/api/admin/grants", s.requireAuth(s.handleGrants))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return mux
}

// requireAuth resolves the bearer token into a user ID on the request
// context. Capability checks stay inside the services.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.writeError(w, fmt.Errorf("api: missing bearer token: %w", fault.ErrUnauthorized))
			return
		}
		userID, err := s.authService.VerifyToken(token)
		if err != nil {
			s.writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		next(w, r.WithContext(ctx))
	}
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	CreatedAt   string `json:"createdAt"`
}

type grievanceResponse struct {
	ID                 int64   `json:"id"`
	RequesterID        string  `json:"requesterId"`
	ContentRef         string  `json:"contentRef"`
	Status             string  `json:"status"`
	AssignedProviderID *string `json:"assignedProviderId,omitempty"`
	EscrowAmount       int64   `json:"escrowAmount"`
	CreatedAt          string  `json:"createdAt"`
}

type bidResponse struct {
	ID               int64  `json:"id"`
	GrievanceID      int64  `json:"grievanceId"`
	ProviderID       string `json:"providerId"`
	AmountLocal      int64  `json:"amountLocal"`
	AmountSettlement int64  `json:"amountSettlement"`
	RateUsed         int64  `json:"rateUsed"`
	Active           bool   `json:"active"`
	CreatedAt        string `json:"createdAt"`
}

type noteResponse struct {
	ID          string `json:"id"`
	GrievanceID int64  `json:"grievanceId"`
	AuthorID    string `json:"authorId"`
	Body        string `json:"body"`
	CreatedAt   string `json:"createdAt"`
}

func toBidResponse(b bid.Bid) bidResponse {
	return bidResponse{
		ID:               b.ID,
		GrievanceID:      b.GrievanceID,
		ProviderID:       b.ProviderID,
		AmountLocal:      b.AmountLocal,
		AmountSettlement: b.AmountSettlement,
		RateUsed:         b.RateUsed,
		Active:           b.Active,
		CreatedAt:        b.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("api: bad request: %w", fault.ErrValidation))
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, userResponse{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		CreatedAt:   user.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("api: bad request: %w", fault.ErrValidation))
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": userResponse{
			ID:          result.User.ID,
			Email:       result.User.Email,
			DisplayName: result.User.DisplayName,
			CreatedAt:   result.User.CreatedAt.Format(time.RFC3339),
		},
	})
}

// handleGrievances serves POST /api/grievances and GET /api/grievances.
func (s *Server) handleGrievances(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			ContentRef string `json:"contentRef"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, fmt.Errorf("api: bad request: %w", fault.ErrValidation))
			return
		}
		id, err := s.grievanceService.Submit(r.Context(), callerID(r), req.ContentRef)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if s.metrics != nil {
			s.metrics.IncGrievanceSubmitted()
		}
		s.writeJSON(w, http.StatusCreated, map[string]any{"id": id})
	case http.MethodGet:
		ids, err := s.grievanceService.ListOpen(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"items": ids, "total": len(ids)})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleGrievanceDetail dispatches /api/grievances/{id} and its
// sub-resources: bids, assign, completion, confirmations, disagreements.
func (s *Server) handleGrievanceDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/grievances/")
	idPart, sub, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, fmt.Errorf("api: bad request: %w", fault.ErrValidation))
		return
	}

	switch sub {
	case "":
		s.handleGetGrievance(w, r, id)
	case "bids":
		s.handleGrievanceBids(w, r, id)
	case "assign":
		s.handleAssign(w, r, id)
	case "completion":
		s.handleCompletion(w, r, id)
	case "confirmations":
		s.handleConfirmation(w, r, id)
	case "disagreements":
		s.handleDisagreements(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleGetGrievance(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g, err := s.grievanceService.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, grievanceResponse{
		ID:                 g.ID,
		RequesterID:        g.RequesterID,
		ContentRef:         g.ContentRef,
		Status:             string(g.Status),
		AssignedProviderID: g.AssignedProviderID,
		EscrowAmount:       g.EscrowAmount,
		CreatedAt:          g.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleGrievanceBids(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			AmountLocal int64 `json:"amountLocal"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, fmt.Errorf("api: decode body: %w", fault.ErrValidation))
			return
		}
		bidID, err := s.bidService.Submit(r.Context(), id, callerID(r), req.AmountLocal)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if s.metrics != nil {
			s.metrics.IncBidSubmitted()
		}
		s.writeJSON(w, http.StatusCreated, map[string]any{"id": bidID})
	case http.MethodGet:
		bids, err := s.bidService.ListForGrievance(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		items := make([]bidResponse, 0, len(bids))
		for _, b := range bids {
			items = append(items, toBidResponse(b))
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleBidDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	idPart := strings.TrimPrefix(r.URL.Path, "/api/bids/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, fmt.Errorf("api: bad request: %w", fault.ErrValidation))
		return
	}
	b, err := s.bidService.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toBidResponse(b))
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		WinningBidID  int64 `json:"winningBidId"`
		SuppliedFunds int64 `json:"suppliedFunds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("api: bad request: %w", fault.ErrValidation))
		return
	}
	err := s.escrowService.Assign(r.Context(), id, req.WinningBidID, req.SuppliedFunds, callerID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.IncTaskAssigned()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": string(grievance.StatusAssigned)})
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ProofRef string `json:"proofRef"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("api: bad request: %w", fault.ErrValidation))
		return
	}
	if err := s.completionService.SubmitProof(r.Context(), id, callerID(r), req.ProofRef); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": string(grievance.StatusCompleted)})
}

func (s *Server) handleConfirmation(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Side string `json:"side"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("api: bad request: %w", fault.ErrValidation))
		return
	}

	var (
		released bool
		err      error
	)
	switch completion.Side(req.Side) {
	case completion.SideRequester:
		released, err = s.completionService.ConfirmAsRequester(r.Context(), id, callerID(r))
	case completion.SideAssigner:
		released, err = s.completionService.ConfirmAsAssigner(r.Context(), id, callerID(r))
	default:
		s.writeError(w, fmt.Errorf("api: bad request: %w", fault.ErrValidation))
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if released && s.metrics != nil {
		s.metrics.IncFundsReleased()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"released": released})
}

func (s *Server) handleDisagreements(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Body string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, fmt.Errorf("api: bad request: %w", fault.ErrValidation))
			return
		}
		note, err := s.disagreementService.Record(r.Context(), id, callerID(r), req.Body)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, noteResponse{
			ID:          note.ID,
			GrievanceID: note.GrievanceID,
			AuthorID:    note.AuthorID,
			Body:        note.Body,
			CreatedAt:   note.CreatedAt.Format(time.RFC3339),
		})
	case http.MethodGet:
		notes, err := s.disagreementService.List(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		items := make([]noteResponse, 0, len(notes))
		for _, n := range notes {
			items = append(items, noteResponse{
				ID:          n.ID,
				GrievanceID: n.GrievanceID,
				AuthorID:    n.AuthorID,
				Body:        n.Body,
				CreatedAt:   n.CreatedAt.Format(time.RFC3339),
			})
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	counts, err := s.grievanceService.DashboardCounts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SetStatusCount(string(grievance.StatusOpen), counts.Open)
		s.metrics.SetStatusCount(string(grievance.StatusAssigned), counts.Assigned)
		s.metrics.SetStatusCount(string(grievance.StatusCompleted), counts.Completed)
		s.metrics.SetStatusCount(string(grievance.StatusResolved), counts.Resolved)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"open":      counts.Open,
		"assigned":  counts.Assigned,
		"completed": counts.Completed,
		"resolved":  counts.Resolved,
		"total":     counts.Total(),
	})
}

func (s *Server) handleExchangeRate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Rate int64 `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("api: bad request: %w", fault.ErrValidation))
		return
	}
	oldRate, err := s.oracleService.SetRate(r.Context(), req.Rate, callerID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"oldRate": oldRate, "rate": req.Rate})
}

func (s *Server) handleFee(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		BasisPoints int64 `json:"basisPoints"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("api: bad request: %w", fault.ErrValidation))
		return
	}
	if err := s.escrowService.SetFee(r.Context(), req.BasisPoints, callerID(r)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"basisPoints": req.BasisPoints})
}

func (s *Server) handleGrants(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			GranteeID  string `json:"granteeId"`
			Capability string `json:"capability"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, fmt.Errorf("api: bad request: %w", fault.ErrValidation))
			return
		}
		err := s.roleService.Grant(r.Context(), req.GranteeID, role.Capability(req.Capability), callerID(r))
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, map[string]any{
			"granteeId":  req.GranteeID,
			"capability": req.Capability,
		})
	case http.MethodGet:
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			userID = callerID(r)
		}
		caps, err := s.roleService.ListForUser(r.Context(), userID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "capabilities": caps})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && s.logger != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := fault.Kind(err)
	status := http.StatusInternalServerError
	switch kind {
	case "validation":
		status = http.StatusBadRequest
	case "not_found":
		status = http.StatusNotFound
	case "unauthorized":
		status = http.StatusForbidden
	case "invalid_state":
		status = http.StatusConflict
	case "arithmetic", "transfer":
		status = http.StatusUnprocessableEntity
	}
	if s.metrics != nil {
		s.metrics.IncError(kind)
	}
	if s.logger != nil && status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]any{"error": kind, "detail": err.Error()})
}
