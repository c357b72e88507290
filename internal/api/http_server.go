package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"leihsy/internal/config"
	"leihsy/internal/derive"
	"leihsy/internal/export"
	"leihsy/internal/lifecycle"
	"leihsy/internal/metrics"
	"leihsy/internal/models"
	"leihsy/internal/qr"
	"leihsy/internal/service"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// HTTPServer exposes the booking API consumed by the front-end gateway.
type HTTPServer struct {
	cfg          config.APIConfig
	bookings     *service.BookingService
	transactions *service.TransactionService
	qrOrigin     string
	exporter     *export.Exporter
	server       *http.Server
	auth         *HTTPAuth
	logger       *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, qrOrigin string, bookings *service.BookingService, transactions *service.TransactionService, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:          cfg,
		bookings:     bookings,
		transactions: transactions,
		qrOrigin:     qrOrigin,
		logger:       logger,
	}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/bookings", srv.handleBookings)
	mux.HandleFunc("/api/v1/bookings/", srv.handleBookingSubtree)
	mux.HandleFunc("/api/v1/transactions/", srv.handleRedeem)
	mux.HandleFunc("/api/v1/exports/bookings", srv.handleExport)
	mux.HandleFunc("/healthz", srv.handleHealth)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// EnableExports turns on the xlsx report endpoint. Without an exporter
// the endpoint answers 503.
func (s *HTTPServer) EnableExports(exporter *export.Exporter) {
	s.exporter = exporter
}

// Handler returns the fully wrapped handler, for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleBookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		bookings, err := s.bookings.ListBookings(r.Context())
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, bookings)
	case http.MethodPost:
		var booking models.Booking
		if err := decodeBody(r, &booking); err != nil {
			writeError(w, http.StatusBadRequest, KindValidation, "invalid JSON body")
			return
		}
		if err := s.bookings.CreateBooking(r.Context(), &booking); err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, booking)
	default:
		writeError(w, http.StatusMethodNotAllowed, KindValidation, "method not allowed")
	}
}

// handleBookingSubtree dispatches everything below /api/v1/bookings/:
// pending, overdue, user/{id}, {id}, {id}/transactions, {id}/timeline.
func (s *HTTPServer) handleBookingSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/bookings/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] == "pending":
		s.handleList(w, r, s.bookings.ListPendingBookings)
	case len(parts) == 1 && parts[0] == "overdue":
		s.handleList(w, r, s.bookings.ListOverdueBookings)
	case len(parts) == 2 && parts[0] == "user":
		s.handleListByParty(w, r, parts[1], s.bookings.ListBookingsByUser)
	case len(parts) == 2 && parts[0] == "lender":
		s.handleListByParty(w, r, parts[1], s.bookings.ListBookingsByLender)
	case len(parts) == 1:
		s.handleBooking(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "transactions":
		s.handleMintToken(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "timeline":
		s.handleTimeline(w, r, parts[0])
	default:
		writeError(w, http.StatusNotFound, KindNotFound, "not found")
	}
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request, list func(context.Context) ([]models.Booking, error)) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, KindValidation, "method not allowed")
		return
	}
	bookings, err := list(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

func (s *HTTPServer) handleListByParty(w http.ResponseWriter, r *http.Request, rawID string, list func(context.Context, int64) ([]models.Booking, error)) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, KindValidation, "method not allowed")
		return
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, KindValidation, "invalid party id")
		return
	}
	bookings, err := list(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

// mutateRequest carries every PATCH payload variant of the booking
// contract; which fields matter depends on the action.
type mutateRequest struct {
	Action          string   `json:"action"`
	ActorID         int64    `json:"actorId"`
	ActorName       string   `json:"actorName"`
	ProposedPickups []string `json:"proposedPickups"`
	SelectedPickup  string   `json:"selectedPickup"`
	Message         string   `json:"message"`
}

func (s *HTTPServer) handleBooking(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, KindValidation, "invalid booking id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		booking, err := s.bookings.GetBooking(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, booking)

	case http.MethodPatch:
		var req mutateRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, KindValidation, "invalid JSON body")
			return
		}
		booking, err := s.applyMutation(r.Context(), id, &req)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, booking)

	case http.MethodDelete:
		action := strings.TrimSpace(r.URL.Query().Get("action"))
		if action == "" {
			action = lifecycle.ActionCancel
		}
		if action != lifecycle.ActionCancel && action != lifecycle.ActionReject {
			writeError(w, http.StatusBadRequest, KindValidation, "action must be cancel or reject")
			return
		}
		actorID, _ := strconv.ParseInt(r.URL.Query().Get("actorId"), 10, 64)
		if _, err := s.bookings.Transition(r.Context(), id, action, actorID); err != nil {
			s.writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, KindValidation, "method not allowed")
	}
}

func (s *HTTPServer) applyMutation(ctx context.Context, id int64, req *mutateRequest) (*models.Booking, error) {
	switch req.Action {
	case "propose":
		return s.bookings.ProposePickups(ctx, id, req.ActorID, req.ActorName, req.ProposedPickups, req.Message)
	case "select_pickup":
		return s.bookings.SelectPickup(ctx, id, req.ActorID, req.SelectedPickup, req.Message)
	case lifecycle.ActionConfirm, lifecycle.ActionReject, lifecycle.ActionCancel,
		lifecycle.ActionPickup, lifecycle.ActionReturn:
		return s.bookings.Transition(ctx, id, req.Action, req.ActorID)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", service.ErrBadTransaction, req.Action)
	}
}

type mintRequest struct {
	ActorID         int64  `json:"actorId"`
	TransactionType string `json:"transactionType"`
}

type mintResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	ActionURL string    `json:"actionUrl"`
}

func (s *HTTPServer) handleMintToken(w http.ResponseWriter, r *http.Request, rawID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, KindValidation, "method not allowed")
		return
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, KindValidation, "invalid booking id")
		return
	}

	var req mintRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, KindValidation, "invalid JSON body")
		return
	}
	if req.TransactionType == "" {
		req.TransactionType = models.TransactionPickup
	}

	token, err := s.transactions.GenerateToken(r.Context(), id, req.ActorID, req.TransactionType)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, mintResponse{
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt,
		ActionURL: qr.BuildActionURL(s.qrOrigin, token.Token),
	})
}

func (s *HTTPServer) handleRedeem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, KindValidation, "method not allowed")
		return
	}

	token := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/transactions/"), "/")
	if token == "" || strings.Contains(token, "/") {
		writeError(w, http.StatusBadRequest, KindValidation, "token is required")
		return
	}

	booking, err := s.transactions.Redeem(r.Context(), token)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// timelineResponse bundles the booking's derived read-model: history
// events, status presentation and overdue figures.
type timelineResponse struct {
	BookingID   int64                  `json:"bookingId"`
	Status      string                 `json:"status"`
	StatusInfo  models.StatusInfo      `json:"statusInfo"`
	IsOverdue   bool                   `json:"isOverdue"`
	DaysOverdue int                    `json:"daysOverdue"`
	Timeline    []derive.TimelineEvent `json:"timeline"`
}

func (s *HTTPServer) handleTimeline(w http.ResponseWriter, r *http.Request, rawID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, KindValidation, "method not allowed")
		return
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, KindValidation, "invalid booking id")
		return
	}

	booking, err := s.bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	now := time.Now()
	writeJSON(w, http.StatusOK, timelineResponse{
		BookingID:   booking.ID,
		Status:      booking.Status,
		StatusInfo:  models.StatusInfoFor(booking.Status),
		IsOverdue:   derive.IsOverdue(booking, now),
		DaysOverdue: derive.DaysOverdue(booking, now),
		Timeline:    derive.BuildTimeline(booking),
	})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, KindValidation, "method not allowed")
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, KindInternal, "exports are not configured")
		return
	}

	from, err := parseDateParam(r, "from", time.Now().AddDate(0, -1, 0))
	if err != nil {
		writeError(w, http.StatusBadRequest, KindValidation, "from must be YYYY-MM-DD")
		return
	}
	to, err := parseDateParam(r, "to", time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, KindValidation, "to must be YYYY-MM-DD")
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, KindValidation, "to must not precede from")
		return
	}

	bookings, err := s.bookings.ListBookings(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	path, err := s.exporter.BookingsReport(bookings, from, to)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"file": path})
}

func parseDateParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	return time.Parse("2006-01-02", raw)
}

func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	status, payload := classifyError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, payload)
}

// HTTPAuth provides API-key auth and per-key rate limiting.
type HTTPAuth struct {
	cfg      config.APIConfig
	limiters sync.Map // map[string]*rate.Limiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{cfg: cfg}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.Auth.Enabled {
			if !a.checkAuth(r) {
				writeError(w, http.StatusUnauthorized, KindUnauthorized, "invalid api key")
				return
			}
		}

		if err := a.checkRateLimit(r); err != nil {
			writeError(w, http.StatusTooManyRequests, KindConflict, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) checkAuth(r *http.Request) bool {
	apiKey := strings.TrimSpace(r.Header.Get(a.headerName()))
	if apiKey == "" {
		return false
	}

	// Compare against every configured key so the timing does not reveal
	// which one matched.
	ok := false
	for _, client := range a.cfg.Auth.APIKeys {
		if subtle.ConstantTimeCompare([]byte(client.Key), []byte(apiKey)) == 1 {
			ok = true
		}
	}
	return ok
}

func (a *HTTPAuth) headerName() string {
	header := strings.TrimSpace(strings.ToLower(a.cfg.Auth.HeaderAPIKey))
	if header == "" {
		header = "x-api-key"
	}
	return header
}

func (a *HTTPAuth) checkRateLimit(r *http.Request) error {
	if a.cfg.RateLimit.RPS <= 0 {
		return nil
	}

	lim := a.getLimiter(a.clientKey(r))
	if !lim.Allow() {
		return fmt.Errorf("rate limit exceeded")
	}
	return nil
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.headerName())); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}

func (a *HTTPAuth) getLimiter(key string) *rate.Limiter {
	if v, ok := a.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}

	burst := a.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}

	lim := rate.NewLimiter(rate.Limit(a.cfg.RateLimit.RPS), burst)
	actual, loaded := a.limiters.LoadOrStore(key, lim)
	if loaded {
		return actual.(*rate.Limiter)
	}
	return lim
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		metrics.IncHTTP(r.URL.Path, strconv.Itoa(recorder.status))
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func decodeBody(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(v)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, kind, message string) {
	writeJSON(w, statusCode, apiError{Kind: kind, Error: message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
