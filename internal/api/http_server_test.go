package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"leihsy/internal/config"
	"leihsy/internal/database"
	"leihsy/internal/export"
	"leihsy/internal/models"
	"leihsy/internal/repository"
	"leihsy/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cfg config.APIConfig) *HTTPServer {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zerolog.New(io.Discard)
	cache := repository.NewMemoryTokenCache()
	bookings := service.NewBookingService(db, nil, nil, &logger)
	transactions := service.NewTransactionService(db, cache, nil, &logger)

	return NewHTTPServer(cfg, "https://leihsy.example.org", bookings, transactions, &logger)
}

func doRequest(t *testing.T, srv *HTTPServer, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBooking(t *testing.T, rec *httptest.ResponseRecorder) models.Booking {
	t.Helper()
	var b models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	return b
}

func newBookingRequest() map[string]any {
	return map[string]any{
		"userId":        100,
		"userName":      "Ada",
		"lenderId":      200,
		"lenderName":    "Linus",
		"itemId":        1,
		"itemInvNumber": "INV-0001",
		"productId":     7,
		"productName":   "Thermal camera",
		"startDate":     "2026-09-01T00:00:00Z",
		"endDate":       "2026-09-08T00:00:00Z",
		"message":       "hello",
	}
}

func TestBookingEndToEnd(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{})

	// Create: whatever the caller claims, it starts PENDING.
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/bookings", newBookingRequest(), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booking := decodeBooking(t, rec)
	require.NotZero(t, booking.ID)
	assert.Equal(t, models.StatusPending, booking.Status)

	// Lender proposes two dates.
	first, second := "2026-09-01T10:00:00", "2026-09-02T14:00:00"
	rec = doRequest(t, srv, http.MethodPatch, bookingPath(booking.ID), map[string]any{
		"action":          "propose",
		"actorId":         200,
		"actorName":       "Linus",
		"proposedPickups": []string{first, second},
		"message":         "either day works",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	booking = decodeBooking(t, rec)
	assert.Equal(t, int64(200), booking.ProposalByID)

	// Requester accepts the second date; this confirms the booking.
	rec = doRequest(t, srv, http.MethodPatch, bookingPath(booking.ID), map[string]any{
		"action":         "select_pickup",
		"actorId":        100,
		"selectedPickup": second,
		"message":        "taking the second one",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	booking = decodeBooking(t, rec)
	assert.Equal(t, models.StatusConfirmed, booking.Status)
	assert.Equal(t, second, booking.ConfirmedPickup)
	assert.Empty(t, booking.ProposedPickups)
	assert.Zero(t, booking.ProposalByID)

	// Lender mints a pickup code.
	rec = doRequest(t, srv, http.MethodPost, bookingPath(booking.ID)+"/transactions", map[string]any{
		"actorId":         200,
		"transactionType": models.TransactionPickup,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var mint mintResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mint))
	assert.NotEmpty(t, mint.Token)
	assert.Equal(t, "https://leihsy.example.org/qr-action/"+mint.Token, mint.ActionURL)
	assert.WithinDuration(t, time.Now().Add(models.TokenTTL), mint.ExpiresAt, 5*time.Second)

	// Anyone scanning the code redeems it, no session required.
	rec = doRequest(t, srv, http.MethodPatch, "/api/v1/transactions/"+mint.Token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	booking = decodeBooking(t, rec)
	assert.Equal(t, models.StatusPickedUp, booking.Status)
	assert.False(t, booking.DistributionDate.IsZero())

	// Redeeming the same code again must fail.
	rec = doRequest(t, srv, http.MethodPatch, "/api/v1/transactions/"+mint.Token, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	var apiErr apiError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, KindTokenAlreadyUsed, apiErr.Kind)
	assert.NotEmpty(t, apiErr.Remediation)

	// Return round trip.
	rec = doRequest(t, srv, http.MethodPost, bookingPath(booking.ID)+"/transactions", map[string]any{
		"actorId":         200,
		"transactionType": models.TransactionReturn,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mint))

	rec = doRequest(t, srv, http.MethodPatch, "/api/v1/transactions/"+mint.Token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	booking = decodeBooking(t, rec)
	assert.Equal(t, models.StatusReturned, booking.Status)
	assert.False(t, booking.ReturnDate.IsZero())

	// Timeline view: created, confirmed, distributed, returned.
	rec = doRequest(t, srv, http.MethodGet, bookingPath(booking.ID)+"/timeline", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tl timelineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tl))
	require.Len(t, tl.Timeline, 4)
	for i := 1; i < len(tl.Timeline); i++ {
		assert.False(t, tl.Timeline[i].Date.Before(tl.Timeline[i-1].Date))
	}
	assert.Equal(t, "Returned", tl.StatusInfo.Label)
	assert.False(t, tl.IsOverdue)
}

func bookingPath(id int64) string {
	return "/api/v1/bookings/" + strconv.FormatInt(id, 10)
}

func TestCreateBookingValidation(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{})

	body := newBookingRequest()
	delete(body, "lenderId")
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/bookings", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var apiErr apiError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, KindValidation, apiErr.Kind)
}

func TestInvalidTransitionConflict(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/bookings", newBookingRequest(), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	booking := decodeBooking(t, rec)

	// pickup straight from PENDING is not a legal move
	rec = doRequest(t, srv, http.MethodPatch, bookingPath(booking.ID), map[string]any{
		"action":  "pickup",
		"actorId": 200,
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var apiErr apiError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, KindInvalidTransition, apiErr.Kind)
}

func TestDeleteRejects(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/bookings", newBookingRequest(), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	booking := decodeBooking(t, rec)

	rec = doRequest(t, srv, http.MethodDelete, bookingPath(booking.ID)+"?action=reject&actorId=200", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, bookingPath(booking.ID), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusRejected, decodeBooking(t, rec).Status)
}

func TestMintTokenRequiresLender(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/bookings", newBookingRequest(), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	booking := decodeBooking(t, rec)

	rec = doRequest(t, srv, http.MethodPatch, bookingPath(booking.ID), map[string]any{
		"action":          "propose",
		"actorId":         200,
		"proposedPickups": []string{"2026-09-01T10:00:00"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, srv, http.MethodPatch, bookingPath(booking.ID), map[string]any{
		"action":         "select_pickup",
		"actorId":        100,
		"selectedPickup": "2026-09-01T10:00:00",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// requester may not mint
	rec = doRequest(t, srv, http.MethodPost, bookingPath(booking.ID)+"/transactions", map[string]any{
		"actorId":         100,
		"transactionType": models.TransactionPickup,
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMintTokenNeedsAgreedDate(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{})

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/bookings", newBookingRequest(), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	booking := decodeBooking(t, rec)

	// Confirmed on the strength of proposals alone; no date was selected.
	rec = doRequest(t, srv, http.MethodPatch, bookingPath(booking.ID), map[string]any{
		"action":          "propose",
		"actorId":         200,
		"proposedPickups": []string{"2026-09-01T10:00:00"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, srv, http.MethodPatch, bookingPath(booking.ID), map[string]any{
		"action":  "confirm",
		"actorId": 200,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, models.StatusConfirmed, decodeBooking(t, rec).Status)

	// A pickup code must not exist for a booking nobody can pick up.
	rec = doRequest(t, srv, http.MethodPost, bookingPath(booking.ID)+"/transactions", map[string]any{
		"actorId":         200,
		"transactionType": models.TransactionPickup,
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var apiErr apiError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, KindInvalidTransition, apiErr.Kind)
}

func TestRedeemUnknownToken(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{})

	rec := doRequest(t, srv, http.MethodPatch, "/api/v1/transactions/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var apiErr apiError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, KindTokenNotFound, apiErr.Kind)
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{{Key: "secret", Name: "frontend"}},
		},
	}
	srv := newTestServer(t, cfg)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/bookings", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/bookings", nil, map[string]string{"x-api-key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/bookings", nil, map[string]string{"x-api-key": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExportEndpoint(t *testing.T) {
	srv := newTestServer(t, config.APIConfig{})

	// Not configured yet.
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/exports/bookings", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	logger := zerolog.New(io.Discard)
	srv.EnableExports(export.NewExporter(t.TempDir(), &logger))

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/bookings", newBookingRequest(), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/exports/bookings?from=2026-09-01&to=2026-09-30", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.FileExists(t, resp["file"])

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/exports/bookings?from=bad-date", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := config.APIConfig{
		RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 1},
	}
	srv := newTestServer(t, cfg)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/bookings", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/bookings", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
