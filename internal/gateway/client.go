// Package gateway is the HTTP client for the booking service. Front-end
// facing code talks to the remote API only through this package; the
// server is the single source of truth and every mutation returns the
// authoritative record, which callers swap in wholesale.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"leihsy/internal/database"
	"leihsy/internal/models"
	"leihsy/internal/negotiation"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable covers transport-level failures. The client never
// retries on its own; retry is a caller decision.
var ErrUnavailable = errors.New("booking gateway unavailable")

// RemoteError is a non-2xx response decoded from the service. Unwrap
// yields the matching local sentinel so callers branch with errors.Is
// using the same vocabulary on both sides of the wire.
type RemoteError struct {
	StatusCode  int
	Kind        string
	Message     string
	Remediation string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway: %s (%s)", e.Message, e.Kind)
	}
	return fmt.Sprintf("gateway: http %d (%s)", e.StatusCode, e.Kind)
}

func (e *RemoteError) Unwrap() error {
	switch e.Kind {
	case "TOKEN_NOT_FOUND":
		return database.ErrTokenNotFound
	case "TOKEN_EXPIRED":
		return database.ErrTokenExpired
	case "TOKEN_ALREADY_USED":
		return database.ErrTokenAlreadyUsed
	case "TOKEN_STATE_MISMATCH":
		return database.ErrTokenStateMismatch
	case "NOT_FOUND":
		return database.ErrBookingNotFound
	case "CONFLICT":
		return database.ErrConcurrentModification
	case "INVALID_PROPOSAL":
		return negotiation.ErrNotProposed
	default:
		return nil
	}
}

// Client calls the booking API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// UseRedisCache enables short-lived caching of list endpoints. Single
// records and mutations are never cached.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

func (c *Client) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	var booking models.Booking
	if err := c.doGet(ctx, c.bookingURL(id), &booking); err != nil {
		return nil, err
	}
	return &booking, nil
}

func (c *Client) ListBookings(ctx context.Context) ([]models.Booking, error) {
	return c.cachedList(ctx, c.baseURL+"/api/v1/bookings", "bookings:all")
}

func (c *Client) ListBookingsByUser(ctx context.Context, userID int64) ([]models.Booking, error) {
	endpoint := fmt.Sprintf("%s/api/v1/bookings/user/%d", c.baseURL, userID)
	return c.cachedList(ctx, endpoint, fmt.Sprintf("bookings:user:%d", userID))
}

func (c *Client) ListPendingBookings(ctx context.Context) ([]models.Booking, error) {
	return c.cachedList(ctx, c.baseURL+"/api/v1/bookings/pending", "bookings:pending")
}

func (c *Client) ListOverdueBookings(ctx context.Context) ([]models.Booking, error) {
	return c.cachedList(ctx, c.baseURL+"/api/v1/bookings/overdue", "bookings:overdue")
}

func (c *Client) CreateBooking(ctx context.Context, booking *models.Booking) (*models.Booking, error) {
	var created models.Booking
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/api/v1/bookings", booking, &created); err != nil {
		return nil, err
	}
	c.dropListCaches(ctx)
	return &created, nil
}

// MutatePayload carries the per-action fields of a PATCH.
type MutatePayload struct {
	Action          string   `json:"action"`
	ActorID         int64    `json:"actorId"`
	ActorName       string   `json:"actorName,omitempty"`
	ProposedPickups []string `json:"proposedPickups,omitempty"`
	SelectedPickup  string   `json:"selectedPickup,omitempty"`
	Message         string   `json:"message,omitempty"`
}

func (c *Client) Mutate(ctx context.Context, id int64, payload MutatePayload) (*models.Booking, error) {
	var booking models.Booking
	if err := c.doJSON(ctx, http.MethodPatch, c.bookingURL(id), payload, &booking); err != nil {
		return nil, err
	}
	c.dropListCaches(ctx)
	return &booking, nil
}

func (c *Client) Confirm(ctx context.Context, id, actorID int64) (*models.Booking, error) {
	return c.Mutate(ctx, id, MutatePayload{Action: "confirm", ActorID: actorID})
}

func (c *Client) ProposePickups(ctx context.Context, id, actorID int64, actorName string, pickups []string, message string) (*models.Booking, error) {
	return c.Mutate(ctx, id, MutatePayload{
		Action:          "propose",
		ActorID:         actorID,
		ActorName:       actorName,
		ProposedPickups: pickups,
		Message:         message,
	})
}

func (c *Client) SelectPickup(ctx context.Context, id, actorID int64, pickup, message string) (*models.Booking, error) {
	return c.Mutate(ctx, id, MutatePayload{
		Action:         "select_pickup",
		ActorID:        actorID,
		SelectedPickup: pickup,
		Message:        message,
	})
}

// Delete rejects or cancels the booking; action must be "reject" or
// "cancel".
func (c *Client) Delete(ctx context.Context, id, actorID int64, action string) error {
	endpoint := fmt.Sprintf("%s?action=%s&actorId=%d", c.bookingURL(id), action, actorID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	if err := c.do(req, nil); err != nil {
		return err
	}
	c.dropListCaches(ctx)
	return nil
}

// MintResult is the response to a token mint.
type MintResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	ActionURL string    `json:"actionUrl"`
}

func (c *Client) MintToken(ctx context.Context, bookingID, actorID int64, transactionType string) (*MintResult, error) {
	endpoint := c.bookingURL(bookingID) + "/transactions"
	body := map[string]any{"actorId": actorID, "transactionType": transactionType}
	var result MintResult
	if err := c.doJSON(ctx, http.MethodPost, endpoint, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Redeem consumes a scanned token. No session headers are needed beyond
// the gateway's own API key.
func (c *Client) Redeem(ctx context.Context, token string) (*models.Booking, error) {
	endpoint := c.baseURL + "/api/v1/transactions/" + token
	var booking models.Booking
	if err := c.doJSON(ctx, http.MethodPatch, endpoint, nil, &booking); err != nil {
		return nil, err
	}
	c.dropListCaches(ctx)
	return &booking, nil
}

func (c *Client) bookingURL(id int64) string {
	return c.baseURL + "/api/v1/bookings/" + strconv.FormatInt(id, 10)
}

func (c *Client) cachedList(ctx context.Context, endpoint, cacheKey string) ([]models.Booking, error) {
	var bookings []models.Booking
	if c.readCache(ctx, cacheKey, &bookings) {
		return bookings, nil
	}
	if err := c.doGet(ctx, endpoint, &bookings); err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, bookings)
	return bookings, nil
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, "gw:"+key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, "gw:"+key, data, c.cacheTTL).Err()
}

func (c *Client) dropListCaches(ctx context.Context) {
	if c.redis == nil {
		return
	}
	keys, err := c.redis.Keys(ctx, "gw:bookings:*").Result()
	if err != nil || len(keys) == 0 {
		return
	}
	_ = c.redis.Del(ctx, keys...).Err()
}

func (c *Client) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		remote := &RemoteError{StatusCode: resp.StatusCode, Kind: "INTERNAL"}
		var payload struct {
			Kind        string `json:"kind"`
			Error       string `json:"error"`
			Remediation string `json:"remediation"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			if payload.Kind != "" {
				remote.Kind = payload.Kind
			}
			remote.Message = payload.Error
			remote.Remediation = payload.Remediation
		}
		return remote
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
}
