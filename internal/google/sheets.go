// Package google mirrors bookings into a Google spreadsheet for the
// lenders' reporting view. The mirror is write-only and eventually
// consistent; sqlite stays authoritative.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"leihsy/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ErrRowNotFound reports a booking id missing from the sheet.
var ErrRowNotFound = errors.New("booking row not found")

const callTimeout = 30 * time.Second

type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	rowCache      map[int64]int
	cacheMu       sync.RWMutex
}

func NewSheetsService(credentialsFile, spreadsheetID, sheetName string) (*SheetsService, error) {
	ctx := context.Background()

	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}

	if sheetName == "" {
		sheetName = "Bookings"
	}

	service := &SheetsService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		rowCache:      make(map[int64]int),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		_ = service.WarmUpCache(ctx)
	}()

	return service, nil
}

// TestConnection reads the first cell to verify credentials and sharing.
func (s *SheetsService) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// ServiceAccountEmail returns the account the spreadsheet must be shared
// with.
func ServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}

	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}
	return creds.ClientEmail, nil
}

// WarmUpCache populates the row index cache from the ID column.
func (s *SheetsService) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A:A").Context(ctx).Do()
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[int64]int)

	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		var id int64
		switch v := row[0].(type) {
		case float64:
			id = int64(v)
		case string:
			fmt.Sscanf(v, "%d", &id)
		}
		if id > 0 {
			s.rowCache[id] = i + 1
		}
	}
	return nil
}

// UpsertBooking updates the booking's row or appends one. Satisfies
// worker.MirrorClient.
func (s *SheetsService) UpsertBooking(booking *models.Booking) error {
	if booking == nil {
		return fmt.Errorf("booking is nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	rowIdx, err := s.findBookingRow(ctx, booking.ID)
	if errors.Is(err, ErrRowNotFound) {
		return s.appendBooking(ctx, booking)
	}
	if err != nil {
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:O%d", s.sheetName, rowIdx, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(booking)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// DeleteBookingRow clears the row for a booking id.
func (s *SheetsService) DeleteBookingRow(bookingID int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	rowIdx, err := s.findBookingRow(ctx, bookingID)
	if err != nil {
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:O%d", s.sheetName, rowIdx, rowIdx)
	_, err = s.service.Spreadsheets.Values.Clear(s.spreadsheetID, rangeData, &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err == nil {
		s.deleteCacheRow(bookingID)
	}
	return err
}

// UpdateBookingStatus rewrites the status and updated-at cells.
func (s *SheetsService) UpdateBookingStatus(bookingID int64, status string) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	rowIdx, err := s.findBookingRow(ctx, bookingID)
	if err != nil {
		return err
	}

	statusRange := fmt.Sprintf("%s!H%d:H%d", s.sheetName, rowIdx, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, statusRange, &sheets.ValueRange{
		Values: [][]interface{}{{models.StatusInfoFor(status).Label}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return err
	}

	updatedRange := fmt.Sprintf("%s!O%d:O%d", s.sheetName, rowIdx, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, updatedRange, &sheets.ValueRange{
		Values: [][]interface{}{{time.Now().Format("2006-01-02 15:04:05")}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// ReplaceBookingsSheet rewrites the whole sheet from scratch.
func (s *SheetsService) ReplaceBookingsSheet(ctx context.Context, bookings []models.Booking) error {
	clearRange := s.sheetName + "!A2:Z"
	_, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, clearRange, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to clear bookings sheet: %w", err)
	}

	values := [][]interface{}{bookingHeaderValues()}
	for i := range bookings {
		values = append(values, bookingRowValues(&bookings[i]))
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.sheetName+"!A1", &sheets.ValueRange{
		Values: values,
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update bookings sheet: %w", err)
	}

	s.cacheMu.Lock()
	s.rowCache = make(map[int64]int)
	for i := range bookings {
		s.rowCache[bookings[i].ID] = i + 2
	}
	s.cacheMu.Unlock()

	return nil
}

func (s *SheetsService) appendBooking(ctx context.Context, booking *models.Booking) error {
	rangeData := s.sheetName + "!A:A"
	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{bookingRowValues(booking)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return err
}

// findBookingRow locates the 1-based row for a booking id, cache first.
func (s *SheetsService) findBookingRow(ctx context.Context, bookingID int64) (int, error) {
	if bookingID == 0 {
		return 0, fmt.Errorf("booking id is required")
	}

	if row, ok := s.getCachedRow(bookingID); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, err
	}

	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		switch v := row[0].(type) {
		case float64:
			if int64(v) == bookingID {
				s.setCachedRow(bookingID, i+1)
				return i + 1, nil
			}
		case string:
			if v == fmt.Sprintf("%d", bookingID) {
				s.setCachedRow(bookingID, i+1)
				return i + 1, nil
			}
		}
	}

	return 0, ErrRowNotFound
}

func (s *SheetsService) getCachedRow(id int64) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *SheetsService) setCachedRow(id int64, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

func (s *SheetsService) deleteCacheRow(id int64) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.rowCache, id)
}

func bookingHeaderValues() []interface{} {
	return []interface{}{
		"ID", "User ID", "User", "Lender ID", "Lender", "Inventory", "Product",
		"Status", "Start", "End", "Pickup", "Distributed", "Returned",
		"Created At", "Updated At",
	}
}

func bookingRowValues(booking *models.Booking) []interface{} {
	return []interface{}{
		booking.ID,
		booking.UserID,
		booking.UserName,
		booking.LenderID,
		booking.LenderName,
		booking.ItemInvNumber,
		booking.ProductName,
		models.StatusInfoFor(booking.Status).Label,
		booking.StartDate.Format("2006-01-02"),
		booking.EndDate.Format("2006-01-02"),
		booking.ConfirmedPickup,
		formatOptional(booking.DistributionDate),
		formatOptional(booking.ReturnDate),
		booking.CreatedAt.Format("2006-01-02 15:04:05"),
		booking.UpdatedAt.Format("2006-01-02 15:04:05"),
	}
}

func formatOptional(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}
