// internal/clients/ledger_client.go
package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"

	"lendingledger/internal/catalog"
	apperrors "lendingledger/internal/errors"
	"lendingledger/internal/lending"
	"lendingledger/internal/membership"
	"lendingledger/internal/platform/httpx"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const apiPrefix = "/api/v1"

// LedgerClient talks to a lendingd instance. Answers in the error taxonomy come back as
// *errors.Error; transport failures trip the circuit breaker.
type LedgerClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

type Option func(*LedgerClient)

func WithHTTPClient(c *http.Client) Option {
	return func(l *LedgerClient) { l.http = c }
}

// WithBreakerSettings replaces the breaker settings. IsSuccessful is always overridden so that
// domain rejections do not count as failures.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(l *LedgerClient) { l.breaker = newBreaker(st) }
}

func NewLedgerClient(baseURL string, opts ...Option) *LedgerClient {
	c := &LedgerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: newBreaker(gobreaker.Settings{
			Name:        "ledger",
			MaxRequests: 1,
			Timeout:     5 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newBreaker(st gobreaker.Settings) *gobreaker.CircuitBreaker {
	st.IsSuccessful = func(err error) bool {
		if err == nil {
			return true
		}
		appErr, ok := apperrors.As(err)
		return ok && appErr.Kind() != apperrors.KindInternal
	}
	return gobreaker.NewCircuitBreaker(st)
}

// State exposes the breaker state for diagnostics.
func (c *LedgerClient) State() gobreaker.State {
	return c.breaker.State()
}

func (c *LedgerClient) AddBook(ctx context.Context, title, author string, totalCopies int) (*catalog.Book, error) {
	body := map[string]any{"title": title, "author": author, "total_copies": totalCopies}
	var book catalog.Book
	if err := c.do(ctx, http.MethodPost, "/books", body, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *LedgerClient) GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	var book catalog.Book
	if err := c.do(ctx, http.MethodGet, "/books/"+id.String(), nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *LedgerClient) History(ctx context.Context, id uuid.UUID) ([]catalog.JournalEntry, error) {
	var list httpx.ListResponse[catalog.JournalEntry]
	if err := c.do(ctx, http.MethodGet, "/books/"+id.String()+"/history", nil, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

func (c *LedgerClient) RegisterUser(ctx context.Context, name, email string, start, expiry time.Time) (*membership.User, error) {
	body := map[string]string{
		"name":                   name,
		"email":                  email,
		"membership_start_date":  start.Format(time.DateOnly),
		"membership_expiry_date": expiry.Format(time.DateOnly),
	}
	var user membership.User
	if err := c.do(ctx, http.MethodPost, "/users", body, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *LedgerClient) Borrow(ctx context.Context, bookID, userID uuid.UUID, borrowDate, dueDate time.Time) (*lending.BorrowResult, error) {
	body := lending.BorrowRequest{
		UserID:     userID.String(),
		BorrowDate: borrowDate.Format(time.DateOnly),
		DueDate:    dueDate.Format(time.DateOnly),
	}
	var res lending.BorrowResult
	if err := c.do(ctx, http.MethodPost, "/books/"+bookID.String()+"/borrow", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *LedgerClient) ReturnByRecord(ctx context.Context, bookID, recordID uuid.UUID) (*catalog.Book, error) {
	var book catalog.Book
	path := fmt.Sprintf("/books/%s/borrower/%s", bookID, recordID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *LedgerClient) ReturnByUser(ctx context.Context, bookID, userID uuid.UUID) (*catalog.Book, error) {
	var book catalog.Book
	path := fmt.Sprintf("/books/%s/end_booking/%s", bookID, userID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *LedgerClient) ListBorrowedBooks(ctx context.Context, userID uuid.UUID) ([]*catalog.Book, error) {
	var list httpx.ListResponse[*catalog.Book]
	if err := c.do(ctx, http.MethodGet, "/users/"+userID.String()+"/borrowed-books", nil, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

func (c *LedgerClient) do(ctx context.Context, method, path string, in, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, method, path, in, out)
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

func (c *LedgerClient) roundTrip(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var errResp httpx.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Code == "" {
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		return apperrors.WithMetadata(errResp.Code, errResp.Message, errResp.Metadata)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
