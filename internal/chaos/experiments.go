// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lendingledger/internal/catalog"
	"lendingledger/internal/clock"
	apperrors "lendingledger/internal/errors"
	"lendingledger/internal/lending"
	"lendingledger/internal/membership"
)

// Ledger is the surface experiments drive. Both the in-process services and the HTTP client
// satisfy it.
type Ledger interface {
	AddBook(ctx context.Context, title, author string, totalCopies int) (*catalog.Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error)
	RegisterUser(ctx context.Context, name, email string, start, expiry time.Time) (*membership.User, error)
	Borrow(ctx context.Context, bookID, userID uuid.UUID, borrowDate, dueDate time.Time) (*lending.BorrowResult, error)
	ReturnByUser(ctx context.Context, bookID, userID uuid.UUID) (*catalog.Book, error)
}

// InProcess adapts the three services to Ledger.
type InProcess struct {
	Catalog    catalog.Service
	Membership membership.Service
	Lending    lending.Service
}

func (l InProcess) AddBook(ctx context.Context, title, author string, totalCopies int) (*catalog.Book, error) {
	return l.Catalog.AddBook(ctx, title, author, totalCopies)
}

func (l InProcess) GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error) {
	return l.Catalog.GetBook(ctx, id)
}

func (l InProcess) RegisterUser(ctx context.Context, name, email string, start, expiry time.Time) (*membership.User, error) {
	return l.Membership.RegisterUser(ctx, name, email, start, expiry)
}

func (l InProcess) Borrow(ctx context.Context, bookID, userID uuid.UUID, borrowDate, dueDate time.Time) (*lending.BorrowResult, error) {
	return l.Lending.Borrow(ctx, bookID, userID, borrowDate, dueDate)
}

func (l InProcess) ReturnByUser(ctx context.Context, bookID, userID uuid.UUID) (*catalog.Book, error) {
	return l.Lending.ReturnByUser(ctx, bookID, userID)
}

// Suite builds the consistency experiments against one ledger.
type Suite struct {
	ledger Ledger
	clock  clock.Clock
	// Copies and Extra size the oversubscription experiment.
	Copies int
	Extra  int
	// Rounds and Borrowers size the churn of the consistency experiment.
	Rounds    int
	Borrowers int
}

func NewSuite(ledger Ledger, c clock.Clock) *Suite {
	return &Suite{ledger: ledger, clock: c, Copies: 10, Extra: 15, Rounds: 5, Borrowers: 8}
}

// Register adds every experiment of the suite to engine.
func (s *Suite) Register(engine *Engine) {
	engine.Register(s.ConcurrentBorrowExperiment(), s.LedgerConsistencyExperiment())
}

// ConcurrentBorrowExperiment races Copies+Extra borrowers for a Copies-copy book.
func (s *Suite) ConcurrentBorrowExperiment() Experiment {
	var (
		book       *catalog.Book
		successes  atomic.Int64
		rejected   atomic.Int64
		unexpected atomic.Int64
	)

	return Experiment{
		Name:       "concurrent-borrow-oversubscription",
		Hypothesis: "Concurrent borrows on one book never lend more copies than exist",
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "lending-service",
				Execute: func(ctx context.Context) error {
					var err error
					book, err = s.ledger.AddBook(ctx, "Chaos Copy", "Experiment", s.Copies)
					if err != nil {
						return fmt.Errorf("add book: %w", err)
					}
					users, err := s.registerUsers(ctx, s.Copies+s.Extra)
					if err != nil {
						return err
					}

					borrowDate, dueDate := s.dates()
					start := make(chan struct{})
					var wg sync.WaitGroup
					for _, user := range users {
						wg.Add(1)
						go func(user uuid.UUID) {
							defer wg.Done()
							<-start
							_, err := s.ledger.Borrow(ctx, book.ID, user, borrowDate, dueDate)
							switch {
							case err == nil:
								successes.Add(1)
							case errors.Is(err, apperrors.ErrNoCopiesAvailable):
								rejected.Add(1)
							default:
								unexpected.Add(1)
							}
						}(user)
					}
					close(start)
					wg.Wait()
					return nil
				},
			},
		},
		Probes: []Metric{
			{
				Name:      "borrow_successes",
				Query:     func(context.Context) (float64, error) { return float64(successes.Load()), nil },
				Threshold: Threshold{Operator: "==", Value: float64(s.Copies)},
			},
			{
				Name:      "no_copies_rejections",
				Query:     func(context.Context) (float64, error) { return float64(rejected.Load()), nil },
				Threshold: Threshold{Operator: "==", Value: float64(s.Extra)},
			},
			{
				Name:      "unexpected_errors",
				Query:     func(context.Context) (float64, error) { return float64(unexpected.Load()), nil },
				Threshold: Threshold{Operator: "==", Value: 0},
			},
			{
				Name: "available_copies",
				Query: func(ctx context.Context) (float64, error) {
					if book == nil {
						return -1, errors.New("book was not created")
					}
					b, err := s.ledger.GetBook(ctx, book.ID)
					if err != nil {
						return -1, err
					}
					return float64(b.AvailableCopies), nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "borrow_successes",
				Condition: func(v float64) bool { return v == float64(s.Copies) },
				Message:   "exactly one borrow per copy should succeed",
			},
			{
				Metric:    "available_copies",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "the book should end with no available copies",
			},
		},
	}
}

// LedgerConsistencyExperiment churns borrows and returns concurrently and checks the book
// balances afterwards.
func (s *Suite) LedgerConsistencyExperiment() Experiment {
	var (
		book  *catalog.Book
		users []uuid.UUID
	)
	const copies = 4

	invariant := Metric{
		Name: "invariant_violations",
		Query: func(ctx context.Context) (float64, error) {
			if book == nil {
				return 0, nil
			}
			b, err := s.ledger.GetBook(ctx, book.ID)
			if err != nil {
				return -1, err
			}
			if b.CheckInvariant() != nil {
				return 1, nil
			}
			return 0, nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}

	return Experiment{
		Name:        "ledger-consistency",
		Hypothesis:  "Interleaved borrows and returns keep available + borrowed equal to total",
		SteadyState: []Metric{invariant},
		Method: []Action{
			{
				Type:   "setup",
				Target: "catalog-service",
				Execute: func(ctx context.Context) (err error) {
					book, err = s.ledger.AddBook(ctx, "Chaos Churn", "Experiment", copies)
					if err != nil {
						return fmt.Errorf("add book: %w", err)
					}
					users, err = s.registerUsers(ctx, s.Borrowers)
					return err
				},
			},
			{
				Type:   "interleaved-requests",
				Target: "lending-service",
				Execute: func(ctx context.Context) error {
					if book == nil {
						return errors.New("book was not created")
					}
					borrowDate, dueDate := s.dates()
					var wg sync.WaitGroup
					for round := 0; round < s.Rounds; round++ {
						for _, user := range users {
							wg.Add(1)
							go func(user uuid.UUID) {
								defer wg.Done()
								if _, err := s.ledger.Borrow(ctx, book.ID, user, borrowDate, dueDate); err == nil {
									_, _ = s.ledger.ReturnByUser(ctx, book.ID, user)
								}
							}(user)
						}
					}
					wg.Wait()
					return nil
				},
			},
		},
		Probes: []Metric{
			{
				Name: "outstanding_loans",
				Query: func(ctx context.Context) (float64, error) {
					if book == nil {
						return -1, errors.New("book was not created")
					}
					b, err := s.ledger.GetBook(ctx, book.ID)
					if err != nil {
						return -1, err
					}
					return float64(len(b.BorrowRecords)), nil
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "invariant_violations",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "available + borrowed should equal total",
			},
			{
				Metric:    "outstanding_loans",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "every successful borrow was returned",
			},
		},
	}
}

func (s *Suite) registerUsers(ctx context.Context, n int) ([]uuid.UUID, error) {
	today := clock.Today(s.clock)
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		user, err := s.ledger.RegisterUser(ctx, fmt.Sprintf("chaos-%d", i), "", today.AddDate(-1, 0, 0), today.AddDate(1, 0, 0))
		if err != nil {
			return nil, fmt.Errorf("register user: %w", err)
		}
		ids = append(ids, user.ID)
	}
	return ids, nil
}

func (s *Suite) dates() (time.Time, time.Time) {
	today := clock.Today(s.clock)
	return today, today.AddDate(0, 0, 7)
}
