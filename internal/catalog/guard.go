// internal/catalog/guard.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apperrors "lendingledger/internal/errors"
)

const (
	defaultMaxAttempts  = 8
	defaultBaseDelay    = 5 * time.Millisecond
	defaultMaxDelay     = 250 * time.Millisecond
	defaultJitterFactor = 0.3
)

const (
	logMsgCommitConflict  = "book commit conflict, retrying"
	logMsgCommitExhausted = "book commit gave up after retries"

	logAttrBookID  = "book_id"
	logAttrAttempt = "attempt"
)

var (
	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeBaseDelay is returned when the base delay is negative.
	ErrNegativeBaseDelay = errors.New("base delay must not be negative")
)

// Mutator computes the next snapshot of a book. It must be a pure function of its input:
// the guard may call it several times against successive snapshots.
type Mutator func(Book) (Book, error)

// Guard serializes read-modify-write cycles per book.
//
// Within a process, commits for the same book queue on a per-book slot; across processes
// the store's version check detects interleaving and the cycle is replayed with exponential
// backoff up to maxAttempts times before TOO_MANY_RETRIES is surfaced. Different books never
// contend with each other.
type Guard struct {
	store       Store
	locks       *bookLocks
	maxAttempts uint
	baseDelay   time.Duration
	maxDelay    time.Duration
	logger      *slog.Logger
	tracer      trace.Tracer
	conflicts   metric.Int64Counter
}

// GuardOption configures a Guard.
type GuardOption func(*Guard) error

// WithMaxAttempts bounds the read-apply-write cycles of one Commit.
func WithMaxAttempts(n int) GuardOption {
	return func(g *Guard) error {
		if n <= 0 {
			return ErrInvalidMaxAttempts
		}
		g.maxAttempts = uint(n)
		return nil
	}
}

// WithBaseDelay sets the first backoff interval after a conflict.
func WithBaseDelay(d time.Duration) GuardOption {
	return func(g *Guard) error {
		if d < 0 {
			return ErrNegativeBaseDelay
		}
		g.baseDelay = d
		if g.maxDelay < d {
			g.maxDelay = d
		}
		return nil
	}
}

// WithLogger sets the logger for conflict and exhaustion messages.
func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) error {
		if logger != nil {
			g.logger = logger
		}
		return nil
	}
}

// NewGuard returns a Guard committing through store.
func NewGuard(store Store, opts ...GuardOption) (*Guard, error) {
	g := &Guard{
		store:       store,
		locks:       newBookLocks(),
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		logger:      slog.Default(),
		tracer:      otel.Tracer("lendingledger/catalog"),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}

	conflicts, err := otel.Meter("lendingledger/catalog").Int64Counter(
		"guard.commit.conflicts",
		metric.WithDescription("Optimistic commits rejected because the book changed underneath"),
	)
	if err != nil {
		return nil, fmt.Errorf("create conflict counter: %w", err)
	}
	g.conflicts = conflicts
	return g, nil
}

// Commit loads the book, applies mutate and writes the result back atomically.
//
// Errors from mutate are returned as-is. Store I/O failures become STORAGE_FAILURE; a
// cancelled ctx is returned unwrapped, and nothing is committed unless SaveBook succeeded.
func (g *Guard) Commit(ctx context.Context, bookID uuid.UUID, mutate Mutator) (Book, error) {
	ctx, span := g.tracer.Start(ctx, "guard.commit",
		trace.WithAttributes(attribute.String("book.id", bookID.String())))
	defer span.End()

	book, err := g.retry(ctx, span, bookID, func() (Book, error) {
		return g.commitOnce(ctx, bookID, mutate)
	})
	if err != nil {
		return Book{}, err
	}
	return book, nil
}

// Remove deletes the book once check accepts the current snapshot.
func (g *Guard) Remove(ctx context.Context, bookID uuid.UUID, check func(Book) error) error {
	ctx, span := g.tracer.Start(ctx, "guard.remove",
		trace.WithAttributes(attribute.String("book.id", bookID.String())))
	defer span.End()

	_, err := g.retry(ctx, span, bookID, func() (Book, error) {
		return Book{}, g.removeOnce(ctx, bookID, check)
	})
	return err
}

func (g *Guard) retry(ctx context.Context, span trace.Span, bookID uuid.UUID, once func() (Book, error)) (Book, error) {
	var attempts uint
	var conflicted bool

	operation := func() (Book, error) {
		attempts++
		book, err := once()
		if errors.Is(err, ErrVersionConflict) {
			conflicted = true
			g.conflicts.Add(ctx, 1)
			g.logger.DebugContext(ctx, logMsgCommitConflict, logAttrBookID, bookID, logAttrAttempt, attempts)
			return Book{}, err
		}
		if err != nil {
			return Book{}, backoff.Permanent(err)
		}
		return book, nil
	}

	book, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(g.newBackOff()),
		backoff.WithMaxTries(g.maxAttempts),
	)

	span.SetAttributes(
		attribute.Int("guard.attempts", int(attempts)),
		attribute.Bool("guard.conflict", conflicted),
	)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !isDomainError(err) {
			err = ctxErr
		} else if errors.Is(err, ErrVersionConflict) {
			g.logger.WarnContext(ctx, logMsgCommitExhausted, logAttrBookID, bookID, logAttrAttempt, attempts)
			err = apperrors.Wrap(apperrors.CodeTooManyRetries, apperrors.ErrTooManyRetries.Message, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Book{}, err
	}
	return book, nil
}

func (g *Guard) commitOnce(ctx context.Context, bookID uuid.UUID, mutate Mutator) (Book, error) {
	release, err := g.locks.Acquire(ctx, bookID)
	if err != nil {
		return Book{}, err
	}
	defer release()

	current, err := g.store.GetBook(ctx, bookID)
	if err != nil {
		return Book{}, storageError(err)
	}

	next, err := mutate(current)
	if err != nil {
		return Book{}, err
	}
	if next.ID != current.ID || next.Version != current.Version {
		return Book{}, apperrors.New(apperrors.CodeInvariantViolation, "mutator changed book identity or version")
	}
	if err := next.CheckInvariant(); err != nil {
		return Book{}, err
	}

	saved, err := g.store.SaveBook(ctx, next)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return Book{}, err
		}
		return Book{}, storageError(err)
	}
	return saved, nil
}

func (g *Guard) removeOnce(ctx context.Context, bookID uuid.UUID, check func(Book) error) error {
	release, err := g.locks.Acquire(ctx, bookID)
	if err != nil {
		return err
	}
	defer release()

	current, err := g.store.GetBook(ctx, bookID)
	if err != nil {
		return storageError(err)
	}
	if err := check(current); err != nil {
		return err
	}

	if err := g.store.DeleteBook(ctx, bookID, current.Version); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return err
		}
		return storageError(err)
	}
	return nil
}

func (g *Guard) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.baseDelay
	b.MaxInterval = g.maxDelay
	b.RandomizationFactor = defaultJitterFactor
	b.Multiplier = 2
	return b
}

// storageError keeps domain errors and context errors, and wraps the rest as STORAGE_FAILURE.
func storageError(err error) error {
	if isDomainError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.StorageFailure(err)
}

func isDomainError(err error) bool {
	_, ok := apperrors.As(err)
	return ok
}
