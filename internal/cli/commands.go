// internal/cli/commands.go
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"lendingledger/internal/app"
	"lendingledger/internal/catalog"
	"lendingledger/internal/chaos"
	"lendingledger/internal/clock"
	"lendingledger/internal/platform/config"
)

func newAddBookCommand(opts *options) *cobra.Command {
	var title, author string
	var copies int

	cmd := &cobra.Command{
		Use:   "add-book",
		Short: "Add a book to the catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			book, err := opts.client().AddBook(ctx, title, author, copies)
			if err != nil {
				return err
			}
			return opts.print(cmd, book, func(w io.Writer) { printBook(w, book) })
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "book title")
	cmd.Flags().StringVar(&author, "author", "", "book author")
	cmd.Flags().IntVar(&copies, "copies", 1, "total copies")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newAddUserCommand(opts *options) *cobra.Command {
	var name, email, start, expiry string

	cmd := &cobra.Command{
		Use:   "add-user",
		Short: "Register a user with a membership window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			startDate, err := parseDay("start", start)
			if err != nil {
				return err
			}
			expiryDate, err := parseDay("expiry", expiry)
			if err != nil {
				return err
			}

			ctx, cancel := opts.context(cmd)
			defer cancel()

			user, err := opts.client().RegisterUser(ctx, name, email, startDate, expiryDate)
			if err != nil {
				return err
			}
			return opts.print(cmd, user, func(w io.Writer) {
				fmt.Fprintf(w, "%s  %s  member %s -> %s\n", user.ID, user.Name,
					user.MembershipStartDate.Format(time.DateOnly), user.MembershipExpiryDate.Format(time.DateOnly))
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "user name")
	cmd.Flags().StringVar(&email, "email", "", "user email")
	cmd.Flags().StringVar(&start, "start", "", "membership start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&expiry, "expiry", "", "membership expiry date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("expiry")
	return cmd
}

func newBorrowCommand(opts *options) *cobra.Command {
	var borrowDate, dueDate string

	cmd := &cobra.Command{
		Use:   "borrow BOOK_ID USER_ID",
		Short: "Lend a copy of a book to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID("book id", args[0])
			if err != nil {
				return err
			}
			userID, err := parseID("user id", args[1])
			if err != nil {
				return err
			}

			borrow := clock.Today(opts.clock)
			if borrowDate != "" {
				if borrow, err = parseDay("borrow date", borrowDate); err != nil {
					return err
				}
			}
			due, err := parseDay("due date", dueDate)
			if err != nil {
				return err
			}

			ctx, cancel := opts.context(cmd)
			defer cancel()

			res, err := opts.client().Borrow(ctx, bookID, userID, borrow, due)
			if err != nil {
				return err
			}
			return opts.print(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "borrow record %s\n", res.BorrowRecordID)
				printBook(w, res.Book)
			})
		},
	}
	cmd.Flags().StringVar(&borrowDate, "from", "", "borrow date (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&dueDate, "due", "", "due date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("due")
	return cmd
}

func newReturnCommand(opts *options) *cobra.Command {
	var record, user string

	cmd := &cobra.Command{
		Use:   "return BOOK_ID",
		Short: "Return a borrowed copy by record id or by user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (record == "") == (user == "") {
				return errors.New("exactly one of --record or --user is required")
			}
			bookID, err := parseID("book id", args[0])
			if err != nil {
				return err
			}

			ctx, cancel := opts.context(cmd)
			defer cancel()

			var book *catalog.Book
			if record != "" {
				recordID, err := parseID("record id", record)
				if err != nil {
					return err
				}
				book, err = opts.client().ReturnByRecord(ctx, bookID, recordID)
				if err != nil {
					return err
				}
			} else {
				userID, err := parseID("user id", user)
				if err != nil {
					return err
				}
				book, err = opts.client().ReturnByUser(ctx, bookID, userID)
				if err != nil {
					return err
				}
			}
			return opts.print(cmd, book, func(w io.Writer) { printBook(w, book) })
		},
	}
	cmd.Flags().StringVar(&record, "record", "", "borrow record id")
	cmd.Flags().StringVar(&user, "user", "", "user id; returns every copy the user holds")
	return cmd
}

func newBorrowedCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "borrowed USER_ID",
		Short: "List the books a user currently borrows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user id", args[0])
			if err != nil {
				return err
			}

			ctx, cancel := opts.context(cmd)
			defer cancel()

			books, err := opts.client().ListBorrowedBooks(ctx, userID)
			if err != nil {
				return err
			}
			return opts.print(cmd, books, func(w io.Writer) {
				if len(books) == 0 {
					fmt.Fprintln(w, "no borrowed books")
					return
				}
				for _, b := range books {
					printBook(w, b)
				}
			})
		},
	}
}

func newHistoryCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history BOOK_ID",
		Short: "Show the lending journal of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := parseID("book id", args[0])
			if err != nil {
				return err
			}

			ctx, cancel := opts.context(cmd)
			defer cancel()

			entries, err := opts.client().History(ctx, bookID)
			if err != nil {
				return err
			}
			return opts.print(cmd, entries, func(w io.Writer) {
				for _, e := range entries {
					fmt.Fprintf(w, "v%-4d %-14s %s  %s\n", e.Version, e.Type, e.OccurredAt.Format(time.RFC3339), e.Payload)
				}
			})
		},
	}
}

func newChaosCommand(opts *options) *cobra.Command {
	var inProcess bool
	var copies, extra int

	cmd := &cobra.Command{
		Use:   "chaos",
		Short: "Run the lending consistency experiments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()

			var ledger chaos.Ledger = opts.client()
			if inProcess {
				local, err := inProcessLedger(opts.clock)
				if err != nil {
					return err
				}
				ledger = local
			}

			suite := chaos.NewSuite(ledger, opts.clock)
			suite.Copies, suite.Extra = copies, extra

			engine := chaos.NewEngine(nil)
			suite.Register(engine)
			results, runErr := engine.RunAll(ctx)

			if err := opts.print(cmd, results, func(w io.Writer) {
				for _, r := range results {
					status := "HELD"
					if !r.HypothesisHeld {
						status = "VIOLATED"
					}
					fmt.Fprintf(w, "%-36s %-8s %s\n", r.ExperimentName, status, r.Duration.Round(time.Millisecond))
					for _, msg := range r.FailedAssertions {
						fmt.Fprintf(w, "  - %s\n", msg)
					}
					for _, v := range r.Violations {
						fmt.Fprintf(w, "  - %s: expected %s %.0f, got %.0f\n", v.MetricName, v.Operator, v.Expected, v.Actual)
					}
				}
			}); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&inProcess, "in-process", false, "run against an in-memory ledger instead of --server")
	cmd.Flags().IntVar(&copies, "copies", 10, "copies of the contended book")
	cmd.Flags().IntVar(&extra, "extra", 15, "borrowers beyond the number of copies")
	return cmd
}

func inProcessLedger(c clock.Clock) (chaos.Ledger, error) {
	cfg := config.Config{CommitMaxAttempts: 8, CommitBaseDelay: 5 * time.Millisecond}
	svc, err := app.MemoryBackend().Services(cfg, c, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return nil, err
	}
	return chaos.InProcess{
		Catalog:    svc.Catalog,
		Membership: svc.Membership,
		Lending:    svc.Lending,
	}, nil
}
