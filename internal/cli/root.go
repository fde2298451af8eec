// internal/cli/root.go

// Package cli implements the ledgerctl command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"lendingledger/internal/catalog"
	"lendingledger/internal/clients"
	"lendingledger/internal/clock"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type options struct {
	server  string
	asJSON  bool
	timeout time.Duration
	clock   clock.Clock
}

// NewRootCommand builds ledgerctl. out receives command output.
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &options{clock: clock.System{}}

	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate a lending ledger over its HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(out)

	defaultServer := os.Getenv("LEDGER_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&opts.server, "server", defaultServer, "lendingd base URL")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print raw JSON")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(
		newAddBookCommand(opts),
		newAddUserCommand(opts),
		newBorrowCommand(opts),
		newReturnCommand(opts),
		newBorrowedCommand(opts),
		newHistoryCommand(opts),
		newChaosCommand(opts),
	)
	return root
}

// Execute runs ledgerctl with os.Args.
func Execute() int {
	cmd := NewRootCommand(os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (o *options) client() *clients.LedgerClient {
	return clients.NewLedgerClient(o.server)
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func (o *options) print(cmd *cobra.Command, v any, text func(io.Writer)) error {
	if o.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(cmd.OutOrStdout())
	return nil
}

func parseID(name, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

func parseDay(name, raw string) (time.Time, error) {
	t, err := clock.ParseDate(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: want YYYY-MM-DD", name, raw)
	}
	return t, nil
}

func printBook(w io.Writer, b *catalog.Book) {
	fmt.Fprintf(w, "%s  %q by %s  available %d/%d  version %d\n",
		b.ID, b.Title, b.Author, b.AvailableCopies, b.TotalCopies, b.Version)
	for _, r := range b.BorrowRecords {
		fmt.Fprintf(w, "  record %s  user %s  %s -> %s\n",
			r.ID, r.UserID, r.BorrowDate.Format(time.DateOnly), r.DueDate.Format(time.DateOnly))
	}
}
