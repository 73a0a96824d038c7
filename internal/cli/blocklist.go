package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"botgate/internal/blocklist"
	"botgate/internal/platform/config"
)

// blocklistStore is the subset of the Postgres store the commands use.
type blocklistStore interface {
	Add(ctx context.Context, entry *blocklist.Entry) error
	Remove(ctx context.Context, typ blocklist.EntryType, value string) error
	ListActive(ctx context.Context, now time.Time) ([]*blocklist.Entry, error)
	RemoveExpiredAt(ctx context.Context, now time.Time) (int64, error)
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type blocklistFlags struct {
	dsn string
	// open is replaced in tests.
	open func(ctx context.Context, dsn string) (blocklistStore, func() error, error)
}

func openPostgres(ctx context.Context, dsn string) (blocklistStore, func() error, error) {
	db, err := blocklist.Open(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	store := blocklist.NewPostgres(db)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, db.Close, nil
}

func newBlocklistCmd() *cobra.Command {
	return newBlocklistCmdWith(openPostgres)
}

func newBlocklistCmdWith(open func(context.Context, string) (blocklistStore, func() error, error)) *cobra.Command {
	f := &blocklistFlags{open: open}
	cmd := &cobra.Command{
		Use:   "blocklist",
		Short: "Manage Postgres blocklist entries (ua, cidr, asn)",
	}
	cmd.PersistentFlags().StringVar(&f.dsn, "dsn", os.Getenv(config.EnvPrefix+"_POSTGRES_DSN"), "Postgres DSN")
	cmd.AddCommand(
		newBlocklistAddCmd(f),
		newBlocklistListCmd(f),
		newBlocklistRemoveCmd(f),
		newBlocklistPurgeCmd(f),
	)
	return cmd
}

func (f *blocklistFlags) with(cmd *cobra.Command, fn func(ctx context.Context, store blocklistStore) error) error {
	if f.dsn == "" {
		return errors.New("--dsn or BOTGATE_POSTGRES_DSN is required")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, closeFn, err := f.open(ctx, f.dsn)
	if err != nil {
		return fmt.Errorf("open blocklist store: %w", err)
	}
	defer func() { _ = closeFn() }()
	return fn(ctx, store)
}

func newBlocklistAddCmd(f *blocklistFlags) *cobra.Command {
	var (
		reason string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "add <ua|cidr|asn> <value>...",
		Short: "Add or refresh blocklist entries",
		Long:  "Adds every value in one transaction: if any value fails, none are stored.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := blocklist.ParseEntryType(args[0])
			if err != nil {
				return err
			}
			now := time.Now()
			entries := make([]*blocklist.Entry, 0, len(args)-1)
			for _, value := range args[1:] {
				entry, err := blocklist.NewEntry(typ, value, reason, ttl, now)
				if err != nil {
					return err
				}
				entries = append(entries, entry)
			}
			return f.with(cmd, func(ctx context.Context, store blocklistStore) error {
				err := store.RunInTx(ctx, func(ctx context.Context) error {
					for _, entry := range entries {
						if err := store.Add(ctx, entry); err != nil {
							return err
						}
					}
					return nil
				})
				if err != nil {
					return err
				}
				for _, entry := range entries {
					fmt.Fprintf(cmd.OutOrStdout(), "added %s %s\n", entry.Type, entry.Value)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "free-text reason stored with the entry")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "expire the entry after this long (0 never expires)")
	return cmd
}

func newBlocklistListCmd(f *blocklistFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active blocklist entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return f.with(cmd, func(ctx context.Context, store blocklistStore) error {
				entries, err := store.ListActive(ctx, time.Now())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TYPE\tVALUE\tEXPIRES\tREASON")
				for _, e := range entries {
					expires := "never"
					if e.ExpiresAt != nil {
						expires = e.ExpiresAt.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Type, e.Value, expires, e.Reason)
				}
				return w.Flush()
			})
		},
	}
}

func newBlocklistRemoveCmd(f *blocklistFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <ua|cidr|asn> <value>",
		Short: "Remove a blocklist entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := blocklist.ParseEntryType(args[0])
			if err != nil {
				return err
			}
			// Normalize the same way Add does so "AS13335" finds "13335".
			entry, err := blocklist.NewEntry(typ, args[1], "", 0, time.Now())
			if err != nil {
				return err
			}
			return f.with(cmd, func(ctx context.Context, store blocklistStore) error {
				if err := store.Remove(ctx, typ, entry.Value); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s %s\n", typ, entry.Value)
				return nil
			})
		},
	}
}

func newBlocklistPurgeCmd(f *blocklistFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired blocklist entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return f.with(cmd, func(ctx context.Context, store blocklistStore) error {
				n, err := store.RemoveExpiredAt(ctx, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired entries\n", n)
				return nil
			})
		},
	}
}
