package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/jacentio/kvdoc/kv"
)

// purgeBatch is the page size purge deletes in.
const purgeBatch = 100

var errKeyNotFound = errors.New("key not found")

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [segment...]",
		Short: "Reads the entry at a key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) error {
				key := kv.Key(args)
				entry, found, err := s.conn.Get(ctx, key)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("%s: %w", key, errKeyNotFound)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", entry.VersionStamp, s.render(entry.Value))
				return nil
			})
		},
	}
}

func (a *app) putCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put [segment...]",
		Short: "Writes a JSON value at a key, encoded with --codec",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("value")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			var value any
			if err := json.Unmarshal([]byte(raw), &value); err != nil {
				return fmt.Errorf("value must be JSON: %w", err)
			}
			return a.run(cmd, func(ctx context.Context, s *session) error {
				data, err := s.codec.Marshal(value)
				if err != nil {
					return err
				}
				stamp, err := s.conn.Set(ctx, kv.Key(args), data, ttl)
				if err != nil {
					return err
				}
				s.logger.Debug("entry written", "key", kv.Key(args).String(), "ttl", ttl)
				fmt.Fprintln(cmd.OutOrStdout(), stamp)
				return nil
			})
		},
	}
	cmd.Flags().String("value", "", "JSON value to write")
	cmd.Flags().Duration("ttl", 0, "expire the entry after this duration")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func (a *app) lsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [segment...]",
		Short: "Lists the entries under a key prefix",
		RunE: func(cmd *cobra.Command, args []string) error {
			reverse, _ := cmd.Flags().GetBool("reverse")
			limit, _ := cmd.Flags().GetInt("limit")
			cursor, _ := cmd.Flags().GetString("cursor")
			values, _ := cmd.Flags().GetBool("values")

			return a.run(cmd, func(ctx context.Context, s *session) error {
				opts := kv.ListOptions{Reverse: reverse, Limit: limit, Cursor: cursor}
				entries, next, err := s.conn.List(ctx, kv.PrefixSelector(kv.Key(args)), opts)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, e := range entries {
					if values {
						fmt.Fprintf(out, "%s\t%s\t%s\n", e.Key, e.VersionStamp, s.render(e.Value))
					} else {
						fmt.Fprintln(out, e.Key)
					}
				}
				if next != "" {
					fmt.Fprintf(out, "cursor: %s\n", next)
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("reverse", false, "list in descending key order")
	cmd.Flags().Int("limit", 0, "maximum number of entries (0 = all)")
	cmd.Flags().String("cursor", "", "resume after the entry a previous listing pointed at")
	cmd.Flags().Bool("values", false, "print stamps and values")
	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm [segment...]",
		Short: "Deletes the entry at a key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) error {
				if err := s.conn.Delete(ctx, kv.Key(args)); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "deleted", kv.Key(args))
				return nil
			})
		},
	}
}

func (a *app) purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge [segment...]",
		Short: "Deletes every entry under a key prefix",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, s *session) error {
				n, err := purge(ctx, s.conn, kv.Key(args))
				s.logger.Info("purge finished", "prefix", kv.Key(args).String(), "deleted", n)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d entries\n", n)
				return nil
			})
		},
	}
}

// purge deletes every entry under prefix and returns how many it deleted.
func purge(ctx context.Context, conn kv.Conn, prefix kv.Key) (int, error) {
	sel := kv.PrefixSelector(prefix)
	deleted := 0
	cursor := ""
	for {
		entries, next, err := conn.List(ctx, sel, kv.ListOptions{Limit: purgeBatch, Cursor: cursor})
		if err != nil {
			return deleted, err
		}
		for _, e := range entries {
			if err := conn.Delete(ctx, e.Key); err != nil {
				return deleted, err
			}
			deleted++
		}
		if next == "" {
			return deleted, nil
		}
		cursor = next
	}
}

// render shows a stored value as JSON when it decodes with the session codec,
// and as raw text otherwise.
func (s *session) render(data []byte) string {
	var v any
	if err := s.codec.Unmarshal(data, &v); err == nil {
		if out, err := json.Marshal(v); err == nil {
			return string(out)
		}
	}
	return string(data)
}
