package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/codeGROOVE-dev/doccache"
	"github.com/spf13/cobra"
)

// parseValue decodes JSON input and falls back to the raw string.
func parseValue(s string) any {
	var v any
	if json.Valid([]byte(s)) && json.Unmarshal([]byte(s), &v) == nil {
		return v
	}
	return s
}

func (a *app) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Short: "Prints the value for a key as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, ok, err := a.store.Read(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("key %q: %w", args[0], errNotFound)
			}
			out, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode value: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func (a *app) setCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key; JSON values are stored decoded",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []doccache.CallOption
			if cmd.Flags().Changed("ttl") {
				ttl, _ := cmd.Flags().GetDuration("ttl") //nolint:errcheck // flag is defined below
				opts = append(opts, doccache.ExpiresIn(ttl))
			}
			if err := a.store.Write(cmd.Context(), args[0], parseValue(args[1]), opts...); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "set successfully")
			return nil
		},
	}
	cmd.Flags().Duration("ttl", 0, wrapString("expiration for this record (default: --expires-in)"))
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [key]",
		Short: "Deletes a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "delete successfully")
			return nil
		},
	}
}

func (a *app) deleteMatchingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-matching [pattern]",
		Short: "Deletes every key matching a regular expression, within the namespace if set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			re, err := regexp.Compile(args[0])
			if err != nil {
				return fmt.Errorf("invalid pattern: %w", err)
			}
			n, err := a.store.DeleteMatching(cmd.Context(), re)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func (a *app) cleanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Removes expired records from every namespace",
		Long: `Removes expired records from every namespace and prints how many were removed.
With --interval the cleanup repeats until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			interval, _ := cmd.Flags().GetDuration("interval") //nolint:errcheck // flag is defined below
			ctx := cmd.Context()

			for {
				n, err := a.store.CleanExpired(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				if interval <= 0 {
					return nil
				}
				slog.Info("cleaned expired records", "removed", n, "next", interval)

				select {
				case <-ctx.Done():
					return nil
				case <-time.After(interval):
				}
			}
		},
	}
	cmd.Flags().Duration("interval", 0, wrapString("repeat the cleanup at this interval until interrupted"))
	return cmd
}

func (a *app) clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Removes every record, regardless of namespace or expiration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.store.Clear(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func (a *app) countCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Prints the number of stored records, expired ones included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.store.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}
