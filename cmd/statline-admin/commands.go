package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/statline/internal/backup"
	"github.com/scrypster/statline/internal/config"
	"github.com/scrypster/statline/internal/engine"
	"github.com/scrypster/statline/internal/importer"
	"github.com/scrypster/statline/internal/notify"
	"github.com/scrypster/statline/internal/observability"
	"github.com/scrypster/statline/internal/resolver"
	"github.com/scrypster/statline/internal/server"
	"github.com/scrypster/statline/pkg/types"
)

// app holds the global flags shared by every command.
type app struct {
	domainsFile string
	dataPath    string
	logLevel    string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "statline-admin",
		Short: "Manage statline datasets and tool schemas",
		Long: `statline-admin works directly against the configured domain stores.

Environment variables with the STATLINE_ prefix are read first; the
--domains and --data flags override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.domainsFile, "domains", "", "Path to the domains file (overrides STATLINE_DOMAINS_FILE)")
	root.PersistentFlags().StringVar(&a.dataPath, "data", "", "Data directory (overrides STATLINE_DATA_PATH)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "Log level written to stderr")

	root.AddCommand(newLoadCmd(a), newResolveCmd(a), newToolsCmd(a), newRouteCmd(a), newSnapshotCmd(a))
	return root
}

// loadConfig reads the environment and applies the global flags.
func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.domainsFile != "" {
		cfg.Storage.DomainsFile = a.domainsFile
	}
	if a.dataPath != "" {
		cfg.Storage.DataPath = a.dataPath
	}
	a.cfg = cfg
	a.logger = observability.NewLoggerTo(cmd.ErrOrStderr(), a.logLevel, cfg.Logging.Format)
	return nil
}

// withStack opens the domain stores for the duration of fn.
func (a *app) withStack(cmd *cobra.Command, fn func(ctx context.Context, s *server.Stack) error) error {
	if err := a.loadConfig(cmd); err != nil {
		return err
	}
	stack, err := server.NewStack(a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := stack.Close(); err != nil {
			a.logger.Warn("error closing stores", "error", err)
		}
	}()
	return fn(cmd.Context(), stack)
}

func newLoadCmd(a *app) *cobra.Command {
	var (
		domain   string
		snapshot bool
	)
	cmd := &cobra.Command{
		Use:   "load <file|dir>",
		Short: "Replace domain datasets from seed files",
		Long: `Load a YAML or JSON seed file, or every seed file under a directory.

Each file replaces its domain's teams, players, aliases and stats in one
transaction. A running statline-web is notified through the data directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(cmd, func(ctx context.Context, s *server.Stack) error {
				imp := importer.New(s.Domains, notify.NewEventWriter(a.cfg.Storage.DataPath), a.logger)
				if snapshot {
					snaps := backup.NewSnapshotter(a.cfg.Storage.DataPath, backup.RetentionPolicy{}, a.logger)
					imp.SetBeforeLoad(func(ctx context.Context, name string) error {
						dc, ok := s.Domains.Config(name)
						if !ok || dc.Store.Type != config.StoreTypeSQLite {
							a.logger.Info("no snapshot for non-sqlite store", "domain", name)
							return nil
						}
						_, err := snaps.Snapshot(ctx, name, dc.Store.Path)
						return err
					})
				}

				info, err := os.Stat(args[0])
				if err != nil {
					return err
				}
				if !info.IsDir() {
					stats, err := imp.ImportFile(ctx, args[0], domain)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), stats)
				}

				if domain != "" {
					return errors.New("--domain only applies to a single file")
				}
				res, err := imp.ImportDir(ctx, args[0])
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if res.FilesFailed > 0 {
					return fmt.Errorf("%d of %d seed files failed", res.FilesFailed, res.FilesFound)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "Load the file into this domain instead of the one it names")
	cmd.Flags().BoolVar(&snapshot, "snapshot", true, "Snapshot SQLite stores before replacing their rows")
	return cmd
}

func newResolveCmd(a *app) *cobra.Command {
	var (
		domain string
		kind   string
		team   string
		fuzzy  bool
		detail bool
	)
	cmd := &cobra.Command{
		Use:   "resolve <name>",
		Short: "Resolve a team or player name to its canonical entity",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments := map[string]interface{}{
				"name":           strings.Join(args, " "),
				"fuzzy":          fuzzy,
				"include_detail": detail,
			}
			if kind != "" {
				k, err := types.ParseEntityKind(kind)
				if err != nil {
					return err
				}
				arguments["kind"] = string(k)
			}
			if team != "" {
				arguments["team"] = team
			}

			return a.withStack(cmd, func(ctx context.Context, s *server.Stack) error {
				res, err := s.Router.CallTool(ctx, domain, types.ToolInvocation{
					ToolName:  resolver.ToolResolveEntity,
					Arguments: arguments,
				})
				if err != nil {
					return err
				}
				if !res.OK() {
					return fmt.Errorf("%s: %s", res.ErrorKind, res.Error)
				}
				var rr types.ResolutionResult
				if err := json.Unmarshal(res.Data, &rr); err != nil {
					return fmt.Errorf("decoding resolution: %w", err)
				}
				return printJSON(cmd.OutOrStdout(), rr)
			})
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "Domain to resolve in (default: the default domain)")
	cmd.Flags().StringVar(&kind, "kind", "", "Restrict to team or player")
	cmd.Flags().StringVar(&team, "team", "", "Restrict players to a team id")
	cmd.Flags().BoolVar(&fuzzy, "fuzzy", true, "Allow containment matches")
	cmd.Flags().BoolVar(&detail, "detail", false, "Include entity attributes")
	return cmd
}

func newToolsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and refresh domain tool schemas",
	}

	var domain string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the tools available in a domain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(cmd, func(ctx context.Context, s *server.Stack) error {
				name, _, err := s.Router.DetectDomain(ctx, "", domain)
				if err != nil {
					return err
				}
				tools, unavailable := s.Router.AvailableTools(ctx, name, nil)

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tDESCRIPTION")
				for _, t := range tools {
					fmt.Fprintf(w, "%s\t%s\n", t.Name, t.Description)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				if unavailable {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s backend tools are unavailable\n", name)
				}
				return nil
			})
		},
	}
	list.Flags().StringVar(&domain, "domain", "", "Domain to list (default: the default domain)")

	refresh := &cobra.Command{
		Use:   "refresh <domain>",
		Short: "Fetch a domain's tool schemas from its backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(cmd, func(ctx context.Context, s *server.Stack) error {
				name := strings.ToLower(args[0])
				tools, err := s.Registry.Refresh(ctx, name)
				if err != nil {
					return err
				}
				if err := notify.NewEventWriter(a.cfg.Storage.DataPath).Notify(notify.EventSchemasRefreshed, name); err != nil {
					a.logger.Warn("failed to notify schema refresh", "domain", name, "error", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "refreshed %s: %d tools\n", name, len(tools))
				return nil
			})
		},
	}

	cmd.AddCommand(list, refresh)
	return cmd
}

func newRouteCmd(a *app) *cobra.Command {
	var domain string
	cmd := &cobra.Command{
		Use:   "route <text>",
		Short: "Route a natural-language request and print the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStack(cmd, func(ctx context.Context, s *server.Stack) error {
				resp, err := s.Router.Handle(ctx, engine.Request{
					Text:   strings.Join(args, " "),
					Domain: domain,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
	cmd.Flags().StringVar(&domain, "domain", "", "Domain hint (default: detected from the text)")
	return cmd
}

func newSnapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "List, take and restore entity store snapshots",
		Long: `Snapshots are verified copies of a domain's SQLite entity store kept
under the data directory. load takes one automatically before replacing a
domain's rows.`,
	}

	list := &cobra.Command{
		Use:   "list <domain>",
		Short: "List a domain's snapshots, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadConfig(cmd); err != nil {
				return err
			}
			snaps, err := backup.NewSnapshotter(a.cfg.Storage.DataPath, backup.RetentionPolicy{}, a.logger).List(strings.ToLower(args[0]))
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTAKEN\tSIZE")
			for _, sn := range snaps {
				fmt.Fprintf(w, "%s\t%s\t%d\n", filepath.Base(sn.Path), sn.Timestamp.Format(time.RFC3339), sn.Size)
			}
			return w.Flush()
		},
	}

	create := &cobra.Command{
		Use:   "create <domain>",
		Short: "Snapshot a domain's store now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadConfig(cmd); err != nil {
				return err
			}
			name, dbPath, err := a.sqliteStore(args[0])
			if err != nil {
				return err
			}
			snap, err := backup.NewSnapshotter(a.cfg.Storage.DataPath, backup.RetentionPolicy{}, a.logger).Snapshot(cmd.Context(), name, dbPath)
			if err != nil {
				return err
			}
			if snap == nil {
				return fmt.Errorf("%s has no store file yet", name)
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	}

	restore := &cobra.Command{
		Use:   "restore <domain> [snapshot]",
		Short: "Replace a domain's store with a snapshot (default: latest)",
		Long: `Restore copies a snapshot over the domain's SQLite file. Stop any
statline-web or statline-mcp process using the store first.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadConfig(cmd); err != nil {
				return err
			}
			name, dbPath, err := a.sqliteStore(args[0])
			if err != nil {
				return err
			}
			which := "latest"
			if len(args) == 2 {
				which = args[1]
			}
			snap, err := backup.NewSnapshotter(a.cfg.Storage.DataPath, backup.RetentionPolicy{}, a.logger).Restore(cmd.Context(), name, which, dbPath)
			if err != nil {
				return err
			}
			if err := notify.NewEventWriter(a.cfg.Storage.DataPath).Notify(notify.EventDatasetLoaded, name); err != nil {
				a.logger.Warn("failed to notify restore", "domain", name, "error", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s from %s\n", name, filepath.Base(snap.Path))
			return nil
		},
	}

	cmd.AddCommand(list, create, restore)
	return cmd
}

// sqliteStore returns the SQLite file backing domain without opening it.
func (a *app) sqliteStore(domain string) (string, string, error) {
	df, err := config.LoadDomainsFile(a.cfg.Storage.DomainsFile)
	if err != nil {
		return "", "", err
	}
	dc, ok := df.Lookup(domain)
	if !ok {
		return "", "", fmt.Errorf("unknown domain %q", domain)
	}
	if dc.Store.Type != config.StoreTypeSQLite {
		return "", "", fmt.Errorf("%w: %s uses %s", backup.ErrNoStore, dc.Name, dc.Store.Type)
	}
	return dc.Name, dc.Store.Path, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
