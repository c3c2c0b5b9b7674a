// Command govledger is the CLI for the GovLedger decision ledger: a
// tamper-evident, hash-chained record of every governance decision made
// about autonomous agents.
//
// The ledger and all governance state live under ~/.govledger/:
// config.yaml, ledger.jsonl, index.db, trust.yaml, consents.yaml, and
// budgets.yaml.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/govledger/govledger/internal/audit"
	"github.com/govledger/govledger/internal/config"
	"github.com/govledger/govledger/internal/governance"
	"github.com/govledger/govledger/internal/stream"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-08-28"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// defaultConfigDir returns the path to ~/.govledger/ where all runtime
// state lives.
func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fall back to current directory if home dir can't be determined.
		return ".govledger"
	}
	return filepath.Join(home, ".govledger")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ============================================================================
// Root command
// ============================================================================

// configDir is the global flag for the GovLedger config/state directory.
// Defaults to ~/.govledger/ but can be overridden for testing.
var configDir string

var rootCmd = &cobra.Command{
	Use:   "govledger",
	Short: "GovLedger — tamper-evident decision ledger for AI agents",
	Long: `GovLedger records every governance decision about autonomous agents —
which agent asked to do what, whether it was permitted or denied, and
why — in an append-only hash chain where any retroactive edit is
detectable.

Run 'govledger evaluate' to put a request through the governance
pipeline, 'govledger verify' to check ledger integrity, or 'govledger'
with no arguments for first-run setup.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFirstTimeSetup(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configDir,
		"config-dir",
		defaultConfigDir(),
		"Path to GovLedger config and state directory",
	)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(trustCmd)
	rootCmd.AddCommand(consentCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(configCmd)
}

// runFirstTimeSetup creates the state directory and writes a default
// config.yaml when none exists yet.
func runFirstTimeSetup(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("[govledger] Already set up — config at %s\n", configPath)
		fmt.Println("[govledger] Run 'govledger serve' or 'govledger --help' to get started")
		return nil
	}

	if err := config.WriteDefault(configPath); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	fmt.Printf("[govledger] Created %s\n", configPath)
	fmt.Println("[govledger] Next steps:")
	fmt.Println("  govledger trust set <agent> <level>   assign a trust level")
	fmt.Println("  govledger consent grant <agent> <pattern>   grant consent")
	fmt.Println("  govledger evaluate --agent <agent> --action <action>   run the pipeline")
	fmt.Println("  govledger serve   start the live feed and API")
	return nil
}

// ============================================================================
// Shared wiring helpers
// ============================================================================

// openLedger builds the audit logger from config: storage backend, query
// index, and the disabled flag. Callers must Close() it.
func openLedger(ctx context.Context, cfg *config.Config, onRecord func(audit.Record)) (*audit.Logger, error) {
	opts := audit.Options{
		Disabled: !cfg.Audit.Enabled,
		OnRecord: onRecord,
	}

	if cfg.Audit.Enabled {
		switch cfg.Audit.Backend {
		case "memory":
			store, err := audit.NewMemoryStorage(cfg.Audit.MaxRecords)
			if err != nil {
				return nil, fmt.Errorf("failed to initialize memory ledger: %w", err)
			}
			opts.Storage = store
		default:
			store, err := audit.NewFileStorage(filepath.Join(configDir, "ledger.jsonl"))
			if err != nil {
				return nil, fmt.Errorf("failed to open ledger file: %w", err)
			}
			opts.Storage = store

			if cfg.Audit.Index {
				idx, err := audit.OpenIndex(filepath.Join(configDir, "index.db"))
				if err != nil {
					return nil, fmt.Errorf("failed to open query index: %w", err)
				}
				opts.Index = idx
			}
		}
	}

	return audit.New(ctx, opts)
}

// openStores loads the three governance protocol stores from the state
// directory.
func openStores(cfg *config.Config) (*governance.TrustStore, *governance.BudgetStore, *governance.ConsentStore, error) {
	trust, err := governance.NewTrustStore(
		filepath.Join(configDir, "trust.yaml"),
		governance.Level(cfg.Governance.DefaultTrustLevel))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load trust store: %w", err)
	}
	budgets, err := governance.NewBudgetStore(filepath.Join(configDir, "budgets.yaml"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load budget store: %w", err)
	}
	consents, err := governance.NewConsentStore(filepath.Join(configDir, "consents.yaml"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load consent store: %w", err)
	}
	return trust, budgets, consents, nil
}

// loadConfig ensures the state directory exists and loads config.yaml.
func loadConfig() (*config.Config, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// parseMetadata turns repeated key=value flags into a metadata map.
func parseMetadata(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("metadata %q is not key=value", pair)
		}
		meta[key] = value
	}
	return meta, nil
}

// printRecord formats one ledger record for the terminal. Denials are
// uppercased for visibility.
func printRecord(rec audit.Record) {
	outcome := string(rec.Outcome)
	if rec.Outcome == audit.OutcomeDeny {
		outcome = "DENY"
	}
	line := fmt.Sprintf("[%s] #%-5d agent=%-12s action=%-20s protocol=%-8s %s",
		rec.Timestamp, rec.Sequence, rec.AgentID, rec.Action, rec.Protocol, outcome)
	if rec.Reason != "" {
		line += "  " + rec.Reason
	}
	fmt.Println(line)
}

// ============================================================================
// govledger serve — live feed + REST API
// ============================================================================

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the live decision feed and REST API",
	Long: `Start the GovLedger server. It serves a live WebSocket feed of ledger
records, a REST API for querying and verifying the ledger, and accepts
evaluation requests over HTTP.

The server binds to the address in ~/.govledger/config.yaml (default:
127.0.0.1:3800):
  - Live feed: http://127.0.0.1:3800/
  - API:       http://127.0.0.1:3800/api/...

Governance state files (trust.yaml, consents.yaml, budgets.yaml) are
file-watched: CLI edits take effect without restarting the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

// runServe wires the full stack and blocks until SIGINT/SIGTERM:
//
//  1. Load config from ~/.govledger/config.yaml
//  2. Open the ledger (file or memory backend, optional SQLite index)
//  3. Load the governance protocol stores
//  4. Build the engine and the stream server, wiring the broadcast
//  5. Watch the state directory for hot-reload
//  6. Listen and block until a shutdown signal
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var server *stream.Server
	logger, err := openLedger(context.Background(), cfg, func(rec audit.Record) {
		if server != nil {
			server.Broadcast(rec)
		}
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	trust, budgets, consents, err := openStores(cfg)
	if err != nil {
		return err
	}

	engine, err := governance.NewEngine(trust, budgets, consents, logger,
		governance.Level(cfg.Governance.RequiredTrustLevel))
	if err != nil {
		return fmt.Errorf("failed to build governance engine: %w", err)
	}

	server = stream.New(stream.Options{
		Logger:   logger,
		Engine:   engine,
		Trust:    trust,
		Consents: consents,
		Budgets:  budgets,
	})

	// Hot-reload: the CLI writes the YAML stores, the watcher fires, and
	// the running engine picks up the new state without a restart.
	watcher, err := config.NewWatcher(configDir, config.WatchTargets{
		OnTrustChange: func() {
			if reloadErr := trust.Reload(); reloadErr != nil {
				fmt.Fprintf(os.Stderr, "[govledger] Warning: failed to reload trust store: %v\n", reloadErr)
			}
		},
		OnConsentChange: func() {
			if reloadErr := consents.Reload(); reloadErr != nil {
				fmt.Fprintf(os.Stderr, "[govledger] Warning: failed to reload consent store: %v\n", reloadErr)
			}
		},
		OnBudgetChange: func() {
			if reloadErr := budgets.Reload(); reloadErr != nil {
				fmt.Fprintf(os.Stderr, "[govledger] Warning: failed to reload budget store: %v\n", reloadErr)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start state watcher: %w", err)
	}
	defer watcher.Close()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout — WebSocket feed connections are long-lived.
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("[govledger] Listening on http://%s\n", addr)
		fmt.Println("[govledger] Press Ctrl+C to stop")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\n[govledger] Shutting down...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		fmt.Fprintf(os.Stderr, "[govledger] Shutdown error: %v\n", shutdownErr)
	}

	fmt.Println("[govledger] Stopped")
	return nil
}

// ============================================================================
// govledger record — append one decision directly
// ============================================================================

var (
	recordAgent    string
	recordAction   string
	recordOutcome  string
	recordProtocol string
	recordReason   string
	recordMeta     []string
)

// recordCmd appends a decision made outside the engine — for example by
// an external approval process — so the ledger stays complete.
var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Append a governance decision to the ledger",
	Long: `Append one decision record directly, without running the governance
pipeline. Useful for recording decisions made by an external process.

Example:
  govledger record --agent main --action files:write --outcome permit \
    --protocol trust --reason "approved by operator" --meta ticket=OPS-41`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		logger, err := openLedger(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer logger.Close()

		meta, err := parseMetadata(recordMeta)
		if err != nil {
			return err
		}

		rec, err := logger.Log(ctx,
			audit.DecisionInput{
				Outcome:  audit.Outcome(recordOutcome),
				Protocol: recordProtocol,
				Reason:   recordReason,
			},
			audit.Context{
				AgentID: recordAgent,
				Action:  recordAction,
				Extra:   meta,
			})
		if err != nil {
			return fmt.Errorf("failed to append record: %w", err)
		}
		if rec == nil {
			fmt.Println("[govledger] Audit logging is disabled — nothing recorded")
			return nil
		}

		fmt.Printf("[govledger] Recorded #%d %s\n", rec.Sequence, rec.Hash)
		return nil
	},
}

func init() {
	recordCmd.Flags().StringVar(&recordAgent, "agent", "", "Agent ID (required)")
	recordCmd.Flags().StringVar(&recordAction, "action", "", "Action the decision is about (required)")
	recordCmd.Flags().StringVar(&recordOutcome, "outcome", "", "Decision outcome: permit or deny (required)")
	recordCmd.Flags().StringVar(&recordProtocol, "protocol", "manual", "Protocol that produced the decision")
	recordCmd.Flags().StringVar(&recordReason, "reason", "", "Human-readable reason")
	recordCmd.Flags().StringArrayVar(&recordMeta, "meta", nil, "Metadata key=value (repeatable)")
	recordCmd.MarkFlagRequired("agent")
	recordCmd.MarkFlagRequired("action")
	recordCmd.MarkFlagRequired("outcome")
}

// ============================================================================
// govledger evaluate — run the governance pipeline
// ============================================================================

var (
	evaluateAgent  string
	evaluateAction string
	evaluateCost   float64
	evaluateLevel  string
	evaluateMeta   []string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run a request through the governance pipeline",
	Long: `Evaluate whether an agent may perform an action. The trust, budget, and
consent protocols run in order; each evaluation is recorded in the
ledger, and the first denial stops the pipeline.

Examples:
  govledger evaluate --agent main --action files:read
  govledger evaluate --agent main --action net:fetch --cost 2.5
  govledger evaluate --agent main --action deploy:prod --required-level autonomous`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		logger, err := openLedger(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer logger.Close()

		trust, budgets, consents, err := openStores(cfg)
		if err != nil {
			return err
		}
		engine, err := governance.NewEngine(trust, budgets, consents, logger,
			governance.Level(cfg.Governance.RequiredTrustLevel))
		if err != nil {
			return fmt.Errorf("failed to build governance engine: %w", err)
		}

		meta, err := parseMetadata(evaluateMeta)
		if err != nil {
			return err
		}

		req := governance.Request{
			AgentID:  evaluateAgent,
			Action:   evaluateAction,
			Cost:     evaluateCost,
			Metadata: meta,
		}
		if evaluateLevel != "" {
			level, err := governance.ParseLevel(evaluateLevel)
			if err != nil {
				return err
			}
			req.RequiredLevel = &level
		}

		decision, err := engine.Evaluate(ctx, req)
		if err != nil {
			return fmt.Errorf("evaluation failed: %w", err)
		}

		for _, rec := range decision.Records {
			printRecord(rec)
		}
		if decision.Allowed {
			fmt.Printf("[govledger] PERMIT — %s\n", decision.Reason)
			return nil
		}
		fmt.Printf("[govledger] DENY by %s — %s\n", decision.DeniedBy, decision.Reason)
		return nil
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateAgent, "agent", "", "Agent ID (required)")
	evaluateCmd.Flags().StringVar(&evaluateAction, "action", "", "Action to evaluate (required)")
	evaluateCmd.Flags().Float64Var(&evaluateCost, "cost", 0, "Resource cost debited from the budget on permit")
	evaluateCmd.Flags().StringVar(&evaluateLevel, "required-level", "", "Trust level this action demands (overrides config)")
	evaluateCmd.Flags().StringArrayVar(&evaluateMeta, "meta", nil, "Metadata key=value (repeatable)")
	evaluateCmd.MarkFlagRequired("agent")
	evaluateCmd.MarkFlagRequired("action")
}

// ============================================================================
// govledger query — filtered ledger queries
// ============================================================================

var (
	queryAgent    string
	queryAction   string
	queryOutcome  string
	queryProtocol string
	queryFrom     string
	queryTo       string
	queryLimit    int
	queryOffset   int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query ledger records with filters",
	Long: `Query the decision ledger. Filters combine with AND; time bounds are
RFC 3339 timestamps, --from inclusive and --to exclusive.

Examples:
  govledger query --agent main --outcome deny
  govledger query --protocol budget --from 2026-08-01T00:00:00Z --limit 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		logger, err := openLedger(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer logger.Close()

		records, err := logger.Query(ctx, audit.Filter{
			AgentID:  queryAgent,
			Action:   queryAction,
			Outcome:  audit.Outcome(queryOutcome),
			Protocol: queryProtocol,
			From:     queryFrom,
			To:       queryTo,
			Limit:    queryLimit,
			Offset:   queryOffset,
		})
		if err != nil {
			return fmt.Errorf("ledger query failed: %w", err)
		}

		if len(records) == 0 {
			fmt.Println("No matching records found.")
			return nil
		}
		for _, rec := range records {
			printRecord(rec)
		}
		fmt.Printf("\n%d records found.\n", len(records))
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryAgent, "agent", "", "Filter by agent ID")
	queryCmd.Flags().StringVar(&queryAction, "action", "", "Filter by action")
	queryCmd.Flags().StringVar(&queryOutcome, "outcome", "", "Filter by outcome (permit/deny)")
	queryCmd.Flags().StringVar(&queryProtocol, "protocol", "", "Filter by protocol (trust/budget/consent)")
	queryCmd.Flags().StringVar(&queryFrom, "from", "", "Records at or after this RFC 3339 timestamp")
	queryCmd.Flags().StringVar(&queryTo, "to", "", "Records before this RFC 3339 timestamp")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 50, "Maximum number of records to return")
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "Number of matching records to skip")
}

// ============================================================================
// govledger tail — recent records, optionally following
// ============================================================================

var (
	tailFollowMode bool
	tailLimit      int
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent ledger records",
	Long:  `Show the most recent ledger records. Use -f to follow in real-time (like tail -f).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger, err := openLedger(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer logger.Close()

		records, err := logger.Tail(ctx, tailLimit)
		if err != nil {
			return fmt.Errorf("failed to read ledger: %w", err)
		}
		var lastSeen uint64
		havePrinted := false
		for _, rec := range records {
			printRecord(rec)
			lastSeen = rec.Sequence
			havePrinted = true
		}

		if !tailFollowMode {
			return nil
		}

		// Poll for records another process appends after ours. The file
		// backend re-reads the ledger on every query, so appends from a
		// running server show up here.
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				fresh, err := logger.Query(ctx, audit.Filter{})
				if err != nil {
					return fmt.Errorf("failed to read ledger: %w", err)
				}
				for _, rec := range fresh {
					if havePrinted && rec.Sequence <= lastSeen {
						continue
					}
					printRecord(rec)
					lastSeen = rec.Sequence
					havePrinted = true
				}
			}
		}
	},
}

func init() {
	tailCmd.Flags().BoolVarP(&tailFollowMode, "follow", "f", false, "Follow new records in real-time")
	tailCmd.Flags().IntVarP(&tailLimit, "limit", "n", 20, "Number of recent records to show")
}

// ============================================================================
// govledger verify — chain integrity check
// ============================================================================

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify ledger hash chain integrity",
	Long: `Verify the integrity of the decision ledger. Every record's hash is
recomputed from its contents and checked against the stored value, and
every record must link to its predecessor's hash. Any tampering —
edits, deletions, reordering — breaks the chain at a detectable point.

The file backend verifies back to genesis. The bounded memory backend
verifies the retained window, anchored on the oldest retained record.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		logger, err := openLedger(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer logger.Close()

		result, err := logger.Verify(ctx)
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}

		if result.Valid {
			fmt.Printf("[govledger] Hash chain VALID (%d records verified)\n", result.RecordsChecked)
			return nil
		}

		if result.BrokenAtSequence != nil {
			fmt.Printf("[govledger] Hash chain BROKEN at record #%d\n", *result.BrokenAtSequence)
		} else {
			fmt.Println("[govledger] Hash chain BROKEN")
		}
		fmt.Printf("  Reason:        %s\n", result.Reason)
		fmt.Printf("  Expected hash: %s\n", result.ExpectedHash)
		fmt.Printf("  Actual hash:   %s\n", result.ActualHash)
		return fmt.Errorf("ledger integrity violation detected")
	},
}

// ============================================================================
// govledger export — JSON / CSV / CEF
// ============================================================================

var (
	exportFormat   string
	exportOutput   string
	exportAgent    string
	exportOutcome  string
	exportProtocol string
	exportFrom     string
	exportTo       string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export ledger records",
	Long: `Export ledger records to stdout (or a file) in the given format.
Supported formats: json, csv, cef.

The JSON export carries the full canonical record including hashes, so
an exported ledger can be independently re-verified. The CEF format
targets SIEM ingestion: denials map to severity 7, permits to 3.

Examples:
  govledger export --format csv > decisions.csv
  govledger export --format cef --outcome deny --output denials.cef`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		format, err := audit.ParseFormat(exportFormat)
		if err != nil {
			return err
		}

		logger, err := openLedger(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer logger.Close()

		out := os.Stdout
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			out = f
		}

		filter := &audit.Filter{
			AgentID:  exportAgent,
			Outcome:  audit.Outcome(exportOutcome),
			Protocol: exportProtocol,
			From:     exportFrom,
			To:       exportTo,
		}
		if err := logger.Export(ctx, out, format, filter); err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		if exportOutput != "" {
			fmt.Printf("[govledger] Exported to %s\n", exportOutput)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Export format: json, csv, cef")
	exportCmd.Flags().StringVar(&exportOutput, "output", "", "Write to file instead of stdout")
	exportCmd.Flags().StringVar(&exportAgent, "agent", "", "Filter by agent ID")
	exportCmd.Flags().StringVar(&exportOutcome, "outcome", "", "Filter by outcome (permit/deny)")
	exportCmd.Flags().StringVar(&exportProtocol, "protocol", "", "Filter by protocol")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Records at or after this RFC 3339 timestamp")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Records before this RFC 3339 timestamp")
}

// ============================================================================
// govledger trust — trust level management
// ============================================================================

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage agent trust levels",
	Long: `Trust levels gate how much autonomy an agent has, from observer (0,
may do nothing) to autonomous (5, acts without per-action oversight).
Agents without an assignment use the config default.`,
}

var (
	trustNote    string
	trustExpires string
)

var trustSetCmd = &cobra.Command{
	Use:   "set <agent> <level>",
	Short: "Assign a trust level to an agent",
	Long: `Assign a trust level by name or number:
  0 observer, 1 monitor, 2 suggest, 3 act-with-approval,
  4 act-and-report, 5 autonomous

Examples:
  govledger trust set main act-and-report --note "proven stable"
  govledger trust set probation-bot suggest --expires 168h`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		trust, _, _, err := openStores(cfg)
		if err != nil {
			return err
		}

		level, err := governance.ParseLevel(args[1])
		if err != nil {
			return err
		}

		var expiresAt *time.Time
		if trustExpires != "" {
			d, err := time.ParseDuration(trustExpires)
			if err != nil {
				return fmt.Errorf("invalid --expires duration: %w", err)
			}
			t := time.Now().UTC().Add(d)
			expiresAt = &t
		}

		if err := trust.SetLevel(args[0], level, expiresAt, trustNote); err != nil {
			return fmt.Errorf("failed to set trust level: %w", err)
		}

		msg := fmt.Sprintf("[govledger] Agent %q trust level set to %s", args[0], level)
		if expiresAt != nil {
			msg += " until " + expiresAt.Format(time.RFC3339)
		}
		fmt.Println(msg)
		return nil
	},
}

var trustShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List trust assignments",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		trust, _, _, err := openStores(cfg)
		if err != nil {
			return err
		}

		assignments := trust.List()
		if len(assignments) == 0 {
			fmt.Printf("No trust assignments — all agents default to level %d.\n",
				cfg.Governance.DefaultTrustLevel)
			return nil
		}
		now := time.Now()
		for _, a := range assignments {
			line := fmt.Sprintf("%-16s %d (%s)  updated %s",
				a.Agent, int(a.Level), a.Level, a.UpdatedAt.Format(time.RFC3339))
			if a.ExpiresAt != nil {
				if now.After(*a.ExpiresAt) {
					line += "  EXPIRED " + a.ExpiresAt.Format(time.RFC3339)
				} else {
					line += "  until " + a.ExpiresAt.Format(time.RFC3339)
				}
			}
			if a.Note != "" {
				line += "  — " + a.Note
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	trustSetCmd.Flags().StringVar(&trustNote, "note", "", "Note recorded with the assignment")
	trustSetCmd.Flags().StringVar(&trustExpires, "expires", "", "Assignment lifetime as a duration (e.g. 168h)")
	trustCmd.AddCommand(trustSetCmd)
	trustCmd.AddCommand(trustShowCmd)
}

// ============================================================================
// govledger consent — consent grant management
// ============================================================================

var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Manage consent grants",
	Long: `Consent grants scope what actions an agent may take. Patterns use glob
syntax with ':' as the segment separator: "files:*" covers files:read
and files:write but not files:admin:wipe (use "files:**" for that).`,
}

var (
	consentBy      string
	consentExpires string
	consentNote    string
)

var consentGrantCmd = &cobra.Command{
	Use:   "grant <agent> <pattern>",
	Short: "Grant an agent consent for an action pattern",
	Long: `Examples:
  govledger consent grant main "files:*"
  govledger consent grant main "net:fetch" --expires 24h
  govledger consent grant deploy-bot "deploy:**" --by ops --note "release week"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		_, _, consents, err := openStores(cfg)
		if err != nil {
			return err
		}

		var expiresAt *time.Time
		if consentExpires != "" {
			d, err := time.ParseDuration(consentExpires)
			if err != nil {
				return fmt.Errorf("invalid --expires duration: %w", err)
			}
			t := time.Now().UTC().Add(d)
			expiresAt = &t
		}

		if err := consents.Grant(args[0], args[1], consentBy, expiresAt, consentNote); err != nil {
			return fmt.Errorf("failed to grant consent: %w", err)
		}

		msg := fmt.Sprintf("[govledger] Granted %q consent for %q", args[0], args[1])
		if expiresAt != nil {
			msg += " until " + expiresAt.Format(time.RFC3339)
		}
		fmt.Println(msg)
		return nil
	},
}

var consentRevokeCmd = &cobra.Command{
	Use:   "revoke <agent> <pattern>",
	Short: "Revoke a consent grant",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		_, _, consents, err := openStores(cfg)
		if err != nil {
			return err
		}

		if err := consents.Revoke(args[0], args[1]); err != nil {
			return fmt.Errorf("failed to revoke consent: %w", err)
		}
		fmt.Printf("[govledger] Revoked %q consent for %q\n", args[0], args[1])
		return nil
	},
}

var consentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List consent grants",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		_, _, consents, err := openStores(cfg)
		if err != nil {
			return err
		}

		grants := consents.List()
		if len(grants) == 0 {
			fmt.Println("No consent grants.")
			return nil
		}
		now := time.Now()
		for _, g := range grants {
			line := fmt.Sprintf("%-16s %-24s granted %s", g.Agent, g.Pattern,
				g.GrantedAt.Format(time.RFC3339))
			if g.ExpiresAt != nil {
				if now.After(*g.ExpiresAt) {
					line += "  EXPIRED " + g.ExpiresAt.Format(time.RFC3339)
				} else {
					line += "  until " + g.ExpiresAt.Format(time.RFC3339)
				}
			}
			if g.Note != "" {
				line += "  — " + g.Note
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	consentGrantCmd.Flags().StringVar(&consentBy, "by", "operator", "Who is granting consent")
	consentGrantCmd.Flags().StringVar(&consentExpires, "expires", "", "Grant lifetime as a duration (e.g. 24h, 30m)")
	consentGrantCmd.Flags().StringVar(&consentNote, "note", "", "Note recorded with the grant")
	consentCmd.AddCommand(consentGrantCmd)
	consentCmd.AddCommand(consentRevokeCmd)
	consentCmd.AddCommand(consentListCmd)
}

// ============================================================================
// govledger budget — budget envelope management
// ============================================================================

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Manage agent budget envelopes",
	Long: `Budget envelopes cap an agent's resource spend per period. Spend resets
lazily when the period elapses. Agents without an envelope are not
budget-constrained.`,
}

var budgetPeriod string

var budgetCreateCmd = &cobra.Command{
	Use:   "create <agent> <limit>",
	Short: "Create (or replace) an agent's budget envelope",
	Long: `Example:
  govledger budget create main 100 --period daily`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		_, budgets, _, err := openStores(cfg)
		if err != nil {
			return err
		}

		limit, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid limit %q: %w", args[1], err)
		}
		if err := budgets.Create(args[0], limit, governance.Period(budgetPeriod)); err != nil {
			return fmt.Errorf("failed to create budget: %w", err)
		}

		fmt.Printf("[govledger] Budget for %q: %.2f per %s\n", args[0], limit, budgetPeriod)
		return nil
	},
}

var budgetSpendCmd = &cobra.Command{
	Use:   "spend <agent> <cost>",
	Short: "Debit an agent's budget envelope",
	Long: `Record spend that happened outside the engine, e.g. reconciled from a
provider bill.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		_, budgets, _, err := openStores(cfg)
		if err != nil {
			return err
		}

		cost, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid cost %q: %w", args[1], err)
		}
		if err := budgets.Spend(args[0], cost); err != nil {
			return fmt.Errorf("failed to record spend: %w", err)
		}

		if env, ok := budgets.Get(args[0]); ok {
			fmt.Printf("[govledger] %q spent %.2f of %.2f (%s)\n",
				args[0], env.Spent, env.Limit, env.Period)
		} else {
			fmt.Printf("[govledger] %q has no budget envelope — spend ignored\n", args[0])
		}
		return nil
	},
}

var budgetShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List budget envelopes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		_, budgets, _, err := openStores(cfg)
		if err != nil {
			return err
		}

		envelopes := budgets.List()
		if len(envelopes) == 0 {
			fmt.Println("No budget envelopes — agents are not budget-constrained.")
			return nil
		}
		for _, e := range envelopes {
			fmt.Printf("%-16s %.2f / %.2f %s (period started %s)\n",
				e.Agent, e.Spent, e.Limit, e.Period, e.StartsAt.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	budgetCreateCmd.Flags().StringVar(&budgetPeriod, "period", "daily", "Reset period: daily, weekly, monthly")
	budgetCmd.AddCommand(budgetCreateCmd)
	budgetCmd.AddCommand(budgetSpendCmd)
	budgetCmd.AddCommand(budgetShowCmd)
}

// ============================================================================
// govledger config — show and generate configuration
// ============================================================================

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or generate configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Config directory: %s\n\n", configDir)
		fmt.Printf("server.host:                    %s\n", cfg.Server.Host)
		fmt.Printf("server.port:                    %d\n", cfg.Server.Port)
		fmt.Printf("audit.enabled:                  %v\n", cfg.Audit.Enabled)
		fmt.Printf("audit.backend:                  %s\n", cfg.Audit.Backend)
		fmt.Printf("audit.maxRecords:               %d\n", cfg.Audit.MaxRecords)
		fmt.Printf("audit.index:                    %v\n", cfg.Audit.Index)
		fmt.Printf("governance.defaultTrustLevel:   %d\n", cfg.Governance.DefaultTrustLevel)
		fmt.Printf("governance.requiredTrustLevel:  %d\n", cfg.Governance.RequiredTrustLevel)
		return nil
	},
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a default config.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(configDir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
		}
		path := filepath.Join(configDir, "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists — remove it first to regenerate", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		fmt.Printf("[govledger] Wrote %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGenerateCmd)
}
