// Package worldvault implements the maintenance CLI over a world vault
// database: list, validate, repair, backup, restore, export, import, sync.
package worldvault

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/louisbranch/worldvault/internal/exchange"
	apperrors "github.com/louisbranch/worldvault/internal/platform/errors"
	"github.com/louisbranch/worldvault/internal/recovery"
	"github.com/louisbranch/worldvault/internal/syncsvc"
	"github.com/louisbranch/worldvault/internal/syncsvc/httpremote"
	"github.com/louisbranch/worldvault/internal/vault"
	"github.com/louisbranch/worldvault/internal/worldstore"
	"github.com/louisbranch/worldvault/internal/worldstore/sqlite"
)

// Config holds worldvault command configuration.
type Config struct {
	DBPath     string        `env:"WORLDVAULT_DB_PATH"`
	RemoteURL  string        `env:"WORLDVAULT_REMOTE_URL"`
	Timeout    time.Duration `env:"WORLDVAULT_TIMEOUT" envDefault:"2m"`
	Op         string
	WorldID    string
	BackupID   string
	File       string
	Format     string
	Resolution string
	Strategy   string
	JSONOutput bool
	DryRun     bool
}

type envConfig struct {
	DBPath    string        `env:"WORLDVAULT_DB_PATH"`
	RemoteURL string        `env:"WORLDVAULT_REMOTE_URL"`
	Timeout   time.Duration `env:"WORLDVAULT_TIMEOUT" envDefault:"2m"`
}

// ParseConfig parses environment defaults and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		DBPath:    envCfg.DBPath,
		RemoteURL: envCfg.RemoteURL,
		Timeout:   envCfg.Timeout,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "worlds.db")
	}

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the world vault sqlite database (default: WORLDVAULT_DB_PATH or data/worlds.db)")
	fs.StringVar(&cfg.Op, "op", "", "operation: list|validate|repair|backup|restore|export|import|sync|recover")
	fs.StringVar(&cfg.WorldID, "world", "", "world id the operation targets")
	fs.StringVar(&cfg.BackupID, "backup", "", "backup id for -op restore")
	fs.StringVar(&cfg.File, "file", "", "envelope file for -op export/import (default: stdout/stdin)")
	fs.StringVar(&cfg.Format, "format", string(exchange.FormatJSON), "export format: json|compressed_json|qr_code|backup")
	fs.StringVar(&cfg.Resolution, "resolution", string(exchange.ResolutionPrompt), "import conflict resolution: replace|merge|skip|rename|prompt")
	fs.StringVar(&cfg.Strategy, "strategy", string(syncsvc.StrategyMerge), "sync strategy: last_write_wins|local_wins|remote_wins|merge|manual")
	fs.StringVar(&cfg.RemoteURL, "remote", cfg.RemoteURL, "sync remote base URL (default: WORLDVAULT_REMOTE_URL)")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "for -op restore: resolve without persisting")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the worldvault command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}

	op := strings.TrimSpace(cfg.Op)
	if op == "" {
		return errors.New("-op is required")
	}
	needsWorld := map[string]bool{
		"validate": true, "repair": true, "backup": true,
		"restore": true, "export": true, "sync": true, "recover": true,
	}
	if needsWorld[op] && strings.TrimSpace(cfg.WorldID) == "" {
		return fmt.Errorf("-world is required for -op %s", op)
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			fmt.Fprintf(errOut, "Error: close store: %v\n", closeErr)
		}
	}()

	recoverySvc := recovery.NewService(store)
	exchangeSvc := exchange.NewService(store, exchange.WithBackupper(recoverySvc))

	var syncSvc *syncsvc.Service
	if strings.TrimSpace(cfg.RemoteURL) != "" {
		remote := httpremote.New(cfg.RemoteURL)
		syncSvc = syncsvc.NewService(store, remote, syncsvc.WithBackupper(recoverySvc))
	}

	engine, err := vault.NewEngine(vault.Deps{
		Store:    store,
		Sync:     syncSvc,
		Recovery: recoverySvc,
		Exchange: exchangeSvc,
	})
	if err != nil {
		return err
	}

	switch op {
	case "list":
		return runList(ctx, engine, cfg.JSONOutput, out)
	case "validate":
		return runValidate(ctx, engine, cfg.WorldID, cfg.JSONOutput, out)
	case "repair":
		return runRepair(ctx, engine, cfg.WorldID, out)
	case "backup":
		return runBackup(ctx, engine, cfg.WorldID, out)
	case "restore":
		return runRestore(ctx, engine, cfg, out)
	case "export":
		return runExport(ctx, engine, cfg, out)
	case "import":
		return runImport(ctx, engine, cfg, out)
	case "sync":
		if syncSvc == nil {
			return apperrors.New(apperrors.CodeRemoteAbsent,
				"-remote (or WORLDVAULT_REMOTE_URL) is required for -op sync")
		}
		return runSync(ctx, engine, cfg, out)
	case "recover":
		return runRecover(ctx, recoverySvc, cfg.WorldID, out)
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
}

func runList(ctx context.Context, engine *vault.Engine, jsonOutput bool, out io.Writer) error {
	summaries, err := engine.List(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return json.NewEncoder(out).Encode(summaries)
	}
	for _, s := range summaries {
		fmt.Fprintf(out, "%s\t%s\tv%d\t%s\n", s.ID, s.Name, s.Version, s.LastModified.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "%d world(s)\n", len(summaries))
	return nil
}

func runValidate(ctx context.Context, engine *vault.Engine, worldID string, jsonOutput bool, out io.Writer) error {
	report, err := engine.Validate(ctx, worldID)
	if err != nil {
		return err
	}
	if jsonOutput {
		return json.NewEncoder(out).Encode(report)
	}
	for _, issue := range report.Issues {
		fmt.Fprintf(out, "[%s] %s: %s\n", issue.Severity, issue.Code, issue.Message)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(out, "warning: %s (%s)\n", warning.Message, warning.Recommendation)
	}
	if report.IsValid() {
		fmt.Fprintf(out, "world %s is valid (%d issue(s), %d warning(s))\n",
			worldID, len(report.Issues), len(report.Warnings))
		return nil
	}
	return fmt.Errorf("world %s has critical issues", worldID)
}

func runRepair(ctx context.Context, engine *vault.Engine, worldID string, out io.Writer) error {
	_, applied, err := engine.Repair(ctx, worldID)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintf(out, "world %s needed no repairs\n", worldID)
		return nil
	}
	for _, repair := range applied {
		fmt.Fprintf(out, "applied %s: %s\n", repair.Action, repair.Detail)
	}
	fmt.Fprintf(out, "%d repair(s) applied\n", len(applied))
	return nil
}

func runBackup(ctx context.Context, engine *vault.Engine, worldID string, out io.Writer) error {
	rec, err := engine.Backup(ctx, worldID, worldstore.BackupManual)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "backup %s created (%s, %d -> %d bytes)\n",
		rec.ID, rec.Algorithm, rec.OriginalSize, rec.CompressedSize)
	return nil
}

func runRestore(ctx context.Context, engine *vault.Engine, cfg Config, out io.Writer) error {
	if strings.TrimSpace(cfg.BackupID) == "" {
		return errors.New("-backup is required for -op restore")
	}
	w, err := engine.Restore(ctx, cfg.WorldID, cfg.BackupID, recovery.RestoreOptions{
		Mode:   recovery.RestoreReplace,
		DryRun: cfg.DryRun,
	})
	if err != nil {
		return err
	}
	if cfg.DryRun {
		fmt.Fprintf(out, "dry-run: backup %s restores %q at v%d\n", cfg.BackupID, w.Name, w.Version)
		return nil
	}
	fmt.Fprintf(out, "world %s restored from backup %s\n", cfg.WorldID, cfg.BackupID)
	return nil
}

func runExport(ctx context.Context, engine *vault.Engine, cfg Config, out io.Writer) error {
	envelope, err := engine.Export(ctx, cfg.WorldID, exchange.Format(cfg.Format))
	if err != nil {
		return err
	}
	target := out
	if cfg.File != "" {
		f, err := os.Create(cfg.File)
		if err != nil {
			return err
		}
		defer f.Close()
		target = f
	}
	if err := json.NewEncoder(target).Encode(envelope); err != nil {
		return err
	}
	if cfg.File != "" {
		fmt.Fprintf(out, "world %s exported to %s (%s)\n", cfg.WorldID, cfg.File, cfg.Format)
	}
	return nil
}

func runImport(ctx context.Context, engine *vault.Engine, cfg Config, out io.Writer) error {
	var source io.Reader = os.Stdin
	if cfg.File != "" {
		f, err := os.Open(cfg.File)
		if err != nil {
			return err
		}
		defer f.Close()
		source = f
	}
	var envelope exchange.Envelope
	if err := json.NewDecoder(source).Decode(&envelope); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	result, err := engine.Import(ctx, envelope, exchange.ImportOptions{
		ConflictResolution: exchange.ConflictResolution(cfg.Resolution),
		ValidateSchema:     true,
		CreateBackup:       true,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "world %s %s\n", result.World.ID, result.Action)
	return nil
}

func runSync(ctx context.Context, engine *vault.Engine, cfg Config, out io.Writer) error {
	result, err := engine.Sync(ctx, cfg.WorldID, syncsvc.Strategy(cfg.Strategy))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "world %s sync finished: %s (remote v%d, uploaded=%t)\n",
		cfg.WorldID, result.State, result.RemoteVersion, result.Uploaded)
	return nil
}

func runRecover(ctx context.Context, svc *recovery.Service, worldID string, out io.Writer) error {
	w, err := svc.RecoverWorld(ctx, worldID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "world %s recovered as %q (v%d)\n", worldID, w.Name, w.Version)
	return nil
}
