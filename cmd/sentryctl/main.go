// Command sentryctl is the operator CLI: bootstrap-reference,
// trigger-retraining, rollback, and status, each a one-shot connection
// to the same storage the daemon uses. Grounded on the teacher's thin
// cmd/ scaffolding pattern (connect, do one thing, exit) rather than
// its long-running daemon shape.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentrylabs/modelsentry/internal/baseline"
	"github.com/sentrylabs/modelsentry/internal/config"
	"github.com/sentrylabs/modelsentry/internal/domain"
	"github.com/sentrylabs/modelsentry/internal/events"
	"github.com/sentrylabs/modelsentry/internal/ledger"
	"github.com/sentrylabs/modelsentry/internal/lock"
	"github.com/sentrylabs/modelsentry/internal/orchestrator"
	"github.com/sentrylabs/modelsentry/internal/registry"
	"github.com/sentrylabs/modelsentry/internal/storage"
	"github.com/sentrylabs/modelsentry/internal/training"
	sentryerrors "github.com/sentrylabs/modelsentry/pkg/errors"
	"github.com/sentrylabs/modelsentry/pkg/logger"
)

// Exit codes per the operator CLI contract.
const (
	exitOK                 = 0
	exitUnexpectedError    = 1
	exitPreconditionFailed = 2
	exitInvariantViolation = 3
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUnexpectedError)
	}

	cfg, err := config.Load(os.Getenv("SENTRY_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration: %v\n", err)
		os.Exit(exitUnexpectedError)
	}
	zapLogger := logger.Must(logger.Options{Level: cfg.LogLevel, Component: "sentryctl", ModelName: cfg.ModelName})
	defer zapLogger.Sync()

	// bootstrap-reference never touches Postgres; every other subcommand
	// needs the registry/ledger/decision tables.
	if os.Args[1] == "bootstrap-reference" {
		os.Exit(cmdBootstrapReference(cfg, os.Args[2:]))
	}

	db, err := storage.Open(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connecting to postgres: %v\n", err)
		os.Exit(exitUnexpectedError)
	}
	if err := storage.AutoMigrate(db); err != nil {
		fmt.Fprintf(os.Stderr, "migrating schema: %v\n", err)
		os.Exit(exitUnexpectedError)
	}

	ctx := context.Background()
	bus := events.NewBus()
	registryStore := storage.NewRegistryStore(db)
	decisionStore := storage.NewDecisionStore(db)
	reg := registry.New(registryStore, bus)

	switch os.Args[1] {
	case "trigger-retraining":
		ledgerStore := storage.NewLedgerStore(db)
		ldg := ledger.New(ledgerStore)
		os.Exit(cmdTriggerRetraining(ctx, cfg, ldg, reg, decisionStore, bus, zapLogger, os.Args[2:]))
	case "rollback":
		os.Exit(cmdRollback(ctx, reg, os.Args[2:]))
	case "status":
		os.Exit(cmdStatus(ctx, cfg, reg, decisionStore))
	default:
		usage()
		os.Exit(exitUnexpectedError)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sentryctl <bootstrap-reference|trigger-retraining|rollback|status> [args]")
}

// referenceSource is the rows-source file format for bootstrap-reference:
// the feature schema plus the sample rows, in the same shape the
// baseline store itself persists so no conversion step can drift from
// what gets digested.
type referenceSource struct {
	FeatureSchema domain.FeatureSchema `json:"feature_schema"`
	Rows          []domain.FeatureRow  `json:"rows"`
}

func cmdBootstrapReference(cfg *config.Config, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: sentryctl bootstrap-reference <rows-source.json>")
		return exitUnexpectedError
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading rows source: %v\n", err)
		return exitUnexpectedError
	}
	var src referenceSource
	if err := json.Unmarshal(data, &src); err != nil {
		fmt.Fprintf(os.Stderr, "parsing rows source: %v\n", err)
		return exitUnexpectedError
	}

	store := baseline.New(cfg.BaselinePath)
	ref, err := store.Bootstrap(src.FeatureSchema, src.Rows)
	if err != nil {
		if kind, ok := sentryerrors.KindOf(err); ok && kind == sentryerrors.KindConflict {
			fmt.Fprintf(os.Stderr, "bootstrap-reference: %v\n", err)
			return exitPreconditionFailed
		}
		fmt.Fprintf(os.Stderr, "bootstrap-reference: %v\n", err)
		return exitUnexpectedError
	}

	fmt.Printf("reference baseline %s created with %d rows, digest %s\n", ref.ReferenceID, ref.RowCount, ref.ContentDigest)
	return exitOK
}

func cmdTriggerRetraining(ctx context.Context, cfg *config.Config, ldg *ledger.Ledger, reg *registry.Registry, decisionStore *storage.DecisionStore, bus *events.Bus, zapLogger *zap.Logger, args []string) int {
	baselineStore := baseline.New(cfg.BaselinePath)
	var featureOrder []string
	if ref, err := baselineStore.Load(); err == nil {
		for _, col := range ref.FeatureSchema {
			featureOrder = append(featureOrder, col.Name)
		}
	}
	trainer := training.NewLogisticRegressionTrainer(featureOrder)
	locker := lock.NewInMemoryLocker()

	orch := orchestrator.New(cfg.ModelName, cfg, ldg, reg, decisionStore, trainer, locker, orchestrator.NewModelCache(), bus, zapLogger)

	decision, err := orch.TriggerManual(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trigger-retraining: %v\n", err)
		return exitUnexpectedError
	}
	if decision.DecisionID == "" {
		fmt.Println("trigger-retraining: an orchestration for this model is already in flight, skipped")
		return exitOK
	}
	fmt.Printf("decision %s: action=%s reason=%s\n", decision.DecisionID, decision.Action, decision.Reason)
	return exitOK
}

func cmdRollback(ctx context.Context, reg *registry.Registry, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: sentryctl rollback <model_name> <version>")
		return exitUnexpectedError
	}
	modelName, version := args[0], args[1]
	decisionID := uuid.NewString()

	if err := reg.Rollback(ctx, modelName, version, decisionID, time.Now().UTC()); err != nil {
		kind, isTaxonomy := sentryerrors.KindOf(err)
		if isTaxonomy && kind == sentryerrors.KindInvariantViolation {
			fmt.Fprintf(os.Stderr, "rollback: %v\n", err)
			return exitInvariantViolation
		}
		fmt.Fprintf(os.Stderr, "rollback: %v\n", err)
		return exitUnexpectedError
	}

	fmt.Printf("rolled back %s to %s\n", modelName, version)
	return exitOK
}

func cmdStatus(ctx context.Context, cfg *config.Config, reg *registry.Registry, decisionStore *storage.DecisionStore) int {
	current, ok, err := reg.CurrentProduction(ctx, cfg.ModelName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return exitUnexpectedError
	}
	if !ok {
		fmt.Printf("%s: no production model\n", cfg.ModelName)
	} else {
		fmt.Printf("%s: production version %s (f1=%.4f brier=%.4f promoted_at=%s)\n",
			cfg.ModelName, current.Version, current.F1Score, current.BrierScore, current.PromotedAt)
	}

	decisions, err := decisionStore.LastN(ctx, 10)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: listing decisions: %v\n", err)
		return exitUnexpectedError
	}
	fmt.Println("last decisions, grouped by trigger reason:")
	printDecisionsByTriggerReason(decisions)
	return exitOK
}

// printDecisionsByTriggerReason groups LastN's decided_at-DESC rows by
// trigger_reason (§6 supplement: a presentation enrichment with no
// effect on E5 semantics), printing each group in the order its
// trigger_reason first appeared so the most recently active trigger
// leads the table.
func printDecisionsByTriggerReason(decisions []domain.RetrainingDecision) {
	var order []domain.TriggerReason
	grouped := map[domain.TriggerReason][]domain.RetrainingDecision{}
	for _, d := range decisions {
		if _, seen := grouped[d.TriggerReason]; !seen {
			order = append(order, d.TriggerReason)
		}
		grouped[d.TriggerReason] = append(grouped[d.TriggerReason], d)
	}

	for _, reason := range order {
		fmt.Printf("  trigger_reason=%s\n", reason)
		for _, d := range grouped[reason] {
			fmt.Printf("    %s  %-8s  reason=%s\n", d.DecidedAt.Format(time.RFC3339), d.Action, d.Reason)
		}
	}
}
