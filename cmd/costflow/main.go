/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	// database/sql drivers for SQL billing sources.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/snowflakedb/gosnowflake"

	"github.com/altairalabs/costflow/internal/api"
	"github.com/altairalabs/costflow/internal/crypto"
	"github.com/altairalabs/costflow/internal/pipeline"
	"github.com/altairalabs/costflow/internal/provider"
	"github.com/altairalabs/costflow/internal/providers/aws"
	"github.com/altairalabs/costflow/internal/providers/azure"
	"github.com/altairalabs/costflow/internal/providers/gcp"
	"github.com/altairalabs/costflow/internal/providers/openai"
	"github.com/altairalabs/costflow/internal/registry"
	"github.com/altairalabs/costflow/internal/store"
	"github.com/altairalabs/costflow/pkg/logging"
	"github.com/altairalabs/costflow/pkg/metrics"
)

// flags groups all CLI flags for the costflow binary.
type flags struct {
	apiAddr           string
	metricsAddr       string
	postgresConn      string
	encryptionKey     string
	seedFile          string
	defaultSchedule   string
	schedulerDisabled bool
	strict            bool
	parallelSyncs     int
	extractWorkers    int
	loadBatchSize     int
	blobHorizon       time.Duration
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.apiAddr, "api-addr", ":8080", "API server listen address")
	flag.StringVar(&f.metricsAddr, "metrics-addr", ":9090", "Metrics server listen address")
	flag.StringVar(&f.postgresConn, "postgres-conn", "", "Postgres connection string")
	flag.StringVar(&f.encryptionKey, "encryption-key", "", "Base64 AES-256 key for credential sealing")
	flag.StringVar(&f.seedFile, "seed-file", "", "YAML file of providers to create at startup")
	flag.StringVar(&f.defaultSchedule, "default-schedule", pipeline.DefaultSchedule, "Cron schedule for providers without sync_schedule")
	flag.BoolVar(&f.schedulerDisabled, "scheduler-disabled", false, "Disable scheduled syncs")
	flag.BoolVar(&f.strict, "strict", false, "Reject records that fail validation instead of loading them")
	flag.IntVar(&f.parallelSyncs, "parallel-syncs", 4, "Maximum providers syncing at once")
	flag.IntVar(&f.extractWorkers, "extract-workers", 4, "Concurrent source extractions per run")
	flag.IntVar(&f.loadBatchSize, "load-batch-size", 500, "Records per load transaction")
	flag.DurationVar(&f.blobHorizon, "blob-horizon", 30*24*time.Hour, "Retention for processed raw payloads")
	flag.Parse()

	f.applyEnvFallbacks()
	return f
}

// applyEnvFallbacks applies environment variable overrides to flag defaults.
func (f *flags) applyEnvFallbacks() {
	envFallback(&f.apiAddr, ":8080", "API_ADDR")
	envFallback(&f.metricsAddr, ":9090", "METRICS_ADDR")
	envFallback(&f.postgresConn, "", "POSTGRES_CONN")
	envFallback(&f.encryptionKey, "", "AUTH_ENCRYPTION_KEY")
	envFallback(&f.seedFile, "", "SEED_FILE")
	envFallback(&f.defaultSchedule, pipeline.DefaultSchedule, "SYNC_SCHEDULE")

	envBoolFallback(&f.schedulerDisabled, "SCHEDULER_DISABLED")
	envBoolFallback(&f.strict, "STRICT_VALIDATION")
}

// envFallback sets *dst from the environment variable envKey when *dst still
// equals the default value and the environment variable is non-empty.
func envFallback(dst *string, defaultVal, envKey string) {
	if *dst == defaultVal {
		if v := os.Getenv(envKey); v != "" {
			*dst = v
		}
	}
}

// envBoolFallback enables a boolean flag from an environment variable when the
// flag is still false and the env var is "true".
func envBoolFallback(dst *bool, envKey string) {
	if !*dst && os.Getenv(envKey) == "true" {
		*dst = true
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	f := parseFlags()

	// --- Logger ---
	log, syncLog, err := logging.NewLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer syncLog()

	// --- Validate ---
	if f.postgresConn == "" {
		return fmt.Errorf("--postgres-conn or POSTGRES_CONN is required")
	}

	// --- Signal context ---
	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	// --- Credential sealer ---
	sealer, err := buildSealer(f.encryptionKey, log)
	if err != nil {
		return err
	}

	// --- Migrations ---
	if err := runMigrations(f.postgresConn, log); err != nil {
		return err
	}
	log.V(1).Info("migrations complete")

	// --- Billing store ---
	storeCfg := store.DefaultConfig()
	storeCfg.ConnString = f.postgresConn
	st, err := store.New(storeCfg, sealer)
	if err != nil {
		return err
	}
	defer st.Close()

	// --- Provider registry ---
	reg := registry.New()
	for _, register := range []func(*registry.Registry) error{
		openai.Register, aws.Register, azure.Register, gcp.Register,
	} {
		if err := register(reg); err != nil {
			return fmt.Errorf("registering provider types: %w", err)
		}
	}
	log.V(1).Info("provider types registered", "types", reg.Types())

	// --- Seed providers ---
	if f.seedFile != "" {
		if err := seedProviders(ctx, f.seedFile, st, log); err != nil {
			return err
		}
	}

	// --- Pipeline ---
	pm := metrics.NewPipelineMetrics()

	coordCfg := pipeline.DefaultConfig()
	coordCfg.Workers = f.extractWorkers
	coordCfg.LoadBatchSize = f.loadBatchSize
	coordCfg.BlobHorizon = f.blobHorizon
	coordCfg.Strict = f.strict
	coord := pipeline.NewCoordinator(st, reg, coordCfg, pm, log)
	svc := pipeline.NewService(st, reg, coord, f.parallelSyncs, log)

	// --- Scheduler ---
	var sched *pipeline.Scheduler
	if !f.schedulerDisabled {
		sched = pipeline.NewScheduler(svc, st, f.defaultSchedule, log)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
	}

	// --- Metrics server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: f.metricsAddr, Handler: metricsMux}
	go func() {
		log.Info("starting server", "server", "metrics", "addr", f.metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "server error", "server", "metrics")
		}
	}()

	log.Info("costflow ready",
		"api", f.apiAddr,
		"metrics", f.metricsAddr,
		"scheduler", !f.schedulerDisabled,
		"parallelSyncs", f.parallelSyncs,
	)

	// --- API server (blocks until signal) ---
	apiErr := api.NewServer(st, svc, st, log).Run(ctx, f.apiAddr)

	log.Info("shutting down")
	shutdown(metricsSrv, sched, svc, log)
	return apiErr
}

// buildSealer returns the credential sealer for the configured key. An empty
// key stores credentials in plaintext, which is only acceptable for local
// development.
func buildSealer(encoded string, log logr.Logger) (crypto.Sealer, error) {
	if encoded == "" {
		log.Info("AUTH_ENCRYPTION_KEY not set, provider credentials will be stored unencrypted")
		return crypto.NoopSealer{}, nil
	}
	sealer, err := crypto.NewAESGCMSealerFromBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("parsing encryption key: %w", err)
	}
	return sealer, nil
}

// runMigrations applies database schema migrations.
func runMigrations(connStr string, log logr.Logger) error {
	migrator, err := store.NewMigrator(connStr, log)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	defer migrator.Close()
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// seedSpec is one provider entry in the seed file.
type seedSpec struct {
	Name             string            `yaml:"name"`
	Type             string            `yaml:"type"`
	DisplayName      string            `yaml:"display_name"`
	Endpoint         string            `yaml:"endpoint"`
	Auth             map[string]any    `yaml:"auth"`
	AdditionalConfig map[string]string `yaml:"additional_config"`
	Active           *bool             `yaml:"active"`
}

// seedProviders creates the providers listed in a YAML seed file. Entries
// whose name already exists are left untouched, so the file is safe to apply
// on every start.
func seedProviders(ctx context.Context, path string, st *store.Store, log logr.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}

	var seed struct {
		Providers []seedSpec `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parsing seed file %s: %w", path, err)
	}

	for _, spec := range seed.Providers {
		if spec.Name == "" || spec.Type == "" {
			return fmt.Errorf("seed file %s: every provider needs name and type", path)
		}
		if _, err := st.GetProviderByName(ctx, spec.Name); err == nil {
			log.V(1).Info("seed provider already exists", "name", spec.Name)
			continue
		} else if !errors.Is(err, provider.ErrNotFound) {
			return fmt.Errorf("checking seed provider %s: %w", spec.Name, err)
		}

		auth, err := provider.ParseAuthConfig(spec.Auth)
		if err != nil {
			return fmt.Errorf("seed provider %s: %w", spec.Name, err)
		}

		p := &provider.Provider{
			Name:             spec.Name,
			Type:             provider.Type(spec.Type),
			DisplayName:      spec.DisplayName,
			Endpoint:         spec.Endpoint,
			Auth:             auth,
			AdditionalConfig: spec.AdditionalConfig,
			Active:           spec.Active == nil || *spec.Active,
		}
		if err := st.CreateProvider(ctx, p); err != nil {
			return fmt.Errorf("creating seed provider %s: %w", spec.Name, err)
		}
		log.Info("seed provider created", "name", p.Name, "type", p.Type)
	}
	return nil
}

// shutdown stops the background components after the API server has drained.
func shutdown(metricsSrv *http.Server, sched *pipeline.Scheduler, svc *pipeline.Service, log logr.Logger) {
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()

	if sched != nil {
		sched.Stop()
	}
	if err := svc.Shutdown(shutCtx); err != nil {
		log.Error(err, "pipeline shutdown error")
	}
	if err := metricsSrv.Shutdown(shutCtx); err != nil {
		log.Error(err, "server shutdown error", "server", "metrics")
	}
}
