package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/containerd/log"
	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/spf13/cobra"

	"github.com/fleetshift/apigw-reconciler/internal/application"
	"github.com/fleetshift/apigw-reconciler/internal/domain"
	"github.com/fleetshift/apigw-reconciler/internal/infrastructure/awsgateway"
	"github.com/fleetshift/apigw-reconciler/internal/infrastructure/dbosworkflows"
	"github.com/fleetshift/apigw-reconciler/internal/infrastructure/goworkflows"
	"github.com/fleetshift/apigw-reconciler/internal/infrastructure/hcldef"
	"github.com/fleetshift/apigw-reconciler/internal/infrastructure/metrics"
	"github.com/fleetshift/apigw-reconciler/internal/infrastructure/sqlite"
	"github.com/fleetshift/apigw-reconciler/internal/infrastructure/syncworkflow"
)

// Gateway backends.
const (
	backendAWS    = "aws"
	backendSQLite = "sqlite"
)

// Workflow engines.
const (
	engineSync        = "sync"
	engineGoWorkflows = "goworkflows"
	engineDBOS        = "dbos"
)

var opts struct {
	file        string
	backend     string
	dbPath      string
	workflowDB  string
	dbosURL     string
	region      string
	accountID   string
	engine      string
	concurrency int
	logLevel    string
	logFormat   string
}

var rootCmd = &cobra.Command{
	Use:           "apigwctl",
	Short:         "Reconcile API Gateway deployments and stages",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		if err := log.SetLevel(opts.logLevel); err != nil {
			return err
		}
		return log.SetFormat(log.OutputFormat(opts.logFormat))
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&opts.file, "file", "f", "apis.hcl", "HCL file declaring the APIs and their stages")
	f.StringVar(&opts.backend, "backend", backendAWS, "gateway backend: aws or sqlite (local emulator)")
	f.StringVar(&opts.dbPath, "db", "apigw-reconciler.db", "SQLite database for pass history and the local emulator")
	f.StringVar(&opts.workflowDB, "workflow-db", "apigw-reconciler-workflows.db", "SQLite database of the goworkflows engine")
	f.StringVar(&opts.dbosURL, "dbos-url", os.Getenv("DBOS_DATABASE_URL"), "Postgres URL of the dbos engine")
	f.StringVar(&opts.region, "region", defaultRegion(), "AWS region")
	f.StringVar(&opts.accountID, "account-id", "", "AWS account ID used in execution ARNs")
	f.StringVar(&opts.engine, "engine", engineSync, "workflow engine: sync, goworkflows or dbos")
	f.IntVar(&opts.concurrency, "concurrency", 4, "maximum number of stages reconciled at once")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	f.StringVar(&opts.logFormat, "log-format", string(log.TextFormat), "log format (text or json)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultRegion() string {
	for _, k := range []string{"AWS_REGION", "AWS_DEFAULT_REGION"} {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return "us-east-1"
}

// env is everything a command needs, built from the flags.
type env struct {
	file    *hcldef.File
	service *application.ReconcileService
	metrics *metrics.Observer
	closers []func()
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

func setup(ctx context.Context) (_ *env, retErr error) {
	e := &env{}
	defer func() {
		if retErr != nil {
			e.Close()
		}
	}()

	file, err := hcldef.Load(opts.file)
	if err != nil {
		return nil, err
	}
	e.file = file

	db, err := sqlite.Open(opts.dbPath)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, func() { _ = db.Close() })

	region := opts.region
	var gw domain.Gateway
	switch opts.backend {
	case backendSQLite:
		emu := &sqlite.Gateway{DB: db}
		for _, api := range file.Summaries() {
			if err := emu.PutAPI(ctx, sqlite.API{ID: api.ID, Name: api.Name, MethodCount: api.MethodCount}); err != nil {
				return nil, fmt.Errorf("seed api %q: %w", api.ID, err)
			}
		}
		gw = emu
	case backendAWS:
		remote, err := awsgateway.New(ctx, opts.region)
		if err != nil {
			return nil, err
		}
		region = remote.Region
		gw = remote
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", domain.ErrInvalidArgument, opts.backend)
	}

	wf := &domain.ReconcileWorkflow{
		Definitions: file,
		Gateway:     gw,
		Conventions: file.Conventions(),
	}
	runner, err := e.runner(ctx, wf)
	if err != nil {
		return nil, err
	}

	e.metrics = metrics.NewObserver()
	e.service = &application.ReconcileService{
		Workflow:  runner,
		Planner:   wf,
		Records:   &sqlite.PassRecordRepo{DB: db},
		Observer:  e.metrics,
		Region:    region,
		AccountID: opts.accountID,
	}
	log.G(ctx).WithFields(log.Fields{
		"file":    opts.file,
		"backend": opts.backend,
		"engine":  opts.engine,
		"region":  region,
	}).Debug("reconciler ready")
	return e, nil
}

func (e *env) runner(ctx context.Context, wf *domain.ReconcileWorkflow) (domain.ReconcileRunner, error) {
	switch opts.engine {
	case engineSync:
		return (&syncworkflow.Engine{}).ReconcileRunner(wf)

	case engineGoWorkflows:
		b := wfsqlite.NewSqliteBackend(opts.workflowDB)
		w := worker.New(b, nil)
		runner, err := (&goworkflows.Engine{Worker: w, Client: client.New(b), Timeout: 5 * time.Minute}).ReconcileRunner(wf)
		if err != nil {
			return nil, err
		}
		wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		if err := w.Start(wctx); err != nil {
			cancel()
			return nil, fmt.Errorf("start workflow worker: %w", err)
		}
		e.closers = append(e.closers, func() {
			cancel()
			_ = w.WaitForCompletion()
		})
		return runner, nil

	case engineDBOS:
		if opts.dbosURL == "" {
			return nil, fmt.Errorf("%w: the dbos engine needs --dbos-url", domain.ErrInvalidArgument)
		}
		dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
			AppName:     "apigw-reconciler",
			DatabaseURL: opts.dbosURL,
		})
		if err != nil {
			return nil, fmt.Errorf("create dbos context: %w", err)
		}
		runner, err := (&dbosworkflows.Engine{DBOSCtx: dbosCtx}).ReconcileRunner(wf)
		if err != nil {
			return nil, err
		}
		if err := dbos.Launch(dbosCtx); err != nil {
			return nil, fmt.Errorf("launch dbos: %w", err)
		}
		e.closers = append(e.closers, func() { dbos.Shutdown(dbosCtx, 5*time.Second) })
		return runner, nil
	}
	return nil, fmt.Errorf("%w: unknown engine %q", domain.ErrInvalidArgument, opts.engine)
}
