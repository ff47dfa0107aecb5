package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neomorfeo/lifecycled/internal/adapter/fsm"
	lcotel "github.com/neomorfeo/lifecycled/internal/adapter/otel"
	lcriver "github.com/neomorfeo/lifecycled/internal/adapter/river"
	"github.com/neomorfeo/lifecycled/internal/adapter/sqlite"
	"github.com/neomorfeo/lifecycled/internal/app"
	"github.com/neomorfeo/lifecycled/internal/config"
	"github.com/neomorfeo/lifecycled/internal/domain"
)

// stack is the wired application: store, queue, engine and services.
type stack struct {
	logger    *slog.Logger
	telemetry *lcotel.Providers
	db        *sql.DB
	store     *sqlite.Store
	client    *lcriver.Client
	engine    *app.Engine
	watchdog  *app.Watchdog
	service   *app.LifeCycleService
}

// openStack wires every component over the configured database. With
// withWorker set the river client also runs stage jobs; otherwise it only
// inserts them.
func openStack(ctx context.Context, cfg *config.Config, logger *slog.Logger, withWorker bool) (*stack, error) {
	telemetry, err := lcotel.Setup(ctx, lcotel.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		Exporter:       cfg.Telemetry.Exporter,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	s := &stack{logger: logger, telemetry: telemetry}
	if err := s.wire(ctx, cfg, withWorker); err != nil {
		return nil, errors.Join(err, s.Close(context.Background()))
	}
	return s, nil
}

func (s *stack) wire(ctx context.Context, cfg *config.Config, withWorker bool) error {
	db, err := lcotel.OpenDB(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	s.db = db

	s.store, err = sqlite.NewFromDB(db)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}

	var executor domain.StageExecutor
	if withWorker {
		runner := app.NewStageRunner(app.RunnerConfig{
			Definitions: s.store,
			Instances:   s.store,
			Validator:   fsm.New(),
			Subjects:    newSubjectRegistry(cfg),
			Handlers:    builtinHandlers(s.logger),
			MaxAttempts: cfg.Executor.MaxAttempts,
			Logger:      s.logger,
		})
		executor, err = lcotel.NewTracingExecutor(runner)
		if err != nil {
			return err
		}
	}

	s.client, err = lcriver.Setup(ctx, db, executor, cfg.Executor.Workers)
	if err != nil {
		return fmt.Errorf("queue: %w", err)
	}

	scheduler, err := lcotel.NewTracingScheduler(lcriver.NewScheduler(s.client, s.logger))
	if err != nil {
		return err
	}
	claims, err := lcotel.NewTracingClaimStore(s.store)
	if err != nil {
		return err
	}

	s.engine = app.NewEngine(claims, scheduler, app.EngineConfig{
		PageSize:   cfg.Engine.PageSize,
		WindowLead: cfg.Engine.WindowLead.Std(),
	}, app.WithLogger(s.logger))
	s.watchdog = app.NewWatchdog(s.store, scheduler, cfg.Engine.PageSize, s.logger)
	s.service = app.NewLifeCycleService(s.store, s.store)

	return nil
}

// Close releases the database and flushes telemetry.
func (s *stack) Close(ctx context.Context) error {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	} else if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.telemetry != nil {
		errs = append(errs, s.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// newSubjectRegistry registers every configured subject type. This binary
// has no entity models of its own, so subjects resolve to their reference.
func newSubjectRegistry(cfg *config.Config) *app.SubjectRegistry {
	registry := app.NewSubjectRegistry(cfg.Subjects.CustomMapping, cfg.Subjects.Mapping)
	for _, subjectType := range cfg.Subjects.Types {
		registry.Register(subjectType, app.SubjectResolverFunc(func(_ context.Context, id string) (any, error) {
			return domain.SubjectRef{Type: subjectType, ID: id}, nil
		}))
	}
	return registry
}

// builtinHandlers are the stage handlers available without embedding lifecycled.
func builtinHandlers(logger *slog.Logger) map[string]app.StageHandler {
	return map[string]app.StageHandler{
		"noop": app.StageHandlerFunc(func(context.Context, app.StageContext) error { return nil }),
		"log": app.StageHandlerFunc(func(ctx context.Context, sc app.StageContext) error {
			logger.InfoContext(ctx, "stage reached",
				"instance_id", sc.Instance.ID,
				"stage_order", sc.Stage.Order,
				"subject", sc.Subject,
				"payload", string(sc.Instance.Payload),
			)
			return nil
		}),
	}
}
