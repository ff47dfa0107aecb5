package river

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riversqlite"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/neomorfeo/lifecycled/internal/domain"
)

// DefaultMaxWorkers is the stage worker concurrency when none is configured.
const DefaultMaxWorkers = 2

// Setup creates a River client and runs River's internal migrations. With a
// nil executor the client is insert-only, which is all the run command needs.
// Otherwise the stage worker is registered on the default queue and the
// caller must call client.Start() to begin processing jobs and client.Stop()
// for graceful shutdown.
func Setup(ctx context.Context, db *sql.DB, executor domain.StageExecutor, maxWorkers int) (*Client, error) {
	driver := riversqlite.New(db)

	// Run River's own migrations (creates river_job, river_leader, etc.).
	// These are separate from the app's goose migrations.
	migrator, err := rivermigrate.New(driver, nil)
	if err != nil {
		return nil, fmt.Errorf("creating river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return nil, fmt.Errorf("running river migrations: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewStageWorker(executor))

	cfg := &river.Config{Workers: workers}
	if executor != nil {
		if maxWorkers <= 0 {
			maxWorkers = DefaultMaxWorkers
		}
		cfg.Queues = map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		}
	}

	client, err := river.NewClient(driver, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating river client: %w", err)
	}

	return client, nil
}
