// Package migrate upgrades a manager database created by any earlier
// version of the software to the current schema, one transactional step at
// a time.
package migrate

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/joomcode/errorx"

	"github.com/jamesruggles/scanmanager/internal/database"
	"github.com/jamesruggles/scanmanager/internal/manage"
)

// Outcome is the result of a migration request. Its integer value is the
// exit status the command line reports.
type Outcome int

const (
	Error          Outcome = -1
	Migrated       Outcome = 0
	AlreadyCurrent Outcome = 1
	NoPath         Outcome = 2
)

func (o Outcome) String() string {
	switch o {
	case Migrated:
		return "migrated"
	case AlreadyCurrent:
		return "already current"
	case NoPath:
		return "no migration path"
	default:
		return "error"
	}
}

// Migrator runs migration steps against one database.
type Migrator struct {
	db       *database.DB
	steps    []Step
	newUUID  manage.UUIDFunc
	stateDir string
	logger   *slog.Logger
	observer Observer
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithLogger sets the logger the Migrator and its steps write to.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) {
		m.logger = logger
	}
}

// WithUUIDFunc replaces the UUID generator steps use.
func WithUUIDFunc(fn manage.UUIDFunc) Option {
	return func(m *Migrator) {
		m.newUUID = fn
	}
}

// WithStateDir sets the directory holding on-disk report formats.
func WithStateDir(dir string) Option {
	return func(m *Migrator) {
		m.stateDir = dir
	}
}

// WithObserver registers a receiver for step progress events.
func WithObserver(o Observer) Option {
	return func(m *Migrator) {
		m.observer = o
	}
}

// WithSteps replaces the built-in registry.
func WithSteps(s []Step) Option {
	return func(m *Migrator) {
		m.steps = s
	}
}

// New creates a Migrator for db.
func New(db *database.DB, opts ...Option) (*Migrator, error) {
	m := &Migrator{
		db:       db,
		steps:    steps,
		newUUID:  manage.NewUUID,
		logger:   slog.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := validate(m.steps); err != nil {
		return nil, err
	}
	return m, nil
}

// Latest returns the highest version the registry knows about.
func (m *Migrator) Latest() int {
	return len(m.steps) - 1
}

// Version returns the schema version of the database, or -1 when the
// database carries none.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	return database.Version(ctx, m.db)
}

// Reachable reports whether every version after from up to and including to
// has a step.
func (m *Migrator) Reachable(from, to int) bool {
	if from < 0 || to <= from || to >= len(m.steps) {
		return false
	}
	for v := from + 1; v <= to; v++ {
		if m.steps[v].Run == nil {
			return false
		}
	}
	return true
}

// Migrate brings the database to version to. Nothing is written unless
// every step on the way exists. A failed step leaves the database at the
// version the last successful step produced.
func (m *Migrator) Migrate(ctx context.Context, to int) (Outcome, error) {
	current, err := m.Version(ctx)
	if err != nil {
		return Error, ErrStepFailed.Wrap(err, "reading database version")
	}
	if current < 0 {
		return Error, ErrUnknownVersion.New("database carries no version")
	}
	if current == to {
		m.logger.Info("database already at requested version", "version", current)
		return AlreadyCurrent, nil
	}
	if !m.Reachable(current, to) {
		m.logger.Warn("no migration path", "from", current, "to", to)
		return NoPath, nil
	}

	m.logger.Info("migrating database", "from", current, "to", to)
	if err := m.runSteps(ctx, current, to); err != nil {
		m.logger.Error("migration failed", "from", current, "to", to, "error", err)
		return Error, errorx.Decorate(err, "migrating from version %d to %d", current, to)
	}
	m.logger.Info("database migrated", "version", to)
	return Migrated, nil
}

// runSteps applies the steps after from up to and including to, in order,
// stopping at the first failure.
func (m *Migrator) runSteps(ctx context.Context, from, to int) error {
	for v := from + 1; v <= to; v++ {
		if err := m.applyStep(ctx, m.steps[v]); err != nil {
			return err
		}
	}
	return nil
}

// applyStep runs one step in its own exclusive transaction. The version
// check, the step's writes and the version bump commit together or not at
// all.
func (m *Migrator) applyStep(ctx context.Context, step Step) error {
	log := m.logger.With("version", step.Version)
	log.Info("applying migration step", "description", step.Description)
	m.observer.Observe(Event{Kind: StepStarted, Version: step.Version, Description: step.Description})
	start := time.Now()

	tx := &Tx{newUUID: m.newUUID, stateDir: m.stateDir, log: log}
	err := m.commitStep(ctx, step, tx)
	if err != nil && errorx.Cast(err) == nil {
		err = ErrStepFailed.Wrap(err, "step %d (%s)", step.Version, step.Description)
	}

	elapsed := time.Since(start)
	if err != nil {
		tx.rollback()
		m.observer.Observe(Event{
			Kind: StepFailed, Version: step.Version, Description: step.Description,
			Error: err.Error(), Elapsed: elapsed,
		})
		return err
	}
	m.observer.Observe(Event{Kind: StepFinished, Version: step.Version, Description: step.Description, Elapsed: elapsed})
	log.Info("migration step committed", "elapsed", elapsed)

	if step.Vacuum {
		if err := m.db.Vacuum(ctx); err != nil {
			log.Warn("vacuum after migration step failed", "error", err)
		}
	}
	return nil
}

// commitStep runs step inside tx and commits it with the version bump. A
// panic in the step rolls the transaction back, runs the step's undo hooks
// and carries on panicking.
func (m *Migrator) commitStep(ctx context.Context, step Step, tx *Tx) error {
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
	}()

	return m.db.InTx(ctx, func(sqlTx *sql.Tx) error {
		tx.Tx = sqlTx
		current, err := database.Version(ctx, sqlTx)
		if err != nil {
			return ErrStepFailed.Wrap(err, "reading database version")
		}
		if current != step.Version-1 {
			return ErrPrecondition.New("database is at version %d, step upgrades from %d",
				current, step.Version-1).WithProperty(versionProperty, current)
		}

		if err := step.Run(ctx, tx); err != nil {
			return ErrStepFailed.Wrap(err, "step %d (%s)", step.Version, step.Description)
		}
		if err := database.SetVersion(ctx, sqlTx, step.Version); err != nil {
			return ErrStepFailed.Wrap(err, "recording version %d", step.Version)
		}
		return nil
	})
}

// Initialize creates every table of the current schema in a database that
// carries no version yet, records DatabaseVersion and adds the predefined
// resources.
func (m *Migrator) Initialize(ctx context.Context) error {
	err := m.db.InTx(ctx, func(tx *sql.Tx) error {
		current, err := database.Version(ctx, tx)
		if err != nil {
			return ErrStepFailed.Wrap(err, "reading database version")
		}
		if current >= 0 {
			return ErrPrecondition.New("database already at version %d", current).
				WithProperty(versionProperty, current)
		}
		if err := database.CreateTables(ctx, tx); err != nil {
			return ErrStepFailed.Wrap(err, "creating tables")
		}
		if err := database.SetVersion(ctx, tx, DatabaseVersion); err != nil {
			return ErrStepFailed.Wrap(err, "recording version")
		}
		if err := manage.EnsurePredefined(ctx, tx); err != nil {
			return ErrStepFailed.Wrap(err, "creating predefined resources")
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info("database initialized", "version", DatabaseVersion)
	return nil
}
