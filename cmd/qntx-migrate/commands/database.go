package commands

import (
	"database/sql"
	"slices"

	"github.com/spf13/cobra"

	"github.com/teranos/qntx-migrate/am"
	"github.com/teranos/qntx-migrate/am/geotime"
	"github.com/teranos/qntx-migrate/db"
	"github.com/teranos/qntx-migrate/errors"
	"github.com/teranos/qntx-migrate/logger"
	"github.com/teranos/qntx-migrate/migration"
	"github.com/teranos/qntx-migrate/pulse/schedule"
	"github.com/teranos/qntx-migrate/sym"
)

// AddAll attaches every top-level command to root
func AddAll(root *cobra.Command) {
	root.AddCommand(AmCmd)
	root.AddCommand(DbCmd)
	root.AddCommand(CreateCmd)
	root.AddCommand(UpdateCmd)
	root.AddCommand(LoadCmd)
	root.AddCommand(LsCmd)
	root.AddCommand(ShowCmd)
	root.AddCommand(RunCmd)
	root.AddCommand(CancelCmd)
	root.AddCommand(RequeueCmd)
	root.AddCommand(RescheduleCmd)
	root.AddCommand(UpgradeCmd)
	root.AddCommand(RecoverCmd)
	root.AddCommand(PulseCmd)
	root.AddCommand(TargetsCmd)
	root.AddCommand(VersionCmd)

	// Glyph aliases: `qntx-migrate ꩜ ls` == `qntx-migrate pulse ls`
	for _, cmd := range root.Commands() {
		glyph, ok := sym.CommandToSymbol[cmd.Name()]
		if ok && !slices.Contains(cmd.Aliases, glyph) {
			cmd.Aliases = append(cmd.Aliases, glyph)
		}
	}
}

// openDatabase opens and migrates a database using the specified path.
// If dbPath is empty, it is taken from am config.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := am.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		dbPath = path
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}

// app is the wired runtime shared by commands: the migration service on top of
// the pulse scheduler, both over the same database.
type app struct {
	cfg        *am.Config
	db         *sql.DB
	normalizer *geotime.Normalizer
	callbacks  *schedule.CallbackRegistry
	scheduler  *schedule.Scheduler
	service    *migration.Service
}

func openApp() (*app, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}

	normalizer, err := geotime.NewNormalizer(cfg.Migration.Timezone)
	if err != nil {
		return nil, errors.Wrap(err, "invalid migration.timezone")
	}

	database, err := openDatabase("")
	if err != nil {
		return nil, err
	}

	registry := migration.NewRegistry()
	migration.RegisterSQLiteTargets(registry, database)

	callbacks := schedule.NewCallbackRegistry()
	scheduler := schedule.NewScheduler(database, callbacks, logger.ComponentLogger("pulse"))
	service := migration.NewService(database, registry, scheduler, normalizer, logger.ComponentLogger("migration"))
	callbacks.Register(migration.CallbackName, service.Dispatcher().HandleCallback)

	return &app{
		cfg:        cfg,
		db:         database,
		normalizer: normalizer,
		callbacks:  callbacks,
		scheduler:  scheduler,
		service:    service,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
