package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/asa/internal/config"
	"github.com/nextlevelbuilder/asa/internal/store/sqlite"
	"github.com/nextlevelbuilder/asa/migrations"
)

var migrationsDir string

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the managed-mode Postgres schema",
	}
	cmd.PersistentFlags().StringVar(&migrationsDir, "migrations-dir", "", "directory holding postgres/*.sql (default: next to the binary, then the embedded schema)")

	var steps int
	down := schemaCmd("down", "Roll back migrations", cobra.NoArgs, func(m *migrate.Migrate, _ []string) error {
		return m.Steps(-max(steps, 1))
	})
	down.Flags().IntVarP(&steps, "steps", "n", 1, "number of migrations to roll back")

	cmd.AddCommand(
		schemaCmd("up", "Apply all pending migrations", cobra.NoArgs, func(m *migrate.Migrate, _ []string) error {
			return m.Up()
		}),
		down,
		schemaCmd("goto <version>", "Migrate up or down to a version", cobra.ExactArgs(1), func(m *migrate.Migrate, args []string) error {
			v, err := parseSchemaVersion(args[0])
			if err != nil {
				return err
			}
			return m.Migrate(v)
		}),
		schemaCmd("force <version>", "Record a version without running it (clears the dirty flag)", cobra.ExactArgs(1), func(m *migrate.Migrate, args []string) error {
			v, err := parseSchemaVersion(args[0])
			if err != nil {
				return err
			}
			return m.Force(int(v))
		}),
		schemaCmd("drop", "Drop every table, including conversations (DANGEROUS)", cobra.NoArgs, func(m *migrate.Migrate, _ []string) error {
			return m.Drop()
		}),
		schemaCmd("version", "Print the applied schema version", cobra.NoArgs, nil),
		migrateSQLiteCmd(),
	)
	return cmd
}

// schemaCmd builds a Postgres subcommand. Every variant ends by reporting
// the schema version, so a nil apply just prints it.
func schemaCmd(use, short string, args cobra.PositionalArgs, apply func(*migrate.Migrate, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			name := cmd.Name()
			return withMigrator(func(m *migrate.Migrate) error {
				if apply != nil {
					if err := apply(m, argv); err != nil && !errors.Is(err, migrate.ErrNoChange) {
						return fmt.Errorf("migrate %s: %w", name, err)
					}
				}
				v, dirty, err := m.Version()
				switch {
				case errors.Is(err, migrate.ErrNilVersion):
					fmt.Println("schema: empty")
				case err != nil:
					return fmt.Errorf("read schema version: %w", err)
				default:
					fmt.Printf("schema: version %d, dirty %v\n", v, dirty)
				}
				slog.Info("migrate: done", "op", name, "version", v, "dirty", dirty)
				return nil
			})
		},
	}
}

// withMigrator opens a migrator on ASA_POSTGRES_DSN for the duration of fn.
func withMigrator(fn func(*migrate.Migrate) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.PostgresDSN == "" {
		return errors.New("ASA_POSTGRES_DSN is not set; migrate only manages the Postgres schema (see `asa migrate sqlite`)")
	}
	m, err := openMigrator(schemaDir(), cfg.Database.PostgresDSN)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

// schemaDir is where on-disk Postgres migrations are looked for: the flag,
// then ASA_MIGRATIONS_DIR, then a migrations directory beside the binary.
func schemaDir() string {
	base := migrationsDir
	if base == "" {
		base = os.Getenv("ASA_MIGRATIONS_DIR")
	}
	if base == "" {
		base = "migrations"
		if exe, err := os.Executable(); err == nil {
			base = filepath.Join(filepath.Dir(exe), "migrations")
		}
	}
	return filepath.Join(base, "postgres")
}

// openMigrator prefers SQL files under dir and falls back to the schema
// compiled into the binary.
func openMigrator(dir, dsn string) (*migrate.Migrate, error) {
	var (
		m   *migrate.Migrate
		err error
	)
	if st, statErr := os.Stat(dir); statErr == nil && st.IsDir() {
		m, err = migrate.New("file://"+dir, dsn)
	} else {
		src, srcErr := iofs.New(migrations.FS, "postgres")
		if srcErr != nil {
			return nil, fmt.Errorf("open embedded migrations: %w", srcErr)
		}
		m, err = migrate.NewWithSourceInstance("iofs", src, dsn)
	}
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

func parseSchemaVersion(arg string) (uint, error) {
	v, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid schema version %q: want a positive number", arg)
	}
	return uint(v), nil
}

// migrateSQLiteCmd applies the embedded schema to the standalone database.
// The gateway does this on start; the command exists for provisioning.
func migrateSQLiteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sqlite",
		Short: "Apply pending migrations to the standalone SQLite database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			path := cfg.SQLitePath()
			db, err := sqlite.OpenDB(path)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := sqlite.Migrate(db); err != nil {
				return err
			}
			slog.Info("migrate: sqlite schema up to date", "path", path)
			return nil
		},
	}
}
