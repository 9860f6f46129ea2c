package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/wrldarena/arena/internal/pkg/env"
)

// migrator is the part of *migrate.Migrate the commands use.
type migrator interface {
	Up() error
	Steps(n int) error
	Migrate(version uint) error
	Version() (version uint, dirty bool, err error)
}

var errUsage = errors.New("unknown command")

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	dbURL := fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true&parseTime=true",
		env.GetEnv("DB_USER", "arena"),
		env.GetEnv("DB_PASSWORD", "arena"),
		env.GetEnv("DB_HOST", "db"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", "arena_db"),
	)

	log.Printf("Connecting to database: %s@%s:%s/%s",
		env.GetEnv("DB_USER", "arena"),
		env.GetEnv("DB_HOST", "db"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", "arena_db"),
	)

	m, err := migrate.New(
		"file://"+env.GetEnv("MIGRATIONS_PATH", "migrations"),
		dbURL,
	)
	if err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}

	msg, err := run(m, os.Args[1:])
	if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
		log.Printf("Failed to close migration resources: %v, %v", sourceErr, dbErr)
	}
	if errors.Is(err, errUsage) {
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
	log.Println(msg)
}

// run executes one command and returns the line to report.
func run(m migrator, args []string) (string, error) {
	if len(args) == 0 {
		return "", errUsage
	}

	switch args[0] {
	case "up":
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			return "No change: database is up to date", nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to apply migrations: %w", err)
		}
		return "Migrations applied", nil

	case "down":
		if err := m.Steps(-1); err != nil {
			return "", fmt.Errorf("failed to roll back the last migration: %w", err)
		}
		return "Rolled back the last migration", nil

	case "goto":
		if len(args) < 2 {
			return "", errors.New("please pass a version number")
		}
		version, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid version number: %w", err)
		}
		err = m.Migrate(uint(version))
		if errors.Is(err, migrate.ErrNoChange) {
			return fmt.Sprintf("No change: database already at version %d", version), nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to migrate to version %d: %w", version, err)
		}
		return fmt.Sprintf("Migrated to version %d", version), nil

	case "status":
		version, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return "No migrations applied yet", nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to read migration version: %w", err)
		}
		dirtyStatus := ""
		if dirty {
			dirtyStatus = " (dirty)"
		}
		return fmt.Sprintf("Current migration version: %d%s", version, dirtyStatus), nil

	default:
		return "", errUsage
	}
}

func printUsage() {
	fmt.Println("Usage: go run cmd/migrate/main.go [command]")
	fmt.Println("Commands:")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the last migration")
	fmt.Println("  goto N - migrate to version N")
	fmt.Println("  status - show the current migration version")
}
