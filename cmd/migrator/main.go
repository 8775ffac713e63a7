package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// envOr reads an env var with a fallback so the tool runs against a
// stock local Postgres with no setup.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	up := flag.Bool("up", false, "apply all pending migrations")
	down := flag.Bool("down", false, "roll back all migrations")
	steps := flag.Int("steps", 0, "apply +/- N migrations")
	src := flag.String("path", "db/migrations", "migrations directory")
	flag.Parse()

	host := envOr("DB_HOST", "localhost")
	port := envOr("DB_PORT", "5432")
	user := envOr("DB_USER", "vigil")
	password := os.Getenv("DB_PASSWORD")
	dbname := envOr("DB_NAME", "vigil")
	sslmode := envOr("DB_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, dbname, sslmode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("Migrate driver error: %v", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+*src, "postgres", driver)
	if err != nil {
		log.Fatalf("Migrate init error: %v", err)
	}

	start := time.Now()
	switch {
	case *up:
		log.Println("Applying pending migrations...")
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Migrate up failed: %v", err)
		}
	case *down:
		log.Println("Rolling back all migrations...")
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Migrate down failed: %v", err)
		}
	case *steps != 0:
		log.Printf("Applying %d migration step(s)...", *steps)
		if err := m.Steps(*steps); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Migrate steps failed: %v", err)
		}
	default:
		version, dirty, err := m.Version()
		if err != nil {
			log.Println("No schema version recorded; database looks empty. Use -up, -down or -steps.")
		} else {
			log.Printf("Schema version %d (dirty=%v). Use -up, -down or -steps to change it.", version, dirty)
		}
		return
	}
	log.Printf("Done in %v", time.Since(start))
}
