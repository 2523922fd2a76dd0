// Command migrate applies the spending schema to Postgres. Only needed when
// the gateway is configured with a database DSN instead of the embedded
// bolt store.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "postgres connection string")
	dir := flag.String("path", "migrations", "migrations directory")
	down := flag.Bool("down", false, "roll the schema back instead of forward")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("no database configured: pass -dsn or set DATABASE_URL")
	}

	m, err := migrate.New("file://"+*dir, *dsn)
	if err != nil {
		log.Fatalf("open migrator: %v", err)
	}
	defer m.Close()

	if *down {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migration failed: %v", err)
	}

	version, dirty, _ := m.Version()
	fmt.Printf("schema at version %d (dirty: %v)\n", version, dirty)
}
