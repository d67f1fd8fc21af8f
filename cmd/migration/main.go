package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/gushil/kobocat/api/schema"
	"github.com/gushil/kobocat/cmd/migration/versions"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func postgresDsn(uri string) string {
	parts, err := url.Parse(uri)
	if err != nil {
		log.Fatalf("error parsing db uri: %v", err)
	}
	pwd, _ := parts.User.Password()
	dbname := strings.TrimPrefix(parts.Path, "/")
	return fmt.Sprintf("host=%v user=%v password=%v dbname=%v port=%v", parts.Hostname(), parts.User.Username(), pwd, dbname, parts.Port())
}

func openDb(dbType, uri string) *gorm.DB {
	if uri == "" {
		log.Fatalf("Missing --db_uri arg")
	}

	var dialector gorm.Dialector
	switch dbType {
	case "postgres":
		dialector = postgres.Open(postgresDsn(uri))
	case "sqlite":
		dialector = sqlite.Open(uri)
	default:
		log.Fatalf("unsupported --db_type '%v'", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}
	return db
}

func main() {
	dbType := flag.String("db_type", "postgres", "Database type, postgres or sqlite")
	dbUri := flag.String("db_uri", "", "Database URI")
	flag.Parse()

	db := openDb(*dbType, *dbUri)

	migration := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			// Schema as left by the previous backend.
			ID:      "0",
			Migrate: func(*gorm.DB) error { return nil },
		},
		{
			ID:      "1",
			Migrate: versions.Migration_1_normalized_usernames,
			// Not reversible, the original casing collisions are resolved by hand.
		},
		{
			ID:      "2",
			Migrate: versions.Migration_2_note_owner_set_null,
		},
	})

	migration.InitSchema(func(txn *gorm.DB) error {
		log.Println("clean database detected, running full schema initialization")

		return txn.AutoMigrate(schema.AllModels()...)
	})

	if err := migration.Migrate(); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	log.Println("migration completed successfully")
}
