// Command seed_table loads an "identifier;displayName" file into a device
// name store, so a host can start with a known table while offline.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/lcalzada-xor/devicenames/internal/adapters/storage"
	"github.com/lcalzada-xor/devicenames/internal/core/domain"
	"github.com/lcalzada-xor/devicenames/internal/core/ports"
	"github.com/lcalzada-xor/devicenames/internal/core/services/devicenames"
)

func main() {
	in := flag.String("in", "-", "Input file (- for stdin)")
	kind := flag.String("store", "sqlite", "Store: sqlite or file")
	dbPath := flag.String("db", "data/devicenames.db", "Path to SQLite database")
	cachePath := flag.String("cache", "data/devicenames.json", "Path to JSON cache file")
	stamp := flag.Int64("stamp", 0, "last_updated to record (unix seconds, 0 = now)")
	force := flag.Bool("force", false, "Overwrite a stored table that is newer than -stamp")
	flag.Parse()

	var store ports.RecordStore
	var err error
	switch *kind {
	case "sqlite":
		store, err = storage.NewSQLiteStore(*dbPath)
	case "file":
		store, err = storage.NewFileStore(*cachePath)
	default:
		log.Fatalf("Unknown store: %s", *kind)
	}
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	body, err := readInput(*in)
	if err != nil {
		log.Fatalf("Failed to read input: %v", err)
	}

	table := devicenames.ParseTable(body)
	log.Printf("Parsed %d device names", len(table))

	lastUpdated := *stamp
	if lastUpdated == 0 {
		lastUpdated = time.Now().Unix()
	}

	ctx := context.Background()
	current, err := store.Load(ctx)
	if err != nil {
		log.Printf("Warning: existing record unreadable, overwriting: %v", err)
	} else if current != nil {
		log.Printf("Current store: %d entries, last updated %s", len(current.Table), current.UpdatedAt().UTC().Format(time.RFC3339))
		if current.LastUpdated > lastUpdated && !*force {
			log.Printf("Stored table is newer than the seed. Use --force to overwrite anyway.")
			return
		}
	}

	if err := store.Save(ctx, domain.Record{Table: table, LastUpdated: lastUpdated}); err != nil {
		log.Fatalf("Failed to save: %v", err)
	}

	log.Printf("Seed complete: %d entries, last updated %s", len(table), time.Unix(lastUpdated, 0).UTC().Format(time.RFC3339))
}

func readInput(path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	}
	b, err := os.ReadFile(path)
	return string(b), err
}
