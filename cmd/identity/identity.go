// Command identity runs the identity-update analytics service: it loads the
// per-pincode record exports, builds aggregates and serves them (plus model
// output) over HTTP.
//
// It also carries a migrate subcommand for schema management:
//
//	identity migrate up|down|status|force <version>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/identity.report/internal/api"
	"github.com/banshee-data/identity.report/internal/config"
	"github.com/banshee-data/identity.report/internal/db"
	"github.com/banshee-data/identity.report/internal/pipeline"
	"github.com/banshee-data/identity.report/internal/regions"
)

var (
	dataDir       = flag.String("data", "./data", "Directory holding the per-family record exports")
	dbFile        = flag.String("db", "identity.db", "SQLite database path (empty disables persistence)")
	listen        = flag.String("listen", ":8080", "Listen address")
	configPath    = flag.String("config", "", "Optional pipeline config JSON")
	migrationsDir = flag.String("migrations", "migrations", "Schema migrations directory")
	refreshOnly   = flag.Bool("refresh-only", false, "Run one refresh, persist it, and exit")
	refreshEvery  = flag.Duration("refresh-every", 0, "Interval between automatic refreshes (0 = manual only)")
)

func main() {
	flag.Parse()

	cfg := config.EmptyPipelineConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadPipelineConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	var database *db.DB
	if *dbFile != "" {
		var err error
		database, err = db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer database.Close()
	}

	if flag.Arg(0) == "migrate" {
		if database == nil {
			log.Fatal("migrate requires a database path")
		}
		runMigrate(database, flag.Args()[1:])
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	if database != nil {
		if err := database.MigrateUp(*migrationsDir); err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}
	}

	p, err := pipeline.New(cfg, regions.DefaultTable())
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	refresh := func() error {
		summary, err := p.Refresh(ctx, *dataDir)
		if err != nil {
			return err
		}
		log.Printf("refresh %s: %d pincodes, %d regions in %v",
			summary.ID, summary.Pincodes, summary.Regions, summary.Duration.Round(time.Millisecond))
		if database != nil {
			snap, err := p.Snapshot()
			if err != nil {
				return err
			}
			if err := database.SaveSnapshot(snap); err != nil {
				return fmt.Errorf("failed to persist snapshot: %w", err)
			}
		}
		return nil
	}

	if err := refresh(); err != nil {
		if *refreshOnly {
			log.Fatalf("refresh failed: %v", err)
		}
		// Boot anyway: the API reports no-snapshot until data appears.
		log.Printf("initial refresh failed: %v", err)
	}
	if *refreshOnly {
		return
	}

	var wg sync.WaitGroup

	if *refreshEvery > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(*refreshEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := refresh(); err != nil {
						log.Printf("scheduled refresh failed: %v", err)
					}
				case <-ctx.Done():
					log.Print("refresh routine terminated")
					return
				}
			}
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(p, database, *dataDir).ServeMux()
		if database != nil {
			database.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

func runMigrate(database *db.DB, args []string) {
	if len(args) == 0 {
		log.Fatal("usage: identity migrate up|down|status|force <version>")
	}
	switch args[0] {
	case "up":
		if err := database.MigrateUp(*migrationsDir); err != nil {
			log.Fatalf("migrate up failed: %v", err)
		}
		log.Print("migrations applied")
	case "down":
		if err := database.MigrateDown(*migrationsDir); err != nil {
			log.Fatalf("migrate down failed: %v", err)
		}
		log.Print("rolled back one migration")
	case "status":
		version, dirty, err := database.MigrateVersion(*migrationsDir)
		if err != nil {
			log.Fatalf("migrate status failed: %v", err)
		}
		latest, err := db.GetLatestMigrationVersion(*migrationsDir)
		if err != nil {
			log.Fatalf("failed to read migrations directory: %v", err)
		}
		log.Printf("version %d (latest %d), dirty=%v", version, latest, dirty)
	case "force":
		if len(args) < 2 {
			log.Fatal("usage: identity migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatalf("invalid version %q", args[1])
		}
		if err := database.MigrateForce(*migrationsDir, version); err != nil {
			log.Fatalf("migrate force failed: %v", err)
		}
		log.Printf("forced version %d", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown migrate command %q\n", args[0])
		os.Exit(2)
	}
}
