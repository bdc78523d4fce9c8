// Package db persists published aggregate snapshots to SQLite so refresh
// history survives restarts and can be inspected with plain SQL.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/identity.report/internal/aggregate"
	"github.com/banshee-data/identity.report/internal/ingest"
	"github.com/banshee-data/identity.report/internal/monitoring"
)

type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the SQLite database at path. Schema is
// managed by migrations, not here; call MigrateUp before first use.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serialises internally but a single writer keeps
	// snapshot inserts from interleaving.
	db.SetMaxOpenConns(1)
	return &DB{db}, nil
}

// RefreshRecord is one row of the refresh history.
type RefreshRecord struct {
	ID           string    `json:"id"`
	BuiltAt      time.Time `json:"built_at"`
	PincodeCount int64     `json:"pincode_count"`
	RegionCount  int64     `json:"region_count"`
	BioRows      int64     `json:"bio_rows"`
	DemoRows     int64     `json:"demo_rows"`
	EnrolRows    int64     `json:"enrol_rows"`
	RejectedRows int64     `json:"rejected_rows"`
}

// SaveSnapshot writes one published snapshot: its refresh header plus every
// pincode and region aggregate, in a single transaction.
func (db *DB) SaveSnapshot(snap *aggregate.Snapshot) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	var rejected int64
	for _, rc := range snap.Rejects {
		rejected += rc.Total()
	}
	_, err = tx.Exec(
		`INSERT INTO refreshes (
			id, built_at, pincode_count, region_count,
			bio_rows, demo_rows, enrol_rows, rejected_rows
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.BuiltAt, len(snap.Pincodes), len(snap.Regions),
		snap.RowCounts[ingest.Biometric], snap.RowCounts[ingest.Demographic],
		snap.RowCounts[ingest.Enrolment], rejected,
	)
	if err != nil {
		return fmt.Errorf("insert refresh %s: %w", snap.ID, err)
	}

	pinStmt, err := tx.Prepare(
		`INSERT INTO pincode_aggregates (
			refresh_id, pincode, region, district,
			bio_age_5_17, bio_age_17_plus, demo_age_5_17, demo_age_17_plus,
			enrol_age_0_5, enrol_age_5_17, enrol_age_18_plus, active_days
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare pincode insert: %w", err)
	}
	defer pinStmt.Close()
	for _, p := range snap.Pincodes {
		if _, err := pinStmt.Exec(
			snap.ID, p.Pincode, p.Region, p.District,
			p.BioAge5to17, p.BioAge17Plus, p.DemoAge5to17, p.DemoAge17Plus,
			p.EnrolAge0to5, p.EnrolAge5to17, p.EnrolAge18Plus, p.ActiveDays,
		); err != nil {
			return fmt.Errorf("insert pincode %s: %w", p.Pincode, err)
		}
	}

	regStmt, err := tx.Prepare(
		`INSERT INTO region_aggregates (
			refresh_id, region,
			bio_age_5_17, bio_age_17_plus, demo_age_5_17, demo_age_17_plus,
			enrol_age_0_5, enrol_age_5_17, enrol_age_18_plus,
			pincodes, active_days
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare region insert: %w", err)
	}
	defer regStmt.Close()
	for _, r := range snap.Regions {
		if _, err := regStmt.Exec(
			snap.ID, r.Region,
			r.BioAge5to17, r.BioAge17Plus, r.DemoAge5to17, r.DemoAge17Plus,
			r.EnrolAge0to5, r.EnrolAge5to17, r.EnrolAge18Plus,
			r.Pincodes, r.ActiveDays,
		); err != nil {
			return fmt.Errorf("insert region %s: %w", r.Region, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// Refreshes returns the most recent refresh records, newest first.
func (db *DB) Refreshes(limit int) ([]RefreshRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT id, built_at, pincode_count, region_count,
			bio_rows, demo_rows, enrol_rows, rejected_rows
		FROM refreshes ORDER BY built_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RefreshRecord
	for rows.Next() {
		var r RefreshRecord
		if err := rows.Scan(
			&r.ID, &r.BuiltAt, &r.PincodeCount, &r.RegionCount,
			&r.BioRows, &r.DemoRows, &r.EnrolRows, &r.RejectedRows,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PincodeTrend is one pincode's totals at one refresh.
type PincodeTrend struct {
	RefreshID string           `json:"refresh_id"`
	BuiltAt   time.Time        `json:"built_at"`
	Totals    aggregate.Totals `json:"totals"`
}

// PincodeHistory returns one pincode's totals across the most recent
// refreshes, newest first. Empty result means the pincode was never seen.
func (db *DB) PincodeHistory(pincode string, limit int) ([]PincodeTrend, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := db.Query(
		`SELECT p.refresh_id, r.built_at,
			p.bio_age_5_17, p.bio_age_17_plus, p.demo_age_5_17, p.demo_age_17_plus,
			p.enrol_age_0_5, p.enrol_age_5_17, p.enrol_age_18_plus
		FROM pincode_aggregates p
		JOIN refreshes r ON r.id = p.refresh_id
		WHERE p.pincode = ?
		ORDER BY r.built_at DESC LIMIT ?`, pincode, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PincodeTrend
	for rows.Next() {
		var t PincodeTrend
		if err := rows.Scan(
			&t.RefreshID, &t.BuiltAt,
			&t.Totals.BioAge5to17, &t.Totals.BioAge17Plus,
			&t.Totals.DemoAge5to17, &t.Totals.DemoAge17Plus,
			&t.Totals.EnrolAge0to5, &t.Totals.EnrolAge5to17, &t.Totals.EnrolAge18Plus,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		monitoring.Logf("db: failed to create tailsql server: %v", err)
		return
	}
	tsql.SetDB("sqlite://identity.db", db.DB, &tailsql.DBOptions{
		Label: "Identity analytics DB",
	})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("db: failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
