// Package store keeps the history of published arena calibrations in SQLite.
package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/projector.arena/internal/calibration"
	"github.com/banshee-data/projector.arena/internal/httputil"
	"github.com/banshee-data/projector.arena/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when no calibration matches a query.
var ErrNotFound = errors.New("calibration not found")

// CalibrationRecord is one published calibration.
type CalibrationRecord struct {
	ID              string               `json:"calibration_id"`
	ArenaSessionID  string               `json:"arena_session_id"`
	Model           calibration.Model    `json:"-"`
	ModelName       string               `json:"model"`
	Matrix          calibration.Matrix   `json:"matrix"`
	Samples         []calibration.Sample `json:"samples"`
	SampleCount     int                  `json:"sample_count"`
	RMSE            float64              `json:"rmse_px"`
	MaxError        float64              `json:"max_error_px"`
	ConditionNumber float64              `json:"condition_number"`
	Quality         calibration.Quality  `json:"quality"`
	CreatedAt       time.Time            `json:"created_at"`
}

// Transform rebuilds the stored forward matrix as a Transform.
func (r *CalibrationRecord) Transform() (*calibration.Transform, error) {
	return calibration.NewTransform(r.Model, r.Matrix)
}

// CalibrationStore is a SQLite-backed calibration history. It implements
// calibration.Recorder.
type CalibrationStore struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the
// embedded migrations.
func Open(path string) (*CalibrationStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open calibration store: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure calibration store: %w", err)
	}
	s := &CalibrationStore{db: db, path: path}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *CalibrationStore) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

func (s *CalibrationStore) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrateVersion returns the applied schema version.
func (s *CalibrationStore) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Close closes the database.
func (s *CalibrationStore) Close() error {
	return s.db.Close()
}

// RecordCalibration implements calibration.Recorder.
func (s *CalibrationStore) RecordCalibration(rec calibration.Record) error {
	_, err := s.Record(rec)
	return err
}

// Record stores a published transform and returns the stored row.
func (s *CalibrationStore) Record(rec calibration.Record) (*CalibrationRecord, error) {
	if rec.Transform == nil {
		return nil, fmt.Errorf("record calibration: nil transform")
	}
	t := rec.Transform
	row := &CalibrationRecord{
		ID:              uuid.New().String(),
		ArenaSessionID:  rec.ArenaSessionID,
		Model:           t.Model(),
		ModelName:       t.Model().String(),
		Matrix:          t.Matrix(),
		Samples:         rec.Samples,
		SampleCount:     t.SampleCount(),
		RMSE:            t.RMSE(),
		MaxError:        t.MaxError(),
		ConditionNumber: t.ConditionNumber(),
		Quality:         t.Quality(),
		CreatedAt:       rec.At,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	matrixJSON, err := json.Marshal(row.Matrix)
	if err != nil {
		return nil, fmt.Errorf("record calibration: %w", err)
	}
	samples := row.Samples
	if samples == nil {
		samples = []calibration.Sample{}
	}
	samplesJSON, err := json.Marshal(samples)
	if err != nil {
		return nil, fmt.Errorf("record calibration: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO arena_calibrations (
			calibration_id, arena_session_id, model, matrix_json, samples_json,
			sample_count, rmse_px, max_error_px, condition_number, quality, created_at_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.ArenaSessionID, row.ModelName, string(matrixJSON), string(samplesJSON),
		row.SampleCount, row.RMSE, row.MaxError, row.ConditionNumber, string(row.Quality),
		row.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("record calibration: %w", err)
	}
	monitoring.Logf("[store] recorded calibration %s for arena %s (%s)", row.ID, row.ArenaSessionID, row.Quality)
	return row, nil
}

const selectColumns = `
	SELECT calibration_id, arena_session_id, model, matrix_json, samples_json,
	       sample_count, rmse_px, max_error_px, condition_number, quality, created_at_ns
	FROM arena_calibrations`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*CalibrationRecord, error) {
	var (
		r                       CalibrationRecord
		matrixJSON, samplesJSON string
		quality                 string
		createdNs               int64
	)
	if err := row.Scan(&r.ID, &r.ArenaSessionID, &r.ModelName, &matrixJSON, &samplesJSON,
		&r.SampleCount, &r.RMSE, &r.MaxError, &r.ConditionNumber, &quality, &createdNs); err != nil {
		return nil, err
	}
	model, err := calibration.ParseModel(r.ModelName)
	if err != nil {
		return nil, fmt.Errorf("calibration %s: %w", r.ID, err)
	}
	r.Model = model
	r.Quality = calibration.Quality(quality)
	r.CreatedAt = time.Unix(0, createdNs)
	if err := json.Unmarshal([]byte(matrixJSON), &r.Matrix); err != nil {
		return nil, fmt.Errorf("calibration %s matrix: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(samplesJSON), &r.Samples); err != nil {
		return nil, fmt.Errorf("calibration %s samples: %w", r.ID, err)
	}
	return &r, nil
}

// ListBySession returns the calibrations recorded for an arena session,
// oldest first.
func (s *CalibrationStore) ListBySession(arenaSessionID string) ([]CalibrationRecord, error) {
	rows, err := s.db.Query(selectColumns+` WHERE arena_session_id = ? ORDER BY created_at_ns, rowid`, arenaSessionID)
	if err != nil {
		return nil, fmt.Errorf("list calibrations: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// Recent returns up to limit calibrations, newest first.
func (s *CalibrationStore) Recent(limit int) ([]CalibrationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(selectColumns+` ORDER BY created_at_ns DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list calibrations: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]CalibrationRecord, error) {
	var out []CalibrationRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Latest returns the most recent calibration, or ErrNotFound.
func (s *CalibrationStore) Latest() (*CalibrationRecord, error) {
	r, err := scanRecord(s.db.QueryRow(selectColumns + ` ORDER BY created_at_ns DESC, rowid DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest calibration: %w", err)
	}
	return r, nil
}

// AttachAdminRoutes mounts tailsql over the history database and a JSON
// listing of recent calibrations on the debug mux.
func (s *CalibrationStore) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.db, &tailsql.DBOptions{
		Label: "Arena calibrations",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("arena-calibrations", "recent arena calibrations (JSON)", func(w http.ResponseWriter, r *http.Request) {
		recs, err := s.Recent(50)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if recs == nil {
			recs = []CalibrationRecord{}
		}
		httputil.WriteJSONOK(w, recs)
	})
	return nil
}
