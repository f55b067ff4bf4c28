package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fabianr-su/ApproachMDPproject/internal/flightlog"
	"github.com/fabianr-su/ApproachMDPproject/pkg/logger"
)

var ErrFlightNotFound = errors.New("flight not found")

// FlightStorage stores recorded flights used for overlays
type FlightStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

func NewFlightStorage(db *sql.DB, log *logger.Logger) *FlightStorage {
	return &FlightStorage{
		db:     db,
		logger: log.Named("sqlite-flight"),
	}
}

// StoreFlight replaces any existing samples of the flight
func (s *FlightStorage) StoreFlight(f *flightlog.Flight) error {
	if err := f.Validate(); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM flights WHERE id = ?`, f.ID); err != nil {
		return fmt.Errorf("failed to delete flight %s: %w", f.ID, err)
	}
	if _, err := tx.Exec(`INSERT INTO flights (id, created_at) VALUES (?, ?)`,
		f.ID, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to insert flight %s: %w", f.ID, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO flight_samples
		(flight_id, seq, time, lat, lon, altitude, speed, dist_to_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample insert: %w", err)
	}
	defer stmt.Close()

	for i, smp := range f.Samples {
		if _, err := stmt.Exec(f.ID, i, smp.Time, smp.Lat, smp.Lon, smp.Altitude, smp.Speed, smp.DistToEnd); err != nil {
			return fmt.Errorf("failed to insert sample %d of %s: %w", i, f.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flight %s: %w", f.ID, err)
	}

	s.logger.Debug("Stored flight",
		logger.String("id", f.ID),
		logger.Int("samples", len(f.Samples)))
	return nil
}

// GetFlight returns the flight with its samples in recorded order
func (s *FlightStorage) GetFlight(id string) (*flightlog.Flight, error) {
	rows, err := s.db.Query(
		`SELECT time, lat, lon, altitude, speed, dist_to_end
		FROM flight_samples WHERE flight_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query flight %s: %w", id, err)
	}
	defer rows.Close()

	f := &flightlog.Flight{ID: id}
	for rows.Next() {
		var smp flightlog.Sample
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&smp.Time, &lat, &lon, &smp.Altitude, &smp.Speed, &smp.DistToEnd); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		smp.Lat, smp.Lon = lat.Float64, lon.Float64
		f.Samples = append(f.Samples, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(f.Samples) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrFlightNotFound, id)
	}
	return f, nil
}

// ListFlightIDs returns the ids of all stored flights
func (s *FlightStorage) ListFlightIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM flights ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query flights: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan flight id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
