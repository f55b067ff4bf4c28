package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fabianr-su/ApproachMDPproject/internal/mdp"
	"github.com/fabianr-su/ApproachMDPproject/internal/rollout"
	"github.com/fabianr-su/ApproachMDPproject/pkg/logger"
)

var ErrRolloutNotFound = errors.New("rollout not found")

// RolloutRecord is a completed rollout
type RolloutRecord struct {
	ID        int64     `json:"id"`
	Policy    string    `json:"policy"`
	Aircraft  string    `json:"aircraft"`
	CreatedAt time.Time `json:"created_at"`
	Start     mdp.State `json:"start"`
	Resolved  mdp.State `json:"resolved"`
	Final     mdp.State `json:"final"`
	FuelUsed  float64   `json:"fuel_used_kg"`
	Steps     int       `json:"steps"`

	// Only populated by GetRollout
	Trajectory *rollout.Trajectory `json:"trajectory,omitempty"`
}

// RolloutStorage keeps a history of rollouts
type RolloutStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

func NewRolloutStorage(db *sql.DB, log *logger.Logger) *RolloutStorage {
	return &RolloutStorage{
		db:     db,
		logger: log.Named("sqlite-rollout"),
	}
}

// StoreRollout saves the trajectory and returns the new record id
func (s *RolloutStorage) StoreRollout(policy, aircraft string, t *rollout.Trajectory) (int64, error) {
	traj, err := json.Marshal(t)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal trajectory: %w", err)
	}
	start, _ := json.Marshal(t.Start)
	resolved, _ := json.Marshal(t.Resolved)
	final, _ := json.Marshal(t.Final)

	result, err := s.db.Exec(
		`INSERT INTO rollouts
		(policy, aircraft, created_at, start, resolved, final, fuel_used, steps, trajectory)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		policy,
		aircraft,
		time.Now().UTC().Format(time.RFC3339),
		string(start),
		string(resolved),
		string(final),
		t.FuelUsed,
		len(t.Steps),
		string(traj),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert rollout: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// GetRollouts returns the most recent rollouts, newest first, without
// their trajectories
func (s *RolloutStorage) GetRollouts(limit, offset int) ([]*RolloutRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, policy, aircraft, created_at, start, resolved, final, fuel_used, steps, NULL
		FROM rollouts
		ORDER BY id DESC
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollouts: %w", err)
	}
	defer rows.Close()

	var records []*RolloutRecord
	for rows.Next() {
		rec, err := scanRollout(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetRollout returns a single rollout including its trajectory
func (s *RolloutStorage) GetRollout(id int64) (*RolloutRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, policy, aircraft, created_at, start, resolved, final, fuel_used, steps, trajectory
		FROM rollouts WHERE id = ?`, id)
	rec, err := scanRollout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRolloutNotFound, id)
	}
	return rec, err
}

func scanRollout(row scanner) (*RolloutRecord, error) {
	var rec RolloutRecord
	var createdAt, start, resolved, final string
	var traj sql.NullString
	if err := row.Scan(
		&rec.ID,
		&rec.Policy,
		&rec.Aircraft,
		&createdAt,
		&start,
		&resolved,
		&final,
		&rec.FuelUsed,
		&rec.Steps,
		&traj,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rollout: %w", err)
	}

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	for _, f := range []struct {
		s   string
		dst *mdp.State
	}{{start, &rec.Start}, {resolved, &rec.Resolved}, {final, &rec.Final}} {
		if err := json.Unmarshal([]byte(f.s), f.dst); err != nil {
			return nil, fmt.Errorf("failed to parse state: %w", err)
		}
	}
	if traj.Valid {
		rec.Trajectory = &rollout.Trajectory{}
		if err := json.Unmarshal([]byte(traj.String), rec.Trajectory); err != nil {
			return nil, fmt.Errorf("failed to parse trajectory: %w", err)
		}
	}
	return &rec, nil
}
