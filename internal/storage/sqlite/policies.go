package sqlite

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fabianr-su/ApproachMDPproject/internal/mdp"
	"github.com/fabianr-su/ApproachMDPproject/internal/policyfile"
	"github.com/fabianr-su/ApproachMDPproject/internal/rollout"
	"github.com/fabianr-su/ApproachMDPproject/pkg/logger"
)

var ErrPolicyNotFound = errors.New("policy not found")

// PolicyRecord describes a stored policy. The table itself is only loaded
// on request.
type PolicyRecord struct {
	Name      string    `json:"name"`
	Aircraft  string    `json:"aircraft"`
	FAF       mdp.FAF   `json:"faf"`
	Entries   int       `json:"entries"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyStorage stores named policies. Each policy table is kept in the same
// msgpack+zstd encoding used for policy files.
type PolicyStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

func NewPolicyStorage(db *sql.DB, log *logger.Logger) *PolicyStorage {
	return &PolicyStorage{
		db:     db,
		logger: log.Named("sqlite-policy"),
	}
}

// SavePolicy inserts or replaces the policy with the given name
func (s *PolicyStorage) SavePolicy(name, aircraft string, faf mdp.FAF, p rollout.MapPolicy) error {
	if name == "" {
		return fmt.Errorf("policy name is required")
	}

	var buf bytes.Buffer
	if err := policyfile.Encode(&buf, aircraft, faf, p); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(
		`INSERT INTO policies
		(name, aircraft, faf_altitude, faf_speed, faf_config, entries, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			aircraft = excluded.aircraft,
			faf_altitude = excluded.faf_altitude,
			faf_speed = excluded.faf_speed,
			faf_config = excluded.faf_config,
			entries = excluded.entries,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		name, aircraft, faf.Altitude, faf.Speed, faf.Config, len(p), buf.Bytes(), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save policy %s: %w", name, err)
	}

	s.logger.Info("Saved policy",
		logger.String("name", name),
		logger.String("aircraft", aircraft),
		logger.Int("entries", len(p)),
		logger.Int("bytes", buf.Len()))
	return nil
}

// LoadPolicy returns the named policy, or ErrPolicyNotFound
func (s *PolicyStorage) LoadPolicy(name string) (*PolicyRecord, rollout.MapPolicy, error) {
	row := s.db.QueryRow(
		`SELECT name, aircraft, faf_altitude, faf_speed, faf_config, entries, data, created_at, updated_at
		FROM policies WHERE name = ?`, name)

	var data []byte
	rec, err := scanPolicy(row, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	} else if err != nil {
		return nil, nil, err
	}

	_, p, err := policyfile.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("policy %s: %w", name, err)
	}
	return rec, p, nil
}

// ListPolicies returns every stored policy without its table, sorted by name
func (s *PolicyStorage) ListPolicies() ([]*PolicyRecord, error) {
	rows, err := s.db.Query(
		`SELECT name, aircraft, faf_altitude, faf_speed, faf_config, entries, NULL, created_at, updated_at
		FROM policies ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query policies: %w", err)
	}
	defer rows.Close()

	var records []*PolicyRecord
	for rows.Next() {
		var data []byte
		rec, err := scanPolicy(rows, &data)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeletePolicy removes the named policy
func (s *PolicyStorage) DeletePolicy(name string) error {
	res, err := s.db.Exec(`DELETE FROM policies WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete policy %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row scanner, data *[]byte) (*PolicyRecord, error) {
	var rec PolicyRecord
	var createdAt, updatedAt string
	if err := row.Scan(
		&rec.Name,
		&rec.Aircraft,
		&rec.FAF.Altitude,
		&rec.FAF.Speed,
		&rec.FAF.Config,
		&rec.Entries,
		data,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan policy: %w", err)
	}

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &rec, nil
}
