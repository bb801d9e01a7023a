package storage

import (
	"database/sql"
	"time"

	"github.com/tracefield/tracefield/errors"
)

// Feature value types.
const (
	ValueTypeNumber  = "number"
	ValueTypeText    = "text"
	ValueTypeBoolean = "boolean"
	ValueTypeVector  = "vector"
)

// FeatureDefinition names and types one derivable feature.
type FeatureDefinition struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ValueType string    `json:"value_type"`
	Unit      string    `json:"unit,omitempty"`
	Owner     string    `json:"owner,omitempty"`
	Config    string    `json:"config,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FeatureDefinitionStore provides read access to feature definitions.
// Definitions are created by the ingestion side, not by this pipeline.
type FeatureDefinitionStore struct {
	db DBTX
}

// NewFeatureDefinitionStore creates a new feature definition store.
func NewFeatureDefinitionStore(db DBTX) *FeatureDefinitionStore {
	return &FeatureDefinitionStore{db: db}
}

// GetByName retrieves a feature definition by its unique name.
func (s *FeatureDefinitionStore) GetByName(name string) (*FeatureDefinition, error) {
	query := `
		SELECT id, name, value_type, unit, owner, config, created_at
		FROM feature_definitions WHERE name = ?
	`
	def, err := scanFeatureDefinition(s.db.QueryRow(query, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "feature definition %q", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get feature definition %q", name)
	}
	return def, nil
}

// Get retrieves a feature definition by ID.
func (s *FeatureDefinitionStore) Get(id string) (*FeatureDefinition, error) {
	query := `
		SELECT id, name, value_type, unit, owner, config, created_at
		FROM feature_definitions WHERE id = ?
	`
	def, err := scanFeatureDefinition(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "feature definition %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get feature definition %s", id)
	}
	return def, nil
}

// List returns all feature definitions ordered by name.
func (s *FeatureDefinitionStore) List() ([]*FeatureDefinition, error) {
	query := `
		SELECT id, name, value_type, unit, owner, config, created_at
		FROM feature_definitions ORDER BY name
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list feature definitions")
	}
	defer rows.Close()

	var out []*FeatureDefinition
	for rows.Next() {
		def, err := scanFeatureDefinition(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan feature definition")
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func scanFeatureDefinition(row mappingScanner) (*FeatureDefinition, error) {
	var def FeatureDefinition
	var unit, owner, config sql.NullString
	err := row.Scan(&def.ID, &def.Name, &def.ValueType, &unit, &owner, &config, &def.CreatedAt)
	if err != nil {
		return nil, err
	}
	def.Unit = fromNullString(unit)
	def.Owner = fromNullString(owner)
	def.Config = fromNullString(config)
	return &def, nil
}

// FeatureValue is the latest recorded value of one feature for one entity.
// Exactly one of the typed fields is set, matching the definition's type.
type FeatureValue struct {
	EntityID  string
	Num       *float64
	Text      *string
	Bool      *bool
	Vec       []byte
	CreatedAt time.Time
}

// FeatureStore provides read access to feature values for analysis.
// Features are append-only; readers see the newest value per entity.
type FeatureStore struct {
	db DBTX
}

// NewFeatureStore creates a new feature store.
func NewFeatureStore(db DBTX) *FeatureStore {
	return &FeatureStore{db: db}
}

// TimeWindow restricts feature reads to values recorded in [From, To).
// A zero bound leaves that side open.
type TimeWindow struct {
	From time.Time
	To   time.Time
}

// LatestByDefinition returns the most recent value of one feature for every
// entity that has it, ordered by entity ID so downstream pairing and export
// are deterministic. A non-nil window pins the read to values recorded
// inside it; the newest value within the window wins.
func (s *FeatureStore) LatestByDefinition(definitionID string, window *TimeWindow) ([]*FeatureValue, error) {
	where := `feature_definition_id = ?`
	args := []interface{}{definitionID}
	if window != nil {
		if !window.From.IsZero() {
			where += ` AND created_at >= ?`
			args = append(args, window.From)
		}
		if !window.To.IsZero() {
			where += ` AND created_at < ?`
			args = append(args, window.To)
		}
	}

	query := `
		SELECT entity_id, value_num, value_text, value_bool, value_vec, created_at
		FROM (
			SELECT entity_id, value_num, value_text, value_bool, value_vec, created_at,
			       ROW_NUMBER() OVER (
			           PARTITION BY entity_id
			           ORDER BY created_at DESC, id DESC
			       ) AS rn
			FROM features
			WHERE ` + where + `
		)
		WHERE rn = 1
		ORDER BY entity_id
	`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load feature values for definition %s", definitionID)
	}
	defer rows.Close()

	var out []*FeatureValue
	for rows.Next() {
		var fv FeatureValue
		var num sql.NullFloat64
		var text sql.NullString
		var b sql.NullBool
		if err := rows.Scan(&fv.EntityID, &num, &text, &b, &fv.Vec, &fv.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan feature value")
		}
		if num.Valid {
			v := num.Float64
			fv.Num = &v
		}
		if text.Valid {
			v := text.String
			fv.Text = &v
		}
		if b.Valid {
			v := b.Bool
			fv.Bool = &v
		}
		out = append(out, &fv)
	}
	return out, rows.Err()
}
