// Package export serializes a job's analysis results to CSV or JSON.
// Output is deterministic: rows ordered by feature name pair, stat keys
// sorted, numeric values fixed to 6 decimals, so re-exporting identical
// results is byte-identical.
package export

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"io"
	"sort"
	"strconv"

	"github.com/tracefield/tracefield/errors"
	"github.com/tracefield/tracefield/storage"
)

// Formats accepted by Write.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Row is one exported result with feature IDs resolved to names and its
// stats flattened to a key-value map.
type Row struct {
	FeatureX    string
	FeatureY    string
	PValue      *float64
	EffectSize  *float64
	Correction  string
	Significant *bool
	Stats       map[string]interface{}
}

// Exporter reads a job's results and writes them in a chosen format.
type Exporter struct {
	db *sql.DB
}

// NewExporter creates an exporter.
func NewExporter(db *sql.DB) *Exporter {
	return &Exporter{db: db}
}

// Rows loads a job's results ordered by feature name pair.
func (e *Exporter) Rows(jobID string) ([]*Row, error) {
	results, err := storage.NewResultStore(e.db).ListByJob(jobID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "no results for job %s", jobID)
	}

	defs := storage.NewFeatureDefinitionStore(e.db)
	names := make(map[string]string)
	resolve := func(id string) (string, error) {
		if id == "" {
			return "", nil
		}
		if name, ok := names[id]; ok {
			return name, nil
		}
		def, err := defs.Get(id)
		if err != nil {
			return "", err
		}
		names[id] = def.Name
		return def.Name, nil
	}

	rows := make([]*Row, 0, len(results))
	for _, r := range results {
		row := &Row{
			PValue:      r.PValue,
			EffectSize:  r.EffectSize,
			Correction:  r.Correction,
			Significant: r.Significant,
		}
		if row.FeatureX, err = resolve(r.FeatureXID); err != nil {
			return nil, err
		}
		if row.FeatureY, err = resolve(r.FeatureYID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(r.Stats, &row.Stats); err != nil {
			return nil, errors.Wrapf(err, "corrupt stats for result %s", r.ID)
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(a, b int) bool {
		if rows[a].FeatureX != rows[b].FeatureX {
			return rows[a].FeatureX < rows[b].FeatureX
		}
		return rows[a].FeatureY < rows[b].FeatureY
	})
	return rows, nil
}

// Write serializes rows in the given format.
func (e *Exporter) Write(w io.Writer, jobID, format string) error {
	rows, err := e.Rows(jobID)
	if err != nil {
		return err
	}
	switch format {
	case FormatCSV:
		return WriteCSV(w, rows)
	case FormatJSON:
		return WriteJSON(w, rows)
	default:
		return errors.NewConfigError("unknown export format: %q", format)
	}
}

// statKeys returns the sorted union of stat keys across all rows, so every
// CSV row has the same columns.
func statKeys(rows []*Row) []string {
	seen := make(map[string]bool)
	for _, r := range rows {
		for k := range r.Stats {
			seen[k] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WriteCSV writes rows with a fixed column prefix followed by the sorted
// stat keys.
func WriteCSV(w io.Writer, rows []*Row) error {
	cw := csv.NewWriter(w)

	keys := statKeys(rows)
	header := append([]string{
		"feature_x", "feature_y", "p_value", "effect_size", "correction", "significant",
	}, keys...)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "failed to write csv header")
	}

	for _, r := range rows {
		record := []string{
			r.FeatureX,
			r.FeatureY,
			formatFloatPtr(r.PValue),
			formatFloatPtr(r.EffectSize),
			r.Correction,
			formatBoolPtr(r.Significant),
		}
		for _, k := range keys {
			record = append(record, formatValue(r.Stats[k]))
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrap(err, "failed to write csv row")
		}
	}

	cw.Flush()
	return errors.Wrap(cw.Error(), "failed to flush csv")
}

// WriteJSON writes rows as a JSON array with sorted keys and fixed-precision
// numbers.
func WriteJSON(w io.Writer, rows []*Row) error {
	out := make([]map[string]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		obj := map[string]json.RawMessage{
			"feature_x": mustJSON(r.FeatureX),
		}
		if r.FeatureY != "" {
			obj["feature_y"] = mustJSON(r.FeatureY)
		}
		if r.PValue != nil {
			obj["p_value"] = json.RawMessage(formatFloat(*r.PValue))
		}
		if r.EffectSize != nil {
			obj["effect_size"] = json.RawMessage(formatFloat(*r.EffectSize))
		}
		if r.Correction != "" {
			obj["correction"] = mustJSON(r.Correction)
		}
		if r.Significant != nil {
			obj["significant"] = mustJSON(*r.Significant)
		}
		stats := make(map[string]json.RawMessage, len(r.Stats))
		for k, v := range r.Stats {
			stats[k] = encodeValue(v)
		}
		obj["stats"] = mustJSON(stats)
		out = append(out, obj)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(out), "failed to encode json export")
}

// formatFloat renders a number with exactly 6 decimals.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatBoolPtr(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}

// formatValue renders one stat value for CSV: numbers to 6 decimals,
// everything structured as compact JSON.
func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case float64:
		return formatFloat(t)
	case bool:
		return strconv.FormatBool(t)
	case string:
		return t
	default:
		return string(encodeValue(t))
	}
}

// encodeValue rewrites every number in a decoded JSON value to fixed
// precision, recursing through arrays and objects. Map keys marshal sorted,
// keeping nested output deterministic too.
func encodeValue(v interface{}) json.RawMessage {
	switch t := v.(type) {
	case float64:
		return json.RawMessage(formatFloat(t))
	case []interface{}:
		parts := make([]json.RawMessage, len(t))
		for i, item := range t {
			parts[i] = encodeValue(item)
		}
		return mustJSON(parts)
	case map[string]interface{}:
		obj := make(map[string]json.RawMessage, len(t))
		for k, item := range t {
			obj[k] = encodeValue(item)
		}
		return mustJSON(obj)
	default:
		return mustJSON(v)
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
