// Package dedupe implements conflict-key grouping and configurable
// per-field merge resolution for batches of records.
package dedupe

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mohae/deepcopy"

	"github.com/manupuranic/dataflow-hub/internal/logging"
)

// Strategy selects how a duplicate group collapses to a single record.
type Strategy string

const (
	StrategyFirst   Strategy = "first"
	StrategyLast    Strategy = "last"
	StrategyKeepMax Strategy = "keep_max"
	StrategyMerge   Strategy = "merge"
)

// FieldMergeMode is the per-field policy applied under StrategyMerge.
type FieldMergeMode string

const (
	ModeSum    FieldMergeMode = "sum"
	ModeMax    FieldMergeMode = "max"
	ModeMin    FieldMergeMode = "min"
	ModeAvg    FieldMergeMode = "avg"
	ModeFirst  FieldMergeMode = "first"
	ModeLast   FieldMergeMode = "last"
	ModeConcat FieldMergeMode = "concat"
)

// DefaultPriorityField is the field consulted by StrategyKeepMax when no
// other field is designated.
const DefaultPriorityField = "priority_field"

// nullKeyPart stands in for null/NaN values inside a conflict key.
const nullKeyPart = "<NIL>"

// Key identifies a group of records considered the same logical entity.
// It is a normalized rendering of the key field values, recomputed per
// invocation and never persisted.
type Key string

// IndexedRecord pairs a record with its original position in the input.
type IndexedRecord struct {
	Position int
	Record   map[string]interface{}
}

// Engine groups records by conflict key and collapses each group according
// to its strategy and merge rules.
type Engine struct {
	strategy      Strategy
	mergeRules    map[string]FieldMergeMode
	priorityField string
}

// Option configures an Engine.
type Option func(*Engine)

// WithPriorityField sets the field used by StrategyKeepMax.
func WithPriorityField(field string) Option {
	return func(e *Engine) { e.priorityField = field }
}

// NewEngine creates an Engine. A nil mergeRules map means every field uses
// the default last-non-null mode under StrategyMerge.
func NewEngine(strategy Strategy, mergeRules map[string]FieldMergeMode, opts ...Option) *Engine {
	e := &Engine{
		strategy:      strategy,
		mergeRules:    mergeRules,
		priorityField: DefaultPriorityField,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deduplicate groups records by the conflict key derived from keyFields and
// resolves each group to one record. The returned slice is in grouping order
// (first-seen order of each key). The duplicates report contains every group
// with more than one member, keyed by conflict key; it is informational only.
func (e *Engine) Deduplicate(records []map[string]interface{}, keyFields []string) ([]map[string]interface{}, map[Key][]IndexedRecord) {
	logging.Logf(logging.Debug, "Dedupe: starting deduplication of %d records (strategy: %s, keys: %v)", len(records), e.strategy, keyFields)

	groups := make(map[Key][]IndexedRecord)
	var order []Key
	for idx, record := range records {
		key := ConflictKey(record, keyFields)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], IndexedRecord{Position: idx, Record: record})
	}

	duplicates := make(map[Key][]IndexedRecord)
	for key, members := range groups {
		if len(members) > 1 {
			duplicates[key] = members
		}
	}
	if len(duplicates) > 0 {
		affected := 0
		for _, members := range duplicates {
			affected += len(members)
		}
		logging.Logf(logging.Warning, "Dedupe: found %d duplicate groups affecting %d records", len(duplicates), affected)
	}

	deduped := make([]map[string]interface{}, 0, len(order))
	for _, key := range order {
		members := groups[key]
		if len(members) == 1 {
			deduped = append(deduped, members[0].Record)
			continue
		}
		group := make([]map[string]interface{}, len(members))
		for i, m := range members {
			group[i] = m.Record
		}
		deduped = append(deduped, e.resolve(group))
	}

	logging.Logf(logging.Debug, "Dedupe: completed with %d unique records", len(deduped))
	return deduped, duplicates
}

// ConflictKey derives the normalized conflict key for a record over the
// given fields: strings are trimmed and lower-cased, empty strings and NaN
// coalesce to null, and each part is rendered into a composite key.
func ConflictKey(record map[string]interface{}, keyFields []string) Key {
	parts := make([]string, len(keyFields))
	for i, field := range keyFields {
		parts[i] = keyPart(record[field])
	}
	return Key(strings.Join(parts, "||"))
}

func keyPart(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return nullKeyPart
	case string:
		s := strings.ToLower(strings.TrimSpace(val))
		if s == "" {
			return nullKeyPart
		}
		return s
	case float64:
		if math.IsNaN(val) {
			return nullKeyPart
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		if math.IsNaN(float64(val)) {
			return nullKeyPart
		}
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	default:
		return valueString(v)
	}
}

func (e *Engine) resolve(group []map[string]interface{}) map[string]interface{} {
	switch e.strategy {
	case StrategyFirst:
		return group[0]
	case StrategyLast:
		return group[len(group)-1]
	case StrategyMerge:
		return e.merge(group)
	default: // StrategyKeepMax
		best := group[0]
		bestPriority := priorityOf(best, e.priorityField)
		for _, rec := range group[1:] {
			if p := priorityOf(rec, e.priorityField); p > bestPriority {
				best, bestPriority = rec, p
			}
		}
		return best
	}
}

func priorityOf(record map[string]interface{}, field string) float64 {
	v, ok := record[field]
	if !ok || v == nil {
		return 0
	}
	f, ok := toFloat(v)
	if !ok {
		return 0
	}
	return f
}

// merge unions the field names across the group and resolves each field by
// its merge rule. The base is a deep copy of the last record, so fields not
// touched by the union keep sane values before being overwritten.
func (e *Engine) merge(group []map[string]interface{}) map[string]interface{} {
	merged := deepcopy.Copy(group[len(group)-1]).(map[string]interface{})

	fieldSet := make(map[string]struct{})
	for _, rec := range group {
		for field := range rec {
			fieldSet[field] = struct{}{}
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for field := range fieldSet {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		values := make([]interface{}, len(group))
		for i, rec := range group {
			values[i] = rec[field]
		}
		mode, ok := e.mergeRules[field]
		if !ok {
			mode = ModeLast
		}
		merged[field] = applyMergeMode(values, mode)
	}
	return merged
}

// applyMergeMode collapses the per-record values of one field. Null and NaN
// values are filtered before numeric/concat modes; ModeFirst and ModeLast
// operate on raw (unfiltered) values, skipping nulls only.
func applyMergeMode(values []interface{}, mode FieldMergeMode) interface{} {
	switch mode {
	case ModeFirst:
		for _, v := range values {
			if v != nil {
				return v
			}
		}
		return nil
	case ModeLast:
		for i := len(values) - 1; i >= 0; i-- {
			if values[i] != nil {
				return values[i]
			}
		}
		return nil
	}

	filtered := make([]interface{}, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		if f, isFloat := toFloat(v); isFloat && math.IsNaN(f) {
			continue
		}
		filtered = append(filtered, v)
	}
	if len(filtered) == 0 {
		return nil
	}

	switch mode {
	case ModeSum, ModeAvg:
		sum := 0.0
		n := 0
		for _, v := range filtered {
			if f, ok := toFloat(v); ok {
				sum += f
				n++
			}
		}
		if n == 0 {
			return nil
		}
		if mode == ModeAvg {
			return sum / float64(n)
		}
		return sum
	case ModeMax:
		return extreme(filtered, func(cmp int) bool { return cmp > 0 })
	case ModeMin:
		return extreme(filtered, func(cmp int) bool { return cmp < 0 })
	case ModeConcat:
		parts := make([]string, len(filtered))
		for i, v := range filtered {
			parts[i] = valueString(v)
		}
		return strings.Join(parts, " | ")
	default:
		return filtered[len(filtered)-1]
	}
}

// extreme returns the element that wins every pairwise comparison, where
// better reports whether the comparison result favors the candidate.
func extreme(values []interface{}, better func(int) bool) interface{} {
	best := values[0]
	for _, v := range values[1:] {
		if better(compareValues(v, best)) {
			best = v
		}
	}
	return best
}

// compareValues compares two scalar values, numerically when both coerce to
// floats and lexicographically otherwise.
func compareValues(a, b interface{}) int {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(valueString(a), valueString(b))
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func valueString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32)
	case int:
		return strconv.Itoa(s)
	case int32:
		return strconv.FormatInt(int64(s), 10)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	case time.Time:
		return s.Format("2006-01-02")
	default:
		return fmt.Sprintf("%v", v)
	}
}
