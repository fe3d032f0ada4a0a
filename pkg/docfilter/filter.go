// Package docfilter evaluates the engine's metadata filter predicates
// against a candidate document and produces the canonical fingerprint
// used as part of the query cache key.
package docfilter

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/orneryd/retrievekit/pkg/docstore"
)

// ErrUnknownField is returned by Parse when the input bag names a field
// outside the recognized set. Unknown fields are rejected rather than
// silently dropped.
var ErrUnknownField = errors.New("docfilter: unknown filter field")

// DateRange is an inclusive ISO-8601 date window.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Bag holds the recognized filter fields. A zero-value Bag matches every
// document (no predicates applied).
type Bag struct {
	MinExperience   *int      `json:"min_experience,omitempty"`
	SeniorityLevels []string  `json:"seniority_levels,omitempty"`
	RequiredSkills  []string  `json:"required_skills,omitempty"`
	DateRange       *DateRange `json:"date_range,omitempty"`
}

// recognizedFields is the set Parse accepts from a raw field map.
var recognizedFields = map[string]bool{
	"min_experience":   true,
	"seniority_levels": true,
	"required_skills":  true,
	"date_range":       true,
}

// Parse builds a Bag from a raw field map (e.g. decoded request JSON),
// rejecting any key outside recognizedFields.
func Parse(raw map[string]any) (*Bag, error) {
	for key := range raw {
		if !recognizedFields[key] {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, key)
		}
	}

	bag := &Bag{}

	if v, ok := raw["min_experience"]; ok {
		n, err := toInt(v)
		if err != nil {
			return nil, fmt.Errorf("docfilter: min_experience: %w", err)
		}
		bag.MinExperience = &n
	}
	if v, ok := raw["seniority_levels"]; ok {
		levels, err := toStringSlice(v)
		if err != nil {
			return nil, fmt.Errorf("docfilter: seniority_levels: %w", err)
		}
		bag.SeniorityLevels = levels
	}
	if v, ok := raw["required_skills"]; ok {
		skills, err := toStringSlice(v)
		if err != nil {
			return nil, fmt.Errorf("docfilter: required_skills: %w", err)
		}
		bag.RequiredSkills = skills
	}
	if v, ok := raw["date_range"]; ok {
		dr, err := toDateRange(v)
		if err != nil {
			return nil, fmt.Errorf("docfilter: date_range: %w", err)
		}
		bag.DateRange = dr
	}

	return bag, nil
}

// Matches reports whether doc satisfies every predicate in the bag. A
// nil bag or a bag with no fields set matches everything.
func (b *Bag) Matches(doc *docstore.Document) bool {
	if b == nil {
		return true
	}

	if b.MinExperience != nil {
		exp, ok := intAttr(doc.Attributes, "experience_years")
		if !ok || exp < *b.MinExperience {
			return false
		}
	}

	if len(b.SeniorityLevels) > 0 {
		level, _ := stringAttr(doc.Attributes, "seniority")
		if !containsFold(b.SeniorityLevels, level) {
			return false
		}
	}

	if len(b.RequiredSkills) > 0 {
		for _, required := range b.RequiredSkills {
			if !containsFold(doc.Skills, required) {
				return false
			}
		}
	}

	if b.DateRange != nil {
		created, ok := timeAttr(doc.Attributes, "created_at")
		if !ok {
			return false
		}
		if created.Before(b.DateRange.Start) || created.After(b.DateRange.End) {
			return false
		}
	}

	return true
}

// Fingerprint returns the canonical sorted-JSON representation of the
// bag, used as the filter component of a query cache key. Two Bags with
// the same logical content (including differently-ordered slices)
// produce the same fingerprint.
func (b *Bag) Fingerprint() string {
	if b == nil {
		return ""
	}

	canon := struct {
		MinExperience   *int       `json:"min_experience,omitempty"`
		SeniorityLevels []string   `json:"seniority_levels,omitempty"`
		RequiredSkills  []string   `json:"required_skills,omitempty"`
		DateRange       *DateRange `json:"date_range,omitempty"`
	}{
		MinExperience: b.MinExperience,
		DateRange:     b.DateRange,
	}

	if len(b.SeniorityLevels) > 0 {
		canon.SeniorityLevels = sortedLower(b.SeniorityLevels)
	}
	if len(b.RequiredSkills) > 0 {
		canon.RequiredSkills = sortedLower(b.RequiredSkills)
	}

	data, err := json.Marshal(canon)
	if err != nil {
		return ""
	}
	return string(data)
}

func sortedLower(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	sort.Strings(out)
	return out
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

func intAttr(attrs map[string]any, key string) (int, bool) {
	v, ok := attrs[key]
	if !ok {
		return 0, false
	}
	n, err := toInt(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func stringAttr(attrs map[string]any, key string) (string, bool) {
	v, ok := attrs[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func timeAttr(attrs map[string]any, key string) (time.Time, bool) {
	v, ok := attrs[key]
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func toStringSlice(v any) ([]string, error) {
	switch s := v.(type) {
	case []string:
		return s, nil
	case []any:
		out := make([]string, len(s))
		for i, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a string at index %d, got %T", i, item)
			}
			out[i] = str
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of strings, got %T", v)
	}
}

func toDateRange(v any) (*DateRange, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object with start/end, got %T", v)
	}
	startRaw, ok := m["start"].(string)
	if !ok {
		return nil, fmt.Errorf("date_range.start must be a string")
	}
	endRaw, ok := m["end"].(string)
	if !ok {
		return nil, fmt.Errorf("date_range.end must be a string")
	}
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		start, err = time.Parse("2006-01-02", startRaw)
		if err != nil {
			return nil, fmt.Errorf("date_range.start: %w", err)
		}
	}
	end, err := time.Parse(time.RFC3339, endRaw)
	if err != nil {
		end, err = time.Parse("2006-01-02", endRaw)
		if err != nil {
			return nil, fmt.Errorf("date_range.end: %w", err)
		}
	}
	return &DateRange{Start: start, End: end}, nil
}
