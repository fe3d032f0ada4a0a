package docfilter

import (
	"testing"
	"time"

	"github.com/orneryd/retrievekit/pkg/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RejectsUnknownField(t *testing.T) {
	_, err := Parse(map[string]any{"bogus": 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestParse_MinExperience(t *testing.T) {
	bag, err := Parse(map[string]any{"min_experience": 5})
	require.NoError(t, err)
	require.NotNil(t, bag.MinExperience)
	assert.Equal(t, 5, *bag.MinExperience)
}

func TestBag_Matches_MinExperience(t *testing.T) {
	bag, _ := Parse(map[string]any{"min_experience": 5})
	doc := &docstore.Document{Attributes: map[string]any{"experience_years": 7}}
	assert.True(t, bag.Matches(doc))

	doc2 := &docstore.Document{Attributes: map[string]any{"experience_years": 3}}
	assert.False(t, bag.Matches(doc2))
}

func TestBag_Matches_RequiredSkillsCaseInsensitive(t *testing.T) {
	bag, err := Parse(map[string]any{"required_skills": []any{"Python", "AWS"}})
	require.NoError(t, err)

	doc := &docstore.Document{Skills: []string{"python", "aws", "docker"}}
	assert.True(t, bag.Matches(doc))

	doc2 := &docstore.Document{Skills: []string{"python"}}
	assert.False(t, bag.Matches(doc2))
}

func TestBag_Matches_SeniorityLevels(t *testing.T) {
	bag, err := Parse(map[string]any{"seniority_levels": []any{"Senior", "Staff"}})
	require.NoError(t, err)

	doc := &docstore.Document{Attributes: map[string]any{"seniority": "senior"}}
	assert.True(t, bag.Matches(doc))

	doc2 := &docstore.Document{Attributes: map[string]any{"seniority": "junior"}}
	assert.False(t, bag.Matches(doc2))
}

func TestBag_Matches_DateRangeInclusive(t *testing.T) {
	bag, err := Parse(map[string]any{
		"date_range": map[string]any{"start": "2024-01-01", "end": "2024-12-31"},
	})
	require.NoError(t, err)

	doc := &docstore.Document{Attributes: map[string]any{"created_at": "2024-06-15T00:00:00Z"}}
	assert.True(t, bag.Matches(doc))

	edge := &docstore.Document{Attributes: map[string]any{"created_at": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}}
	assert.True(t, bag.Matches(edge))

	outside := &docstore.Document{Attributes: map[string]any{"created_at": "2025-01-01T00:00:00Z"}}
	assert.False(t, bag.Matches(outside))

	missing := &docstore.Document{Attributes: map[string]any{}}
	assert.False(t, bag.Matches(missing))
}

func TestBag_Matches_NilBagMatchesEverything(t *testing.T) {
	var bag *Bag
	assert.True(t, bag.Matches(&docstore.Document{}))
}

func TestFingerprint_OrderIndependent(t *testing.T) {
	bagA, err := Parse(map[string]any{"required_skills": []any{"aws", "python"}})
	require.NoError(t, err)
	bagB, err := Parse(map[string]any{"required_skills": []any{"Python", "AWS"}})
	require.NoError(t, err)

	assert.Equal(t, bagA.Fingerprint(), bagB.Fingerprint())
}

func TestFingerprint_DiffersOnContent(t *testing.T) {
	bagA, _ := Parse(map[string]any{"min_experience": 3})
	bagB, _ := Parse(map[string]any{"min_experience": 5})
	assert.NotEqual(t, bagA.Fingerprint(), bagB.Fingerprint())
}

func TestFingerprint_NilBagEmpty(t *testing.T) {
	var bag *Bag
	assert.Equal(t, "", bag.Fingerprint())
}
