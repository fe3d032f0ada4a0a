package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_CanonicalText(t *testing.T) {
	d := &Document{Content: "python developer", Skills: []string{"aws"}, Tags: []string{"backend"}}
	assert.Equal(t, "python developer aws backend", d.CanonicalText())
}

func TestDocument_TokenSetDeterministic(t *testing.T) {
	d := &Document{Content: "Python developer with AWS experience", Skills: []string{"aws"}}
	t1 := d.TokenSet()
	t2 := d.TokenSet()
	assert.Equal(t, t1, t2)
	assert.Contains(t, t1, "python")
	assert.Contains(t, t1, "aws")
	assert.NotContains(t, t1, "with") // stop word
}

func TestTokenize_DedupesAndLowercases(t *testing.T) {
	toks := Tokenize("Python PYTHON python")
	assert.Equal(t, []string{"python"}, toks)
}

func TestSanitizeText_StripsControlChars(t *testing.T) {
	out := SanitizeText("hello\x01world")
	assert.Equal(t, "hello world", out)
}

func TestMemoryStore_PutGetDelete(t *testing.T) {
	s := NewMemoryStore()
	s.Put(&Document{ID: "d1", Content: "hi"})

	got, ok := s.Get("d1")
	require.True(t, ok)
	assert.Equal(t, "hi", got.Content)

	s.Delete("d1")
	_, ok = s.Get("d1")
	assert.False(t, ok)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	s.Put(&Document{ID: "d1", Skills: []string{"aws"}})

	got, _ := s.Get("d1")
	got.Skills[0] = "mutated"

	got2, _ := s.Get("d1")
	assert.Equal(t, "aws", got2.Skills[0])
}

func TestMemoryStore_All(t *testing.T) {
	s := NewMemoryStore()
	s.Put(&Document{ID: "d1"})
	s.Put(&Document{ID: "d2"})
	assert.Equal(t, 2, s.Len())
	assert.Len(t, s.All(), 2)
}
