package quotes

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCorpusLoads(t *testing.T) {
	corpus, err := Default()
	require.NoError(t, err)
	require.Greater(t, corpus.Len(), 10)
	require.NotEmpty(t, corpus.Pick())
}

func TestPickIsAlwaysFromCorpus(t *testing.T) {
	corpus, err := New([]Quote{{Text: "a"}, {Text: "b"}, {Text: "c"}})
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		require.Contains(t, []string{"a", "b", "c"}, corpus.Pick())
	}
}

func TestPickCoversCorpus(t *testing.T) {
	corpus, err := New([]Quote{{Text: "a"}, {Text: "b"}, {Text: "c"}}, WithRand(rand.New(rand.NewPCG(1, 2))))
	require.NoError(t, err)

	seen := map[string]int{}
	for i := 0; i < 3000; i++ {
		seen[corpus.Pick()]++
	}
	require.Len(t, seen, 3)
	for _, n := range seen {
		require.InDelta(t, 1000, n, 150)
	}
}

func TestSeededSelectionIsDeterministic(t *testing.T) {
	quotes := []Quote{{Text: "a"}, {Text: "b"}, {Text: "c"}, {Text: "d"}}
	first, err := New(quotes, WithRand(rand.New(rand.NewPCG(7, 7))))
	require.NoError(t, err)
	second, err := New(quotes, WithRand(rand.New(rand.NewPCG(7, 7))))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.Equal(t, first.Pick(), second.Pick())
	}
}

func TestNewRejectsEmptyCorpus(t *testing.T) {
	_, err := New([]Quote{{Text: "  "}})
	require.ErrorIs(t, err, ErrEmptyCorpus)

	_, err = Parse([]byte(`[]`))
	require.ErrorIs(t, err, ErrEmptyCorpus)

	_, err = Parse([]byte(`{`))
	require.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotes.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"quote":"Only one","author":"me"}]`), 0o600))

	corpus, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "Only one", corpus.Pick())

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
