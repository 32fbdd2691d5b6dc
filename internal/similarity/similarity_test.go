package similarity

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"accents stripped", "Café Résumé", "cafe resume"},
		{"separators unified", "full-time/part_time", "full time part time"},
		{"em dash is a separator", "Yes—I agree", "yes i agree"},
		{"punctuation dropped", "C++ (Developer)!", "c developer"},
		{"whitespace collapsed", "  New \t York  ", "new york"},
		{"compatibility forms", "ｆｕｌｌ", "full"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonicalize(tt.in))
		})
	}
}

func TestScoreProperties(t *testing.T) {
	t.Run("identity scores 100", func(t *testing.T) {
		for _, s := range []string{"Yes", "United States of America", "Décliné", "3-5 years"} {
			assert.InDelta(t, 100.0, Score(s, s), 1e-9, s)
		}
	})

	t.Run("canonical equality scores 100", func(t *testing.T) {
		assert.InDelta(t, 100.0, Score("YES", " yes. "), 1e-9)
	})

	t.Run("symmetric", func(t *testing.T) {
		pairs := [][2]string{
			{"Software Engineer", "Engineer, Software"},
			{"C", "C++ Developer"},
			{"Male", "Female"},
		}
		for _, p := range pairs {
			assert.InDelta(t, Score(p[0], p[1]), Score(p[1], p[0]), 1e-9)
		}
	})

	t.Run("empty scores zero", func(t *testing.T) {
		assert.Zero(t, Score("", "Yes"))
		assert.Zero(t, Score("!!!", "Yes"))
	})

	t.Run("reordering beats short prefix", func(t *testing.T) {
		reordered := Score("Software Engineer", "Engineer Software")
		prefix := Score("C", "C++ Developer")
		assert.GreaterOrEqual(t, reordered, 50.0)
		assert.Less(t, prefix, 30.0)
	})

	t.Run("unrelated answers score low", func(t *testing.T) {
		assert.Less(t, Score("Yes", "No"), 10.0)
	})
}

func TestRankOrdering(t *testing.T) {
	t.Run("highest score first", func(t *testing.T) {
		ranked := Rank([]string{"No", "Yes", "Prefer not to say"}, []string{"yes"})
		require.Len(t, ranked, 3)
		assert.Equal(t, 1, ranked[0].Option)
		assert.InDelta(t, 100.0, ranked[0].Score, 1e-9)
	})

	t.Run("ties fall back to option order", func(t *testing.T) {
		ranked := Rank([]string{"Option A", "Option B"}, []string{"Option"})
		require.Len(t, ranked, 2)
		assert.Equal(t, ranked[0].Score, ranked[1].Score)
		assert.Equal(t, 0, ranked[0].Option)
		assert.Equal(t, 1, ranked[1].Option)
	})

	t.Run("deterministic across calls", func(t *testing.T) {
		opts := []string{"Bachelor's Degree", "Master's Degree", "Doctorate"}
		cands := []string{"Masters of Science", "MS", "Master's Degree"}
		assert.Equal(t, Rank(opts, cands), Rank(opts, cands))
	})
}

func TestBest(t *testing.T) {
	m, ok := Best([]string{"Select...", "United States", "Canada"}, []string{"United States of America"}, 50)
	require.True(t, ok)
	assert.Equal(t, 1, m.Option)

	_, ok = Best([]string{"Red", "Blue"}, []string{"Giraffe"}, 75)
	assert.False(t, ok)

	_, ok = Best(nil, []string{"Yes"}, 0)
	assert.False(t, ok)
}

func TestBestPerOption(t *testing.T) {
	per := BestPerOption([]string{"Python", "Go", "Rust"}, []string{"Go", "Python"})
	require.Len(t, per, 3)
	assert.Equal(t, 1, per[0].Candidate)
	assert.InDelta(t, 100.0, per[0].Score, 1e-9)
	assert.Equal(t, 0, per[1].Candidate)
	assert.Less(t, per[2].Score, 50.0)

	empty := BestPerOption([]string{"Python"}, nil)
	assert.Equal(t, -1, empty[0].Candidate)
	assert.Zero(t, empty[0].Score)
}

func FuzzScore(f *testing.F) {
	f.Add([]byte("Software EngineerEngineer, Software"))
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		a, err := consumer.GetString()
		if err != nil {
			return
		}
		b, err := consumer.GetString()
		if err != nil {
			return
		}

		ab, ba := Score(a, b), Score(b, a)
		if ab != ba {
			t.Fatalf("asymmetric score for %q / %q: %v != %v", a, b, ab, ba)
		}
		if ab < 0 || ab > 100.0000001 {
			t.Fatalf("score out of range for %q / %q: %v", a, b, ab)
		}
		if Canonicalize(a) != "" && Score(a, a) < 99.9999999 {
			t.Fatalf("self score below 100 for %q", a)
		}
		if Canonicalize(Canonicalize(a)) != Canonicalize(a) {
			t.Fatalf("canonicalize not idempotent for %q", a)
		}
	})
}
