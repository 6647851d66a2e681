package namegen

import (
	"math/rand"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestName_Empty(t *testing.T) {
	g := New(rand.New(rand.NewSource(1)))
	assert.Equal(t, "Empty", g.Name())
}

func TestName_Pattern(t *testing.T) {
	g := New(rand.New(rand.NewSource(42)))
	pattern := regexp.MustCompile(`^[A-Z][a-z]+-[A-Z][a-z]+-[A-Z][a-z]+$`)

	for i := 0; i < 50; i++ {
		name := g.Name(Animal, Color, Adjective)
		assert.Regexp(t, pattern, name)
	}
}

func TestName_UsesEmbeddedLists(t *testing.T) {
	g := New(rand.New(rand.NewSource(7)))
	require.NotEmpty(t, g.lists[Adjective])
	require.NotEmpty(t, g.lists[Animal])
	require.NotEmpty(t, g.lists[Color])

	parts := strings.Split(g.Name(Color), "-")
	require.Len(t, parts, 1)
	assert.Contains(t, g.lists[Color], strings.ToLower(parts[0]))
}

func TestName_DeterministicWithSeed(t *testing.T) {
	a := New(rand.New(rand.NewSource(99)))
	b := New(rand.New(rand.NewSource(99)))
	assert.Equal(t, a.Name(Animal, Color), b.Name(Animal, Color))
}

func TestName_Fallbacks(t *testing.T) {
	g := NewWithLists(rand.New(rand.NewSource(1)), nil)
	assert.Equal(t, "Desconhecido-Criatura-Victor", g.Name(Adjective, Animal, Color))
}

func TestName_CapitalizesMixedCase(t *testing.T) {
	g := NewWithLists(rand.New(rand.NewSource(1)), map[WordType][]string{
		Animal: {"eNDERMAN"},
		Color:  {"ébano"},
	})
	assert.Equal(t, "Enderman-Ébano", g.Name(Animal, Color))
}

func TestLoadWordList_SkipsBlankLines(t *testing.T) {
	for _, name := range []string{"words/adjectives.txt", "words/animals.txt", "words/colors.txt"} {
		for _, word := range loadWordList(name) {
			assert.Equal(t, strings.TrimSpace(word), word)
			assert.NotEmpty(t, word)
		}
	}
	assert.Nil(t, loadWordList("words/missing.txt"))
}

func TestRandomName(t *testing.T) {
	name := RandomName(Animal, Color, Adjective)
	assert.Len(t, strings.Split(name, "-"), 3)
	assert.Equal(t, "Empty", RandomName())
}
