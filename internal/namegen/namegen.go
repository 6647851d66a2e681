// Package namegen builds random, human-readable server names such as
// "Fox-Teal-Sneaky" from embedded word lists.
package namegen

import (
	"bufio"
	"embed"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shiftsad/gameserver/internal/logging"
)

// WordType selects the word list a name segment is drawn from.
type WordType int

const (
	Adjective WordType = iota
	Animal
	Color
)

//go:embed words/*.txt
var wordFiles embed.FS

// Fallback words used when a list is empty.
const (
	fallbackAdjective = "desconhecido"
	fallbackAnimal    = "criatura"
	fallbackColor     = "victor"
)

// Generator draws names from word lists. It is not safe for concurrent use;
// RandomName wraps a shared generator with a lock.
type Generator struct {
	lists map[WordType][]string
	rng   *rand.Rand
}

// New returns a generator over the embedded word lists using rng.
// A nil rng is seeded from the clock.
func New(rng *rand.Rand) *Generator {
	return NewWithLists(rng, map[WordType][]string{
		Adjective: loadWordList("words/adjectives.txt"),
		Animal:    loadWordList("words/animals.txt"),
		Color:     loadWordList("words/colors.txt"),
	})
}

// NewWithLists returns a generator over the given lists.
func NewWithLists(rng *rand.Rand, lists map[WordType][]string) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if lists == nil {
		lists = make(map[WordType][]string)
	}
	return &Generator{lists: lists, rng: rng}
}

// loadWordList reads one word per line, trimming whitespace and skipping blanks.
func loadWordList(name string) []string {
	logger := logging.GetLogger("namegen")

	f, err := wordFiles.Open(name)
	if err != nil {
		logger.Error("Word list %s not found", name)
		return nil
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			words = append(words, line)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error("Error reading word list %s: %v", name, err)
	}
	return words
}

// Name returns one capitalized word per type joined by "-".
// With no types it returns "Empty".
func (g *Generator) Name(types ...WordType) string {
	if len(types) == 0 {
		return "Empty"
	}

	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, capitalize(g.word(t)))
	}
	return strings.Join(parts, "-")
}

func (g *Generator) word(t WordType) string {
	words := g.lists[t]
	if len(words) == 0 {
		return fallback(t)
	}
	return words[g.rng.Intn(len(words))]
}

func fallback(t WordType) string {
	switch t {
	case Adjective:
		return fallbackAdjective
	case Animal:
		return fallbackAnimal
	default:
		return fallbackColor
	}
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(word string) string {
	if word == "" {
		return word
	}
	runes := []rune(strings.ToLower(word))
	runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
	return string(runes)
}

var (
	shared     *Generator
	sharedOnce sync.Once
	sharedMu   sync.Mutex
)

// RandomName is Generator.Name on a process-wide generator.
func RandomName(types ...WordType) string {
	sharedOnce.Do(func() {
		shared = New(nil)
	})

	sharedMu.Lock()
	defer sharedMu.Unlock()
	return shared.Name(types...)
}
