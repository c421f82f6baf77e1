// Package quotes picks motivational phrases used as activity titles.
package quotes

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
)

//go:embed quotes.json
var defaultCorpus []byte

// ErrEmptyCorpus is returned when no usable quote is available.
var ErrEmptyCorpus = errors.New("quote corpus is empty")

// Selector returns one phrase per call.
type Selector interface {
	Pick() string
}

// Quote is a single corpus entry.
type Quote struct {
	Text   string `json:"quote"`
	Author string `json:"author,omitempty"`
}

// Corpus selects uniformly at random from a fixed list of quotes.
type Corpus struct {
	quotes []Quote

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Corpus.
type Option func(*Corpus)

// WithRand makes selection deterministic, for tests.
func WithRand(rng *rand.Rand) Option {
	return func(c *Corpus) {
		c.rng = rng
	}
}

// New builds a Corpus, dropping blank entries.
func New(quotes []Quote, opts ...Option) (*Corpus, error) {
	kept := make([]Quote, 0, len(quotes))
	for _, q := range quotes {
		q.Text = strings.TrimSpace(q.Text)
		if q.Text != "" {
			kept = append(kept, q)
		}
	}
	if len(kept) == 0 {
		return nil, ErrEmptyCorpus
	}
	c := &Corpus{quotes: kept}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Default returns the embedded corpus.
func Default(opts ...Option) (*Corpus, error) {
	return Parse(defaultCorpus, opts...)
}

// Load reads a JSON corpus from disk. An empty path yields the embedded corpus.
func Load(path string, opts ...Option) (*Corpus, error) {
	if strings.TrimSpace(path) == "" {
		return Default(opts...)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quotes: %w", err)
	}
	return Parse(data, opts...)
}

// Parse decodes a JSON array of {"quote", "author"} objects.
func Parse(data []byte, opts ...Option) (*Corpus, error) {
	var quotes []Quote
	if err := json.Unmarshal(data, &quotes); err != nil {
		return nil, fmt.Errorf("decode quotes: %w", err)
	}
	return New(quotes, opts...)
}

// Pick returns the text of one quote.
func (c *Corpus) Pick() string {
	return c.quotes[c.index()].Text
}

// Len reports the corpus size.
func (c *Corpus) Len() int {
	return len(c.quotes)
}

func (c *Corpus) index() int {
	if c.rng == nil {
		return rand.IntN(len(c.quotes))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.IntN(len(c.quotes))
}
