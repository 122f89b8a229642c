package langmodel

import (
	"encoding/gob"
	"fmt"
	"io"
	"math"
	"os"
)

// noProb marks a trie node that exists only as a prefix of longer n-grams.
const noProb = math.MaxFloat64

// TrieNode is one node of the n-gram trie. Fields are exported for gob.
type TrieNode struct {
	LogProb  float64
	Backoff  float64
	Children map[string]*TrieNode
}

// Trie holds an ARPA model in prefix-tree form for backoff scoring.
type Trie struct {
	Order int
	Root  *TrieNode
}

// NewTrie builds a trie from parsed ARPA n-grams.
func NewTrie(grams [][]NGram) *Trie {
	t := &Trie{Order: len(grams), Root: &TrieNode{LogProb: noProb}}
	for _, section := range grams {
		for _, g := range section {
			node := t.Root
			for _, tok := range g.Tokens {
				if node.Children == nil {
					node.Children = make(map[string]*TrieNode)
				}
				child, ok := node.Children[tok]
				if !ok {
					child = &TrieNode{LogProb: noProb}
					node.Children[tok] = child
				}
				node = child
			}
			node.LogProb = g.LogProb
			node.Backoff = g.Backoff
		}
	}
	return t
}

func (t *Trie) lookup(tokens []string) *TrieNode {
	node := t.Root
	for _, tok := range tokens {
		child, ok := node.Children[tok]
		if !ok {
			return nil
		}
		node = child
	}
	return node
}

// ConditionalLogProb scores one token given its history with Katz backoff:
// use the longest matching n-gram, otherwise the history's backoff weight
// plus the shortened estimate. An unseen unigram falls back to <unk>.
func (t *Trie) ConditionalLogProb(history []string, token string) float64 {
	if len(history) > t.Order-1 {
		history = history[len(history)-(t.Order-1):]
	}
	if node := t.lookup(append(append([]string{}, history...), token)); node != nil &&
		node.LogProb != noProb {
		return node.LogProb
	}
	if len(history) == 0 {
		if unk := t.lookup([]string{UnknownToken}); unk != nil && unk.LogProb != noProb {
			return unk.LogProb
		}
		// A closed-vocabulary model with no <unk>: effectively zero
		// probability.
		return -99
	}
	backoff := 0.0
	if node := t.lookup(history); node != nil {
		backoff = node.Backoff
	}
	return backoff + t.ConditionalLogProb(history[1:], token)
}

// SequenceLogProb scores a whole morpheme sequence, padded with sentence
// boundaries, in log10 space.
func (t *Trie) SequenceLogProb(tokens []string) float64 {
	padded := make([]string, 0, len(tokens)+2)
	padded = append(padded, StartToken)
	padded = append(padded, tokens...)
	padded = append(padded, EndToken)

	total := 0.0
	for i := 1; i < len(padded); i++ {
		total += t.ConditionalLogProb(padded[:i], padded[i])
	}
	return total
}

// SequenceProb is SequenceLogProb out of log space.
func (t *Trie) SequenceProb(tokens []string) float64 {
	return math.Pow(10, t.SequenceLogProb(tokens))
}

// WriteTo persists the trie with gob.
func (t *Trie) WriteTo(w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(t); err != nil {
		return fmt.Errorf("failed to encode language model trie: %w", err)
	}
	return nil
}

// SaveTrie writes the trie to a file.
func SaveTrie(t *Trie, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create trie file: %w", err)
	}
	defer f.Close()
	return t.WriteTo(f)
}

// LoadTrie reads a gob-persisted trie.
func LoadTrie(path string) (*Trie, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trie file: %w", err)
	}
	defer f.Close()
	var t Trie
	if err := gob.NewDecoder(f).Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to decode language model trie: %w", err)
	}
	return &t, nil
}
