// Package langmodel estimates morpheme n-gram language models with an
// external toolkit and serves them from an in-process trie.
package langmodel

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Sentence boundary and unknown tokens, as emitted by the estimation
// toolkit.
const (
	StartToken   = "<s>"
	EndToken     = "</s>"
	UnknownToken = "<unk>"
)

// NGram is one line of an ARPA model file.
type NGram struct {
	Tokens  []string
	LogProb float64 // log10
	Backoff float64 // log10, zero when absent
}

// ParseARPA reads an ARPA-format model, returning entries grouped by order
// (index 0 holds unigrams).
func ParseARPA(r io.Reader) ([][]NGram, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var grams [][]NGram
	order := 0
	inData := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || line == "\\end\\":
			continue
		case line == "\\data\\":
			inData = true
			continue
		case strings.HasPrefix(line, "ngram "):
			continue
		case strings.HasPrefix(line, "\\") && strings.HasSuffix(line, "-grams:"):
			n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(line, "\\"), "-grams:"))
			if err != nil {
				return nil, fmt.Errorf("malformed ARPA section header %q", line)
			}
			order = n
			for len(grams) < order {
				grams = append(grams, nil)
			}
			continue
		}
		if !inData || order == 0 {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return nil, fmt.Errorf("malformed ARPA entry %q", line)
		}
		logProb, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed ARPA log probability %q: %w", fields[0], err)
		}
		entry := NGram{
			Tokens:  strings.Fields(fields[1]),
			LogProb: logProb,
		}
		if len(entry.Tokens) != order {
			return nil, fmt.Errorf("ARPA entry %q has %d tokens in the %d-gram section",
				line, len(entry.Tokens), order)
		}
		if len(fields) >= 3 && strings.TrimSpace(fields[2]) != "" {
			backoff, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
			if err != nil {
				return nil, fmt.Errorf("malformed ARPA backoff %q: %w", fields[2], err)
			}
			entry.Backoff = backoff
		}
		grams[order-1] = append(grams[order-1], entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ARPA model: %w", err)
	}
	if len(grams) == 0 || len(grams[0]) == 0 {
		return nil, fmt.Errorf("ARPA model contains no unigrams")
	}
	return grams, nil
}
