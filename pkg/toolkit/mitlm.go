package toolkit

import (
	"context"
	"fmt"
)

// Supported language model toolkits.
const (
	ToolkitMITLM = "mitlm"
)

// MITLM wraps the MIT Language Modeling toolkit's estimate-ngram tool.
type MITLM struct {
	runner *Runner
}

// NewMITLM creates a wrapper over the runner.
func NewMITLM(runner *Runner) *MITLM {
	return &MITLM{runner: runner}
}

// Installed reports whether estimate-ngram is on the PATH.
func (m *MITLM) Installed() error {
	return m.runner.Available(EstimateNgramBinary)
}

// EstimateParams configures one ARPA estimation run.
type EstimateParams struct {
	Order      int
	CorpusPath string // one sentence of space-separated morphemes per line
	VocabPath  string // optional fixed vocabulary
	Smoothing  string // optional, e.g. "ModKN"; toolkit default when empty
	ARPAPath   string // output
}

// Estimate writes an ARPA model file for the corpus.
func (m *MITLM) Estimate(ctx context.Context, p EstimateParams) error {
	args := []string{
		"-o", fmt.Sprintf("%d", p.Order),
		"-t", p.CorpusPath,
		"-wl", p.ARPAPath,
	}
	if p.Smoothing != "" {
		args = append(args, "-s", p.Smoothing)
	}
	if p.VocabPath != "" {
		args = append(args, "-v", p.VocabPath)
	}
	_, err := m.runner.Run(ctx, Command{Binary: EstimateNgramBinary, Args: args})
	return err
}

// EvaluatePerplexity runs evaluate-ngram on a held-out test corpus and
// returns the raw tool output for the caller to parse.
func (m *MITLM) EvaluatePerplexity(ctx context.Context, arpaPath, testPath string, order int) (string, error) {
	return m.runner.Run(ctx, Command{
		Binary: EvaluateNgramBinary,
		Args: []string{
			"-o", fmt.Sprintf("%d", order),
			"-lm", arpaPath,
			"-eval-perp", testPath,
		},
	})
}
