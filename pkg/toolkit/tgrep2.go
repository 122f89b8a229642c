package toolkit

import (
	"context"
	"strings"
)

// TGrep2 wraps the tgrep2 treebank search tool.
type TGrep2 struct {
	runner *Runner
}

// NewTGrep2 creates a tgrep2 wrapper over the runner.
func NewTGrep2(runner *Runner) *TGrep2 {
	return &TGrep2{runner: runner}
}

// Installed reports whether tgrep2 is on the PATH.
func (t *TGrep2) Installed() error {
	return t.runner.Available(TGrep2Binary)
}

// BuildCorpus indexes a treebank file into a searchable .t2c corpus.
func (t *TGrep2) BuildCorpus(ctx context.Context, treebankPath, corpusPath string) error {
	_, err := t.runner.Run(ctx, Command{
		Binary: TGrep2Binary,
		Args:   []string{"-p", treebankPath, corpusPath},
	})
	return err
}

// Search runs a tgrep2 pattern against an indexed corpus, returning one
// matched tree per line. The -a flag reports all matches per tree, -f
// prints full trees on one line, -i matches case-insensitively.
func (t *TGrep2) Search(ctx context.Context, corpusPath, pattern string) ([]string, error) {
	out, err := t.runner.Run(ctx, Command{
		Binary: TGrep2Binary,
		Args:   []string{"-c", corpusPath, "-a", "-f", "-i", pattern},
	})
	if err != nil {
		return nil, err
	}
	var trees []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			trees = append(trees, line)
		}
	}
	return trees, nil
}
