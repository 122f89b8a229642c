package toolkit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// NoParse is flookup's marker for an input with no analysis.
const NoParse = "+?"

// WordBoundary wraps every transcription fed to flookup, so rules anchored
// on word edges see them.
const WordBoundary = "#"

// Foma wraps the foma compiler and the flookup transducer applier.
type Foma struct {
	runner *Runner
}

// NewFoma creates a foma wrapper over the runner.
func NewFoma(runner *Runner) *Foma {
	return &Foma{runner: runner}
}

// Installed reports whether both foma and flookup are on the PATH.
func (f *Foma) Installed() error {
	if err := f.runner.Available(FomaBinary); err != nil {
		return err
	}
	return f.runner.Available(FlookupBinary)
}

// CompileScript compiles a foma script to a binary FST. The script is
// expected to define the named regex; the compiled network is saved to
// binaryPath. A zero timeout means unbounded.
func (f *Foma) CompileScript(ctx context.Context, scriptPath, regexName, binaryPath string, timeout time.Duration) error {
	out, err := f.runner.Run(ctx, Command{
		Binary: FomaBinary,
		Args: []string{
			"-e", fmt.Sprintf("source %s", scriptPath),
			"-e", fmt.Sprintf("regex %s;", regexName),
			"-e", fmt.Sprintf("save stack %s", binaryPath),
			"-e", "quit",
		},
		Timeout: timeout,
	})
	if err != nil {
		return err
	}
	// foma reports save failures on stdout with a zero exit status.
	if !strings.Contains(out, "Writing to file") {
		return fmt.Errorf("foma did not write %s: %s", binaryPath,
			lastLine(out))
	}
	return nil
}

// CompileLexc compiles a lexc program to a binary FST. Unbounded: large
// lexica legitimately take a long time.
func (f *Foma) CompileLexc(ctx context.Context, scriptPath, binaryPath string) error {
	out, err := f.runner.Run(ctx, Command{
		Binary: FomaBinary,
		Args: []string{
			"-e", fmt.Sprintf("read lexc %s", scriptPath),
			"-e", fmt.Sprintf("save stack %s", binaryPath),
			"-e", "quit",
		},
	})
	if err != nil {
		return err
	}
	if !strings.Contains(out, "Writing to file") {
		return fmt.Errorf("foma did not write %s: %s", binaryPath, lastLine(out))
	}
	return nil
}

// ApplyDown runs inputs through the transducer from the upper side (morpheme
// sequences in, surface forms out). Results are keyed by input; an input
// with no output maps to an empty slice.
func (f *Foma) ApplyDown(ctx context.Context, binaryPath string, inputs []string) (map[string][]string, error) {
	return f.apply(ctx, binaryPath, inputs, true)
}

// ApplyUp runs inputs through the transducer from the lower side (surface
// forms in, morpheme sequences out).
func (f *Foma) ApplyUp(ctx context.Context, binaryPath string, inputs []string) (map[string][]string, error) {
	return f.apply(ctx, binaryPath, inputs, false)
}

// apply feeds the inputs to flookup, each wrapped in the word-boundary
// symbol, and maps them to their unwrapped outputs. flookup is run with -x
// (outputs only) and -b, so results come back as blank-line separated
// blocks in input order.
func (f *Foma) apply(ctx context.Context, binaryPath string, inputs []string, inverse bool) (map[string][]string, error) {
	results := make(map[string][]string, len(inputs))
	if len(inputs) == 0 {
		return results, nil
	}
	for _, in := range inputs {
		if _, ok := results[in]; !ok {
			results[in] = nil
		}
	}
	var stdin strings.Builder
	for _, in := range inputs {
		stdin.WriteString(WordBoundary + in + WordBoundary + "\n")
	}
	args := []string{}
	if inverse {
		args = append(args, "-i")
	}
	args = append(args, "-x", "-b", binaryPath)

	out, err := f.runner.Run(ctx, Command{
		Binary: FlookupBinary,
		Args:   args,
		Stdin:  stdin.String(),
	})
	if err != nil {
		return nil, err
	}
	for i, block := range flookupBlocks(out) {
		if i >= len(inputs) {
			break
		}
		for _, line := range block {
			if line == NoParse {
				continue
			}
			results[inputs[i]] = append(results[inputs[i]],
				strings.Trim(line, WordBoundary))
		}
	}
	return results, nil
}

// flookupBlocks splits flookup -x output into per-input result blocks.
func flookupBlocks(out string) [][]string {
	var blocks [][]string
	var cur []string
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			blocks = append(blocks, cur)
			cur = nil
			continue
		}
		cur = append(cur, line)
	}
	return append(blocks, cur)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
