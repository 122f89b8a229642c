// Package phonology compiles user-edited foma scripts into binary FSTs and
// applies them to transcriptions.
package phonology

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/dativebase/old/pkg/layout"
	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/storage"
	"github.com/dativebase/old/pkg/toolkit"
	"github.com/dativebase/old/pkg/worker"
)

// CompileTimeout bounds a phonology compile; user phonologies are small and
// a runaway script means a bad regex, not a big lexicon.
const CompileTimeout = 30 * time.Second

// RegexName is the network a phonology script must define.
const RegexName = "phonology"

// TestPrefix marks tests embedded in a phonology script:
// "#test underlying -> surface1, surface2".
const TestPrefix = "#test "

// ErrNoTests is returned by RunTests when the script defines none.
var ErrNoTests = errors.New("The script of this phonology does not contain any tests.")

// Engine compiles and applies phonologies.
type Engine struct {
	store  *storage.Store
	layout *layout.Layout
	foma   *toolkit.Foma
	logger *logrus.Logger
}

// NewEngine creates a phonology engine.
func NewEngine(store *storage.Store, l *layout.Layout, foma *toolkit.Foma, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{store: store, layout: l, foma: foma, logger: logger}
}

// WriteScript persists the phonology's script, NFD-normalized so that
// composed and decomposed transcriptions hit the same FST arcs.
func (e *Engine) WriteScript(p *model.Phonology) (string, error) {
	if _, err := e.layout.ResourceDir(layout.PhonologyDir, p.ID); err != nil {
		return "", err
	}
	path := e.layout.ScriptPath(layout.PhonologyDir, p.ID)
	script := norm.NFD.String(p.Script)
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		return "", fmt.Errorf("failed to write phonology script: %w", err)
	}
	return path, nil
}

// BinaryPath returns where the compiled FST lives.
func (e *Engine) BinaryPath(p *model.Phonology) string {
	return e.layout.BinaryPath(layout.PhonologyDir, p.ID)
}

// CompileJob wraps Compile for the background queue. The fresh attempt
// nonce is written with the result, whatever it is.
func (e *Engine) CompileJob(p *model.Phonology) worker.Job {
	attempt := uuid.NewString()
	return worker.Job{
		Name:    fmt.Sprintf("phonology %d compile", p.ID),
		Attempt: attempt,
		Run: func(ctx context.Context) error {
			return e.compile(ctx, p, attempt)
		},
	}
}

func (e *Engine) compile(ctx context.Context, p *model.Phonology, attempt string) error {
	succeeded, message := false, ""
	var compiledAt *time.Time

	scriptPath, err := e.WriteScript(p)
	if err == nil {
		err = e.foma.CompileScript(ctx, scriptPath, RegexName, e.BinaryPath(p), CompileTimeout)
	}
	switch {
	case err == nil:
		succeeded = true
		message = model.CompileSucceededMessage
		now := time.Now().UTC()
		compiledAt = &now
	case errors.Is(err, toolkit.ErrTimeout):
		message = model.CompileTimeoutMessage
	default:
		message = fmt.Sprintf("Compilation process failed: %s", err)
	}

	if storeErr := e.store.SetPhonologyCompileResult(ctx, p.ID, succeeded, message,
		attempt, compiledAt); storeErr != nil {
		return storeErr
	}
	if err != nil {
		return err
	}
	return nil
}

// ApplyDown maps underlying transcriptions to surface ones through the
// compiled FST. Inputs are NFD-normalized first.
func (e *Engine) ApplyDown(ctx context.Context, p *model.Phonology, inputs []string) (map[string][]string, error) {
	if _, err := os.Stat(e.BinaryPath(p)); err != nil {
		return nil, model.NewValidationError("compile",
			fmt.Sprintf("Phonology %d has not been compiled yet.", p.ID))
	}
	normalized := make([]string, len(inputs))
	for i, in := range inputs {
		normalized[i] = norm.NFD.String(in)
	}
	return e.foma.ApplyDown(ctx, e.BinaryPath(p), normalized)
}

// TestCase is one "#test underlying -> surface" line of a script.
type TestCase struct {
	Input    string
	Expected []string
}

// TestResult pairs a test's expectations with the FST's actual outputs.
type TestResult struct {
	Input    string   `json:"input"`
	Expected []string `json:"expected"`
	Actual   []string `json:"actual"`
}

// Passed reports whether any expected output was produced.
func (r TestResult) Passed() bool {
	for _, want := range r.Expected {
		for _, got := range r.Actual {
			if want == got {
				return true
			}
		}
	}
	return false
}

// ParseTests extracts the test cases embedded in a script, grouping
// expected outputs by input.
func ParseTests(script string) []TestCase {
	var order []string
	expected := make(map[string][]string)
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, TestPrefix) {
			continue
		}
		body := strings.TrimSpace(strings.TrimPrefix(line, TestPrefix))
		sep := strings.Index(body, "->")
		if sep < 0 {
			continue
		}
		input := norm.NFD.String(strings.TrimSpace(body[:sep]))
		if input == "" {
			continue
		}
		if _, seen := expected[input]; !seen {
			order = append(order, input)
		}
		for _, out := range strings.Split(body[sep+2:], ",") {
			out = strings.TrimSpace(out)
			if out == "" {
				continue
			}
			expected[input] = append(expected[input], norm.NFD.String(out))
		}
	}
	cases := make([]TestCase, 0, len(order))
	for _, input := range order {
		cases = append(cases, TestCase{Input: input, Expected: expected[input]})
	}
	return cases
}

// RunTests applies the compiled FST to every test input in the script.
func (e *Engine) RunTests(ctx context.Context, p *model.Phonology) ([]TestResult, error) {
	cases := ParseTests(p.Script)
	if len(cases) == 0 {
		return nil, ErrNoTests
	}
	inputs := make([]string, len(cases))
	for i, c := range cases {
		inputs[i] = c.Input
	}
	actual, err := e.ApplyDown(ctx, p, inputs)
	if err != nil {
		return nil, err
	}
	results := make([]TestResult, len(cases))
	for i, c := range cases {
		results[i] = TestResult{Input: c.Input, Expected: c.Expected, Actual: actual[c.Input]}
	}
	return results, nil
}
