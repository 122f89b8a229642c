package toolkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativebase/old/pkg/model"
)

func TestRunnerMissingBinary(t *testing.T) {
	r := NewRunner(nil)
	_, err := r.Run(context.Background(), Command{Binary: "no-such-toolkit-binary"})
	var missing *model.ToolNotInstalledError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "no-such-toolkit-binary is not installed.", err.Error())
}

func TestRunnerCapturesStdout(t *testing.T) {
	r := NewRunner(nil)
	out, err := r.Run(context.Background(), Command{
		Binary: "sh",
		Args:   []string{"-c", "printf 'chien\\tdog'"},
	})
	require.NoError(t, err)
	assert.Equal(t, "chien\tdog", out)
}

func TestRunnerFeedsStdin(t *testing.T) {
	r := NewRunner(nil)
	out, err := r.Run(context.Background(), Command{
		Binary: "cat",
		Stdin:  "chien-s\n",
	})
	require.NoError(t, err)
	assert.Equal(t, "chien-s\n", out)
}

func TestRunnerTimeoutKillsProcess(t *testing.T) {
	r := NewRunner(nil)
	start := time.Now()
	_, err := r.Run(context.Background(), Command{
		Binary:  "sleep",
		Args:    []string{"10"},
		Timeout: 100 * time.Millisecond,
	})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunnerReportsStderrOnFailure(t *testing.T) {
	r := NewRunner(nil)
	_, err := r.Run(context.Background(), Command{
		Binary: "sh",
		Args:   []string{"-c", "echo boom >&2; exit 3"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestFlookupApplyWithoutInputs(t *testing.T) {
	f := NewFoma(NewRunner(nil))
	results, err := f.apply(context.Background(), "unused", nil, false)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFlookupOutputBlocks(t *testing.T) {
	// flookup -x emits one block of boundary-wrapped outputs per input,
	// blocks separated by blank lines.
	out := "#chien-s#\n#chien-PL#\n\n+?\n"
	blocks := flookupBlocks(out)
	require.Len(t, blocks, 2)
	assert.Equal(t, []string{"#chien-s#", "#chien-PL#"}, blocks[0])
	assert.Equal(t, []string{NoParse}, blocks[1])
}
