package layout

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceDirLifecycle(t *testing.T) {
	l := New(t.TempDir())

	dir, err := l.ResourceDir(PhonologyDir, 3)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(l.Root(), "phonologies", "phonology_3"), dir)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	script := l.ScriptPath(PhonologyDir, 3)
	assert.Equal(t, filepath.Join(dir, "phonology_3.script"), script)
	require.NoError(t, os.WriteFile(script, []byte("define phonology a -> b;"), 0o644))

	require.NoError(t, l.RemoveResourceDir(PhonologyDir, 3))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestArtifactPaths(t *testing.T) {
	l := New("/data/old")
	assert.Equal(t, "/data/old/phonologies/phonology_3/phonology_3.foma",
		l.BinaryPath(PhonologyDir, 3))
	assert.Equal(t, "/data/old/morphologies/morphology_4/morphology_4_lexicon.gob",
		l.LexiconPath(4))
	assert.Equal(t, "/data/old/morphological_parsers/morphological_parser_2/morphological_parser_2.script",
		l.ScriptPath(ParserDir, 2))
}

func TestCorpusFilePath(t *testing.T) {
	l := New("/data/old")
	assert.Equal(t, "/data/old/corpora/corpus_7/corpus_7.tbk",
		l.CorpusFilePath(7, TreebankSuffix))
}

func TestFresh(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "script")
	binary := filepath.Join(dir, "binary")

	require.NoError(t, os.WriteFile(source, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(binary, []byte("b"), 0o644))

	old := time.Now().Add(-time.Hour)
	newer := time.Now()

	require.NoError(t, os.Chtimes(source, old, old))
	require.NoError(t, os.Chtimes(binary, newer, newer))
	assert.True(t, Fresh(binary, source))

	// An edited source makes the binary stale.
	require.NoError(t, os.Chtimes(source, newer.Add(time.Minute), newer.Add(time.Minute)))
	assert.False(t, Fresh(binary, source))

	assert.False(t, Fresh(filepath.Join(dir, "missing"), source))
	assert.False(t, Fresh(binary, filepath.Join(dir, "missing")))
}
