// Package layout maps derived resources to their on-disk artifact
// directories: scripts, compiled FST binaries, ARPA files and caches all
// live under a per-resource directory beneath the store root.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
)

// Artifact file names. FST-bearing resources use id-prefixed basenames
// (phonology_3.script, phonology_3.foma); language-model and parser-cache
// artifacts are directory-scoped.
const (
	ScriptSuffix  = ".script"
	BinarySuffix  = ".foma"
	LexiconSuffix = "_lexicon.gob"

	CorpusFile     = "corpus.txt"
	VocabularyFile = "vocab.txt"
	ARPAFile       = "arpa.txt"
	TrieFile       = "trie.gob"
	ParseCacheFile = "cache.gob"

	TreebankSuffix       = ".tbk"
	TGrep2CorpusSuffix   = ".t2c"
	TranscriptionsSuffix = ".txt"
)

// Resource families. The family names a resource's id-prefixed artifacts;
// its directory under the root is the plural form.
const (
	PhonologyDir  = "phonology"
	MorphologyDir = "morphology"
	LMDir         = "morpheme_language_model"
	ParserDir     = "morphological_parser"
	CorporaDir    = "corpus"
)

var familyDirs = map[string]string{
	PhonologyDir:  "phonologies",
	MorphologyDir: "morphologies",
	LMDir:         "morpheme_language_models",
	ParserDir:     "morphological_parsers",
	CorporaDir:    "corpora",
}

// Layout resolves artifact paths beneath a store root directory.
type Layout struct {
	root string
}

// New creates a layout over the given root.
func New(root string) *Layout {
	return &Layout{root: root}
}

// Root returns the store root directory.
func (l *Layout) Root() string { return l.root }

// ResourceDir returns (creating if needed) the directory of one resource,
// e.g. <root>/phonologies/phonology_3.
func (l *Layout) ResourceDir(family string, id int) (string, error) {
	dir := l.resourceDir(family, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", family, err)
	}
	return dir, nil
}

func (l *Layout) resourceDir(family string, id int) string {
	return filepath.Join(l.FamilyDir(family), fmt.Sprintf("%s_%d", family, id))
}

// FamilyDir returns the top-level directory holding one family's resource
// directories, e.g. <root>/phonologies.
func (l *Layout) FamilyDir(family string) string {
	top, ok := familyDirs[family]
	if !ok {
		top = family
	}
	return filepath.Join(l.root, top)
}

// RemoveResourceDir deletes a resource's artifact directory; deleting the
// database row orphans the artifacts otherwise.
func (l *Layout) RemoveResourceDir(family string, id int) error {
	dir := l.resourceDir(family, id)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s directory: %w", family, err)
	}
	return nil
}

// Path returns the path of a named artifact inside a resource directory
// without creating anything.
func (l *Layout) Path(family string, id int, name string) string {
	return filepath.Join(l.resourceDir(family, id), name)
}

// ScriptPath returns the id-prefixed script path of an FST resource, e.g.
// <root>/phonologies/phonology_3/phonology_3.script.
func (l *Layout) ScriptPath(family string, id int) string {
	return l.Path(family, id, fmt.Sprintf("%s_%d%s", family, id, ScriptSuffix))
}

// BinaryPath returns the compiled-FST path of a resource, e.g.
// <root>/phonologies/phonology_3/phonology_3.foma.
func (l *Layout) BinaryPath(family string, id int) string {
	return l.Path(family, id, fmt.Sprintf("%s_%d%s", family, id, BinarySuffix))
}

// LexiconPath returns a morphology's generate-time lexicon snapshot, e.g.
// <root>/morphologies/morphology_4/morphology_4_lexicon.gob.
func (l *Layout) LexiconPath(id int) string {
	return l.Path(MorphologyDir, id, fmt.Sprintf("%s_%d%s", MorphologyDir, id, LexiconSuffix))
}

// CorpusFilePath returns the path of a corpus artifact, e.g.
// <root>/corpora/corpus_7/corpus_7.tbk.
func (l *Layout) CorpusFilePath(id int, suffix string) string {
	return filepath.Join(l.resourceDir(CorporaDir, id),
		fmt.Sprintf("corpus_%d%s", id, suffix))
}

// Fresh reports whether the artifact at path exists and is no older than
// every source. Missing sources count as stale.
func Fresh(path string, sources ...string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	for _, src := range sources {
		srcInfo, err := os.Stat(src)
		if err != nil {
			return false
		}
		if srcInfo.ModTime().After(info.ModTime()) {
			return false
		}
	}
	return true
}
