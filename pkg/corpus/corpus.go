// Package corpus materializes corpora: resolving their form membership,
// writing treebank and transcription files, indexing treebanks for tgrep2
// and searching them with restricted-visibility filtering.
package corpus

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dativebase/old/pkg/layout"
	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/queryc"
	"github.com/dativebase/old/pkg/storage"
	"github.com/dativebase/old/pkg/toolkit"
	"github.com/dativebase/old/pkg/worker"
)

// Corpus file formats.
const (
	FormatTreebank       = "treebank"
	FormatTranscriptions = "transcriptions"
)

// treeLabelRe extracts the form id a written tree was labelled with.
var treeLabelRe = regexp.MustCompile(`^\(TOP-(\d+)\b`)

// Engine resolves corpus membership and manages corpus artifacts.
type Engine struct {
	store  *storage.Store
	layout *layout.Layout
	tgrep2 *toolkit.TGrep2
	logger *logrus.Logger
}

// NewEngine creates a corpus engine.
func NewEngine(store *storage.Store, l *layout.Layout, tg *toolkit.TGrep2, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{store: store, layout: l, tgrep2: tg, logger: logger}
}

// ResolveForms computes the corpus's form membership: the saved form search
// when one is attached, otherwise the explicit id list in content. The
// membership itself includes restricted forms; visibility is enforced when
// forms are read back.
func (e *Engine) ResolveForms(ctx context.Context, c *model.Corpus) ([]int, error) {
	if c.FormSearch != nil {
		var q queryc.Query
		if err := json.Unmarshal([]byte(c.FormSearch.Search), &q); err != nil {
			return nil, model.NewValidationError("form_search",
				"The form search of this corpus holds an unreadable query")
		}
		compiled, err := queryc.NewCompiler(e.store.Dialect(), "Form").Compile(q)
		if err != nil {
			return nil, err
		}
		forms, _, err := e.store.SearchForms(ctx, compiled, true, 0, 0)
		if err != nil {
			return nil, err
		}
		ids := make([]int, len(forms))
		for i := range forms {
			ids[i] = forms[i].ID
		}
		return ids, nil
	}
	return model.ParseContentIDs(c.Content)
}

// Sync recomputes membership and persists it to the corpusform table.
func (e *Engine) Sync(ctx context.Context, c *model.Corpus) ([]int, error) {
	ids, err := e.ResolveForms(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := e.store.ReplaceCorpusForms(ctx, c.ID, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// forms loads the corpus's member forms in membership order.
func (e *Engine) forms(ctx context.Context, c *model.Corpus) ([]model.Form, error) {
	ids := c.FormIDs
	if len(ids) == 0 {
		fetched, err := e.store.CorpusFormIDs(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		ids = fetched
	}
	return e.store.FormsByIDs(ctx, ids, true)
}

// FilePath returns where a corpus file of the given format lives.
func (e *Engine) FilePath(corpusID int, format string) (string, error) {
	switch format {
	case FormatTreebank:
		return e.layout.CorpusFilePath(corpusID, layout.TreebankSuffix), nil
	case FormatTranscriptions:
		return e.layout.CorpusFilePath(corpusID, layout.TranscriptionsSuffix), nil
	default:
		return "", model.NewValidationError("format",
			fmt.Sprintf("%s is not a supported corpus file format", format))
	}
}

// ContentType returns the MIME type a corpus artifact should be served as.
func ContentType(filename string) string {
	switch filepath.Ext(filename) {
	case ".gz":
		return "application/x-gzip"
	case layout.TGrep2CorpusSuffix:
		return "application/octet-stream"
	default:
		return "text/plain; charset=utf-8"
	}
}

// WriteToFile renders the corpus in the given format, writes a gzipped
// sibling, indexes treebanks for tgrep2 when the tool is present, and
// records the artifact on the corpus.
func (e *Engine) WriteToFile(ctx context.Context, c *model.Corpus, format string, creator *model.UserRef) (*model.CorpusFile, error) {
	path, err := e.FilePath(c.ID, format)
	if err != nil {
		return nil, err
	}
	forms, err := e.forms(ctx, c)
	if err != nil {
		return nil, err
	}
	if _, err := e.layout.ResourceDir(layout.CorporaDir, c.ID); err != nil {
		return nil, err
	}

	var content strings.Builder
	switch format {
	case FormatTreebank:
		for i := range forms {
			if syntax := strings.TrimSpace(forms[i].Syntax); syntax != "" {
				fmt.Fprintf(&content, "(TOP-%d %s)\n", forms[i].ID, syntax)
			}
		}
	case FormatTranscriptions:
		for i := range forms {
			if tr := strings.TrimSpace(forms[i].Transcription); tr != "" {
				content.WriteString(tr)
				content.WriteString("\n")
			}
		}
	}
	if err := os.WriteFile(path, []byte(content.String()), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write corpus file: %w", err)
	}
	if err := writeGzip(path); err != nil {
		return nil, err
	}

	if format == FormatTreebank {
		if err := e.tgrep2.Installed(); err == nil {
			t2c := e.layout.CorpusFilePath(c.ID, layout.TGrep2CorpusSuffix)
			if err := e.tgrep2.BuildCorpus(ctx, path, t2c); err != nil {
				return nil, fmt.Errorf("failed to index treebank: %w", err)
			}
		} else {
			e.logger.WithField("corpus_id", c.ID).
				Warn("tgrep2 is not installed, treebank left unindexed")
		}
	}

	cf := &model.CorpusFile{
		Filename: filepath.Base(path),
		Format:   format,
		Creator:  creator,
		Modifier: creator,
	}
	if err := e.store.AddCorpusFile(ctx, c.ID, cf); err != nil {
		return nil, err
	}
	return cf, nil
}

// WriteToFileJob queues a corpus file write.
func (e *Engine) WriteToFileJob(c *model.Corpus, format string, creator *model.UserRef) worker.Job {
	return worker.Job{
		Name:    fmt.Sprintf("corpus %d write %s", c.ID, format),
		Attempt: uuid.NewString(),
		Run: func(ctx context.Context) error {
			_, err := e.WriteToFile(ctx, c, format, creator)
			return err
		},
	}
}

func writeGzip(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to reopen corpus file: %w", err)
	}
	defer src.Close()
	dst, err := os.Create(path + ".gz")
	if err != nil {
		return fmt.Errorf("failed to create gzipped corpus file: %w", err)
	}
	defer dst.Close()
	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		return fmt.Errorf("failed to gzip corpus file: %w", err)
	}
	return zw.Close()
}

// Match is one tgrep2 hit mapped back to its source form.
type Match struct {
	FormID int      `json:"form_id"`
	Trees  []string `json:"trees"`
}

// SearchTreebank runs a tgrep2 pattern over the corpus's indexed treebank.
// Hits on forms the viewer may not see are dropped.
func (e *Engine) SearchTreebank(ctx context.Context, c *model.Corpus, pattern string, unrestricted bool) ([]Match, error) {
	if err := e.tgrep2.Installed(); err != nil {
		return nil, err
	}
	t2c := e.layout.CorpusFilePath(c.ID, layout.TGrep2CorpusSuffix)
	if _, err := os.Stat(t2c); err != nil {
		return nil, model.NewValidationError("search",
			fmt.Sprintf("Corpus %d has not been written as an indexed treebank", c.ID))
	}
	trees, err := e.tgrep2.Search(ctx, t2c, pattern)
	if err != nil {
		return nil, err
	}

	byForm := make(map[int][]string)
	var order []int
	for _, tree := range trees {
		m := treeLabelRe.FindStringSubmatch(tree)
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, seen := byForm[id]; !seen {
			order = append(order, id)
		}
		byForm[id] = append(byForm[id], tree)
	}

	visible, err := e.store.VisibleFormIDs(ctx, order, unrestricted)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(visible))
	for _, id := range visible {
		matches = append(matches, Match{FormID: id, Trees: byForm[id]})
	}
	return matches, nil
}

// WordCategorySequences returns the distinct word-level category sequences
// of the corpus with the ids of the forms exhibiting each, best supported
// first. Sequences attested in fewer than minCount forms are dropped; a
// non-positive minCount keeps everything.
func (e *Engine) WordCategorySequences(ctx context.Context, c *model.Corpus, delimiters []string, minCount int) ([]CategorySequence, error) {
	forms, err := e.forms(ctx, c)
	if err != nil {
		return nil, err
	}
	bysSeq := make(map[string][]int)
	for i := range forms {
		f := &forms[i]
		seen := make(map[string]bool)
		for _, word := range strings.Fields(f.BreakGlossCategory) {
			seq := (&model.Form{BreakGlossCategory: word}).CategorySequence(delimiters)
			if seq == "" || seen[seq] {
				continue
			}
			seen[seq] = true
			bysSeq[seq] = append(bysSeq[seq], f.ID)
		}
	}
	out := make([]CategorySequence, 0, len(bysSeq))
	for seq, ids := range bysSeq {
		if minCount > 0 && len(ids) < minCount {
			continue
		}
		out = append(out, CategorySequence{Sequence: seq, FormIDs: ids})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].FormIDs) != len(out[j].FormIDs) {
			return len(out[i].FormIDs) > len(out[j].FormIDs)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

// CategorySequence pairs one word-level category sequence with the forms
// containing it.
type CategorySequence struct {
	Sequence string `json:"sequence"`
	FormIDs  []int  `json:"form_ids"`
}
