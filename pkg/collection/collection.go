// Package collection expands collection documents: inlining nested
// collection references, resolving the referenced-forms set, rendering
// markup to HTML and cascading edits when a referent disappears.
package collection

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/dativebase/old/pkg/model"
	"github.com/dativebase/old/pkg/storage"
)

// Markup languages a collection's contents may be written in. Stored
// values are matched case-insensitively.
const (
	MarkupMarkdown         = "markdown"
	MarkupReStructuredText = "restructuredtext"
)

// Collection references come in two styles, collection[<id>] and
// collection(<id>).
var (
	formRefRe       = regexp.MustCompile(`[Ff]orm\[(\d+)\]`)
	collectionRefRe = regexp.MustCompile(`[Cc]ollection[\[(](\d+)[\])]`)
)

// Engine expands and renders collections.
type Engine struct {
	store    *storage.Store
	logger   *logrus.Logger
	markdown goldmark.Markdown
}

// NewEngine creates a collection engine.
func NewEngine(store *storage.Store, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		store:    store,
		logger:   logger,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Expand computes the collection's derived fields from its contents:
// ContentsUnpacked with every collection[<id>] reference inlined
// recursively, FormIDs as the form references of the unpacked text in
// order, and HTML rendered from the unpacked text. A reference cycle
// yields a CircularReferenceError.
func (e *Engine) Expand(ctx context.Context, c *model.Collection) error {
	seen := map[int]bool{}
	if c.ID != 0 {
		seen[c.ID] = true
	}
	unpacked, err := e.unpack(ctx, c.ID, c.Contents, seen)
	if err != nil {
		return err
	}
	c.ContentsUnpacked = unpacked
	c.FormIDs = FormReferences(unpacked)

	rendered, err := e.render(c.MarkupLanguage, unpacked)
	if err != nil {
		return err
	}
	c.HTML = rendered
	return nil
}

// unpack replaces collection references with the referenced collections'
// own (recursively unpacked) contents. seen holds every collection id on
// the current expansion path.
func (e *Engine) unpack(ctx context.Context, id int, contents string, seen map[int]bool) (string, error) {
	var firstErr error
	out := collectionRefRe.ReplaceAllStringFunc(contents, func(ref string) string {
		if firstErr != nil {
			return ref
		}
		refID, _ := strconv.Atoi(collectionRefRe.FindStringSubmatch(ref)[1])
		if seen[refID] {
			firstErr = &model.CircularReferenceError{CollectionID: refID}
			return ref
		}
		referenced, err := e.store.GetCollection(ctx, refID, true)
		if err != nil {
			firstErr = err
			return ref
		}
		seen[refID] = true
		inner, err := e.unpack(ctx, refID, referenced.Contents, seen)
		delete(seen, refID)
		if err != nil {
			firstErr = err
			return ref
		}
		return inner
	})
	return out, firstErr
}

// FormReferences returns the ids of the form[<id>] references in the text,
// in order of first occurrence.
func FormReferences(contents string) []int {
	var ids []int
	seen := make(map[int]bool)
	for _, m := range formRefRe.FindAllStringSubmatch(contents, -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// render converts the unpacked contents to HTML. reStructuredText gets a
// plain paragraph rendering; there is no native renderer for it.
func (e *Engine) render(markupLanguage, contents string) (string, error) {
	switch strings.ToLower(markupLanguage) {
	case "", MarkupMarkdown:
		var buf bytes.Buffer
		if err := e.markdown.Convert([]byte(contents), &buf); err != nil {
			return "", fmt.Errorf("failed to render markdown: %w", err)
		}
		return strings.TrimSpace(buf.String()), nil
	case MarkupReStructuredText:
		return renderParagraphs(contents), nil
	default:
		return "", model.NewValidationError("markup_language",
			fmt.Sprintf("%s is not a supported markup language", markupLanguage))
	}
}

// renderParagraphs wraps blank-line separated blocks in <p> tags with the
// text escaped.
func renderParagraphs(contents string) string {
	var out []string
	for _, block := range strings.Split(contents, "\n\n") {
		if block = strings.TrimSpace(block); block != "" {
			out = append(out, "<p>"+html.EscapeString(block)+"</p>")
		}
	}
	return strings.Join(out, "\n")
}

// ReferencedForms loads the collection's referenced forms in reference
// order, restricted ones filtered for restricted viewers.
func (e *Engine) ReferencedForms(ctx context.Context, c *model.Collection, unrestricted bool) ([]model.Form, error) {
	visible, err := e.store.VisibleFormIDs(ctx, c.FormIDs, unrestricted)
	if err != nil {
		return nil, err
	}
	return e.store.FormsByIDs(ctx, visible, true)
}

// CascadeFormDeletion rewrites every collection referencing the deleted
// form: the reference strings are removed from contents and the derived
// fields recomputed. The distinct check is skipped since contents may
// collapse to an identical prior state. Referencing collections are found
// by contents scan, so this works before or after the form row is gone.
func (e *Engine) CascadeFormDeletion(ctx context.Context, formID int) error {
	ids, err := e.store.CollectionsMentioningForm(ctx, formID)
	if err != nil {
		return err
	}
	pattern := regexp.MustCompile(fmt.Sprintf(`[Ff]orm\[%d\]`, formID))
	return e.cascade(ctx, ids, pattern)
}

// CascadeCollectionDeletion rewrites every collection referencing the
// deleted collection.
func (e *Engine) CascadeCollectionDeletion(ctx context.Context, collectionID int) error {
	ids, err := e.store.CollectionsReferencingCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	pattern := regexp.MustCompile(fmt.Sprintf(`[Cc]ollection[\[(]%d[\])]`, collectionID))
	return e.cascade(ctx, ids, pattern)
}

func (e *Engine) cascade(ctx context.Context, ids []int, pattern *regexp.Regexp) error {
	for _, id := range ids {
		c, err := e.store.GetCollection(ctx, id, true)
		if err != nil {
			return err
		}
		c.Contents = pattern.ReplaceAllString(c.Contents, "")
		if err := e.Expand(ctx, c); err != nil {
			return err
		}
		if err := e.store.ForceUpdateCollection(ctx, c); err != nil {
			return err
		}
		e.logger.WithFields(logrus.Fields{"collection_id": id}).
			Info("cascaded referent deletion into collection")
	}
	return nil
}
