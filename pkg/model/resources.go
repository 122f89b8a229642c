package model

import (
	"strconv"
	"strings"
	"time"
)

// RestrictedTagName is the distinguished tag that hides a resource from
// users outside the unrestricted set.
const RestrictedTagName = "restricted"

// Tag labels forms, files and collections. Names are unique.
type Tag struct {
	ID               int       `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	DatetimeModified time.Time `json:"datetime_modified"`
}

// UserRef is the serialized shape of a user reference stored on resources
// and inside backup snapshots.
type UserRef struct {
	ID        int    `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

// User roles.
const (
	RoleAdministrator = "administrator"
	RoleContributor   = "contributor"
	RoleViewer        = "viewer"
)

// IsAdministrator reports whether the user carries the administrator role.
func (u *UserRef) IsAdministrator() bool {
	return u != nil && u.Role == RoleAdministrator
}

// File is an uploaded binary file associated to forms and collections.
type File struct {
	ID               int        `json:"id"`
	Filename         string     `json:"filename"`
	MIMEType         string     `json:"MIME_type"`
	Size             int64      `json:"size"`
	Description      string     `json:"description"`
	Tags             []Tag      `json:"tags"`
	ParentFile       *int       `json:"parent_file"`
	Start            *float64   `json:"start"`
	End              *float64   `json:"end"`
	Enterer          *UserRef   `json:"enterer"`
	DatetimeEntered  time.Time  `json:"datetime_entered"`
	DatetimeModified time.Time  `json:"datetime_modified"`
}

// HasTag reports whether the file carries a tag with the given name.
func (f *File) HasTag(name string) bool {
	for _, t := range f.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

// SyntacticCategory classifies forms and, through them, morphemes.
type SyntacticCategory struct {
	ID               int       `json:"id"`
	Name             string    `json:"name"`
	Type             string    `json:"type"`
	Description      string    `json:"description"`
	DatetimeModified time.Time `json:"datetime_modified"`
}

// FormSearch is a saved, validated list-form query over Form, stored as the
// JSON text of its filter expression.
type FormSearch struct {
	ID               int       `json:"id"`
	Name             string    `json:"name"`
	Search           string    `json:"search"`
	Description      string    `json:"description"`
	Enterer          *UserRef  `json:"enterer"`
	DatetimeModified time.Time `json:"datetime_modified"`
}

// CorpusFile records one artifact written for a corpus.
type CorpusFile struct {
	ID               int       `json:"id"`
	Filename         string    `json:"filename"`
	Format           string    `json:"format"`
	Creator          *UserRef  `json:"creator"`
	Modifier         *UserRef  `json:"modifier"`
	DatetimeCreated  time.Time `json:"datetime_created"`
	DatetimeModified time.Time `json:"datetime_modified"`
}

// Corpus is a collection of forms determined either by a saved form search
// or by an explicit comma-delimited id list in Content. At most one of the
// two may determine membership; the denormalized Forms set is recomputed
// from whichever is set on every save.
type Corpus struct {
	ID               int          `json:"id"`
	UUID             string       `json:"UUID"`
	Name             string       `json:"name"`
	Description      string       `json:"description"`
	Content          string       `json:"content"`
	FormSearch       *FormSearch  `json:"form_search"`
	Forms            []Form       `json:"-"`
	FormIDs          []int        `json:"form_ids"`
	Tags             []Tag        `json:"tags"`
	Files            []CorpusFile `json:"files"`
	Enterer          *UserRef     `json:"enterer"`
	Modifier         *UserRef     `json:"modifier"`
	DatetimeEntered  time.Time    `json:"datetime_entered"`
	DatetimeModified time.Time    `json:"datetime_modified"`
}

// ParseContentIDs parses the explicit id list of a corpus's content field:
// comma-separated integers, whitespace tolerated, duplicates removed with
// first-occurrence order preserved.
func ParseContentIDs(content string) ([]int, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}
	seen := make(map[int]bool)
	var ids []int
	for _, tok := range strings.Split(content, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		id, err := strconv.Atoi(tok)
		if err != nil {
			return nil, NewValidationError("content",
				"Corpus content must be a comma-separated list of form ids; got "+tok)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Collection is a document interpolating form[<id>] and collection[<id>]
// references into markup text.
type Collection struct {
	ID               int       `json:"id"`
	UUID             string    `json:"UUID"`
	Title            string    `json:"title"`
	Type             string    `json:"type"`
	URL              string    `json:"url"`
	Description      string    `json:"description"`
	MarkupLanguage   string    `json:"markup_language"`
	Contents         string    `json:"contents"`
	ContentsUnpacked string    `json:"contents_unpacked"`
	HTML             string    `json:"html"`
	Forms            []Form    `json:"-"`
	FormIDs          []int     `json:"form_ids"`
	Tags             []Tag     `json:"tags"`
	Files            []File    `json:"files"`
	Elicitor         *UserRef  `json:"elicitor"`
	Enterer          *UserRef  `json:"enterer"`
	Modifier         *UserRef  `json:"modifier"`
	DatetimeEntered  time.Time `json:"datetime_entered"`
	DatetimeModified time.Time `json:"datetime_modified"`
}

// ApplicationSettings carries the instance-wide fieldwork configuration the
// core consumes: the unrestricted user set and the morpheme delimiters.
type ApplicationSettings struct {
	ID                  int       `json:"id"`
	ObjectLanguageName  string    `json:"object_language_name"`
	MetalanguageName    string    `json:"metalanguage_name"`
	MorphemeDelimiters  string    `json:"morpheme_delimiters"`
	UnrestrictedUserIDs []int     `json:"unrestricted_users"`
	DatetimeModified    time.Time `json:"datetime_modified"`
}

// Delimiters returns the configured morpheme delimiter inventory, falling
// back to the default when unset.
func (s *ApplicationSettings) Delimiters() []string {
	if s == nil || strings.TrimSpace(s.MorphemeDelimiters) == "" {
		return DefaultMorphemeDelimiters
	}
	parts := strings.Split(s.MorphemeDelimiters, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return DefaultMorphemeDelimiters
	}
	return out
}

// IsUnrestricted reports whether the user may see restricted resources:
// administrators always, otherwise membership in the unrestricted set.
func (s *ApplicationSettings) IsUnrestricted(user *UserRef) bool {
	if user == nil {
		return false
	}
	if user.IsAdministrator() {
		return true
	}
	if s == nil {
		return false
	}
	for _, id := range s.UnrestrictedUserIDs {
		if id == user.ID {
			return true
		}
	}
	return false
}
