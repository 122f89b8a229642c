package queryc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dativebase/old/pkg/model"
)

// filter parses a JSON list-form expression the way the HTTP layer would.
func filter(t *testing.T, raw string) interface{} {
	t.Helper()
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func compile(t *testing.T, d Dialect, raw string) *Compiled {
	t.Helper()
	c := NewCompiler(d, "Form")
	compiled, err := c.Compile(Query{Filter: filter(t, raw)})
	require.NoError(t, err)
	return compiled
}

func TestCompileSimple(t *testing.T) {
	tests := []struct {
		name      string
		filter    string
		wantWhere string
		wantArgs  []interface{}
	}{
		{
			name:      "equality on text",
			filter:    `["Form", "transcription", "=", "chien"]`,
			wantWhere: "form.transcription = ?",
			wantArgs:  []interface{}{"chien"},
		},
		{
			name:      "like",
			filter:    `["Form", "morpheme_break", "like", "%chien%"]`,
			wantWhere: "form.morpheme_break LIKE ?",
			wantArgs:  []interface{}{"%chien%"},
		},
		{
			name:      "relation alias",
			filter:    `["Form", "id", "__gt__", 5]`,
			wantWhere: "form.id > ?",
			wantArgs:  []interface{}{float64(5)},
		},
		{
			name:      "regexp",
			filter:    `["Form", "transcription", "regex", "^ch"]`,
			wantWhere: "form.transcription REGEXP ?",
			wantArgs:  []interface{}{"^ch"},
		},
		{
			name:      "in list",
			filter:    `["Form", "id", "in", [1, 2, 3]]`,
			wantWhere: "form.id IN (?, ?, ?)",
			wantArgs:  []interface{}{float64(1), float64(2), float64(3)},
		},
		{
			name:      "empty in list is vacuously false",
			filter:    `["Form", "id", "in", []]`,
			wantWhere: "1 = 0",
			wantArgs:  nil,
		},
		{
			name:      "null equality becomes IS NULL",
			filter:    `["Form", "narrow_phonetic_transcription", "=", null]`,
			wantWhere: "form.narrow_phonetic_transcription IS NULL",
			wantArgs:  nil,
		},
		{
			name:      "fk equality",
			filter:    `["Form", "elicitor", "=", 5]`,
			wantWhere: "form.elicitor_id = ?",
			wantArgs:  []interface{}{float64(5)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := compile(t, SQLite, tt.filter)
			assert.Equal(t, tt.wantWhere, got.Where)
			assert.Equal(t, tt.wantArgs, got.Args)
			assert.Empty(t, got.Joins)
		})
	}
}

func TestCompileBoolean(t *testing.T) {
	got := compile(t, SQLite,
		`["and", [["Form", "transcription", "like", "%a%"],
		          ["not", ["Form", "grammaticality", "=", "*"]],
		          ["or", [["Form", "id", "<", 10], ["Form", "id", ">", 20]]]]]`)
	assert.Equal(t,
		"(form.transcription LIKE ? AND NOT form.grammaticality = ? AND (form.id < ? OR form.id > ?))",
		got.Where)
	assert.Len(t, got.Args, 4)
}

func TestCompileCrossModelAliasing(t *testing.T) {
	// Two conditions on the same collection must get distinct aliases so a
	// form can be required to carry tag 1 AND tag 2.
	got := compile(t, SQLite,
		`["and", [["Form", "tags", "id", "=", 1], ["Form", "tags", "id", "=", 2]]]`)

	assert.Equal(t, "(tag_1.id = ? AND tag_2.id = ?)", got.Where)
	require.Len(t, got.Joins, 4)
	assert.Equal(t, "LEFT OUTER JOIN formtag AS formtag_1 ON formtag_1.form_id = form.id", got.Joins[0])
	assert.Equal(t, "LEFT OUTER JOIN tag AS tag_1 ON tag_1.id = formtag_1.tag_id", got.Joins[1])
	assert.Equal(t, "LEFT OUTER JOIN formtag AS formtag_2 ON formtag_2.form_id = form.id", got.Joins[2])
	assert.Equal(t, "LEFT OUTER JOIN tag AS tag_2 ON tag_2.id = formtag_2.tag_id", got.Joins[3])
}

func TestCompileScalarRefSubAttribute(t *testing.T) {
	got := compile(t, SQLite, `["Form", "enterer", "first_name", "=", "Alice"]`)
	assert.Equal(t, "users_1.first_name = ?", got.Where)
	require.Len(t, got.Joins, 1)
	assert.Equal(t, "LEFT OUTER JOIN users AS users_1 ON users_1.id = form.enterer_id", got.Joins[0])
}

func TestCompileReversedOneToMany(t *testing.T) {
	got := compile(t, SQLite, `["Form", "translations", "transcription", "like", "%dog%"]`)
	assert.Equal(t, "translation_1.transcription LIKE ?", got.Where)
	require.Len(t, got.Joins, 1)
	assert.Equal(t, "LEFT OUTER JOIN translation AS translation_1 ON translation_1.form_id = form.id",
		got.Joins[0])
}

func TestCompileImplicitJoinDiscovery(t *testing.T) {
	// A four-element filter on a non-target model is routed through the
	// target's matching relational attribute.
	got := compile(t, SQLite, `["Translation", "transcription", "like", "%dog%"]`)
	assert.Equal(t, "translation_1.transcription LIKE ?", got.Where)
	require.Len(t, got.Joins, 1)
}

func TestCompileDialects(t *testing.T) {
	t.Run("mysql binary collation and rounding", func(t *testing.T) {
		got := compile(t, MySQL, `["Form", "transcription", "=", "chien"]`)
		assert.Equal(t, "form.transcription COLLATE utf8mb4_bin = ?", got.Where)

		got = compile(t, MySQL, `["Form", "datetime_modified", "=", "2024-05-01T12:00:00.700Z"]`)
		require.Len(t, got.Args, 1)
		ts, ok := got.Args[0].(time.Time)
		require.True(t, ok)
		assert.Equal(t, 0, ts.Nanosecond(), "mysql datetime values round to whole seconds")
		assert.Equal(t, 1, ts.Second())
	})

	t.Run("mysql regexp binary", func(t *testing.T) {
		got := compile(t, MySQL, `["Form", "transcription", "regex", "^ch"]`)
		assert.Equal(t, "form.transcription REGEXP BINARY ?", got.Where)
	})

	t.Run("postgres numbered placeholders", func(t *testing.T) {
		got := compile(t, Postgres,
			`["and", [["Form", "id", ">", 1], ["Form", "id", "<", 9]]]`)
		assert.Equal(t, "(form.id > $1 AND form.id < $2)", got.Where)
	})

	t.Run("sqlite case-insensitive ordering", func(t *testing.T) {
		c := NewCompiler(SQLite, "Form")
		got, err := c.Compile(Query{
			Filter:  filter(t, `["Form", "id", ">", 0]`),
			OrderBy: []interface{}{"Form", "transcription", "desc"},
		})
		require.NoError(t, err)
		assert.Equal(t, "form.transcription COLLATE NOCASE DESC", got.OrderBy)
	})
}

func TestCompileOrderByDefault(t *testing.T) {
	got := compile(t, SQLite, `["Form", "id", ">", 0]`)
	assert.Equal(t, "form.id ASC", got.OrderBy)
}

func TestCompileErrorAccumulation(t *testing.T) {
	c := NewCompiler(SQLite, "Form")
	_, err := c.Compile(Query{Filter: filter(t,
		`["and", [["Bogus", "x", "=", 1],
		          ["Form", "nope", "=", 1],
		          ["Form", "transcription", "<~>", "a"],
		          ["Form", "files", "id", "=", 1],
		          ["Corpus", "name", "=", "x"]]]`)})

	var sperr *model.SearchParseError
	require.ErrorAs(t, err, &sperr)

	assert.Contains(t, sperr.Errors, "Bogus")
	assert.Contains(t, sperr.Errors, "Form.nope")
	assert.Contains(t, sperr.Errors, "Form.transcription.<~>")
	// Corpus is not reachable from Form, so implicit join discovery fails.
	assert.Contains(t, sperr.Errors, "Corpus")
	assert.Equal(t, "Searching the Form model by Corpus is not possible", sperr.Errors["Corpus"])
	// The valid files condition contributes no error.
	assert.NotContains(t, sperr.Errors, "Form.files")
}

func TestCompileDistinctErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		filter  string
		key     string
		message string
	}{
		{
			name:    "unknown model",
			filter:  `["Nonexistent", "id", "=", 1]`,
			key:     "Nonexistent",
			message: "Searching the OLD using the Nonexistent model is not possible",
		},
		{
			name:    "unknown attribute",
			filter:  `["Form", "bogus", "=", 1]`,
			key:     "Form.bogus",
			message: "Searching on the Form.bogus attribute is not permitted",
		},
		{
			name:    "disallowed relation",
			filter:  `["Form", "id", "like", "%1%"]`,
			key:     "Form.id.like",
			message: "The relation like is not permitted for Form.id",
		},
		{
			name:    "fk rejects ordering relations",
			filter:  `["Form", "elicitor", ">", 1]`,
			key:     "Form.elicitor.>",
			message: "The relation > is not permitted for Form.elicitor",
		},
		{
			name:    "bad date",
			filter:  `["Form", "date_elicited", "=", "2012-01-32"]`,
			key:     "Form.date_elicited",
			message: "Date search parameters must be valid ISO 8601 date strings",
		},
		{
			name:    "bad datetime",
			filter:  `["Form", "datetime_entered", "<", "not-a-datetime"]`,
			key:     "Form.datetime_entered",
			message: "Datetime search parameters must be valid ISO 8601 datetime strings",
		},
		{
			name:    "in requires a list",
			filter:  `["Form", "id", "in", 3]`,
			key:     "Form.id.in",
			message: "The value of an in search must be a list",
		},
		{
			name:    "unjoinable collection",
			filter:  `["Corpus", "files", "filename", "=", "x"]`,
			key:     "Corpus.files",
			message: "The files attribute of the Corpus model is not joinable",
		},
		{
			name:    "malformed expression",
			filter:  `["Form", "transcription"]`,
			key:     "Malformed OLD query error",
			message: "The submitted query was malformed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "Form"
			if tt.name == "unjoinable collection" {
				target = "Corpus"
			}
			c := NewCompiler(SQLite, target)
			_, err := c.Compile(Query{Filter: filter(t, tt.filter)})
			var sperr *model.SearchParseError
			require.ErrorAs(t, err, &sperr)
			assert.Equal(t, tt.message, sperr.Errors[tt.key])
		})
	}
}

func TestCompileIdempotentWrapping(t *testing.T) {
	// ["and", [E]] and ["or", [E]] must not change E's semantics: same
	// condition modulo grouping parentheses, same arguments.
	plain := compile(t, SQLite, `["Form", "transcription", "=", "chien"]`)
	wrapped := compile(t, SQLite, `["and", [["Form", "transcription", "=", "chien"]]]`)
	orWrapped := compile(t, SQLite, `["or", [["Form", "transcription", "=", "chien"]]]`)

	assert.Equal(t, "("+plain.Where+")", wrapped.Where)
	assert.Equal(t, "("+plain.Where+")", orWrapped.Where)
	assert.Equal(t, plain.Args, wrapped.Args)
	assert.Equal(t, plain.Args, orWrapped.Args)
}
