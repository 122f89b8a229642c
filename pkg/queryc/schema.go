package queryc

// ValueType is the semantic type of a searchable attribute; it governs which
// relations are permitted and how values are converted.
type ValueType int

// Attribute value types.
const (
	TypeText ValueType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeDate
	TypeDatetime
)

// AttrKind distinguishes a model's own columns from its foreign-model
// attributes.
type AttrKind int

const (
	// Scalar is a column on the model's own table.
	Scalar AttrKind = iota
	// ScalarRef is a many-to-one foreign key.
	ScalarRef
	// CollectionRef is a many-to-many association (or a reversed
	// one-to-many when AssocTable is empty).
	CollectionRef
)

// Attr describes one searchable attribute of a model.
type Attr struct {
	Kind   AttrKind
	Column string    // SQL column; for ScalarRef this is the FK column
	Type   ValueType // value type for Scalar attributes

	Foreign    string // foreign model name for ScalarRef/CollectionRef
	AssocTable string // many-to-many association table
	LocalKey   string // association column referencing this model
	ForeignKey string // association column referencing the foreign model

	// Joinable marks whether the attribute may appear in a five-element
	// cross-model filter.
	Joinable bool
}

// Model describes one searchable model.
type Model struct {
	Table string
	Attrs map[string]Attr
}

func scalar(col string, t ValueType) Attr {
	return Attr{Kind: Scalar, Column: col, Type: t}
}

func scalarRef(col, foreign string) Attr {
	return Attr{Kind: ScalarRef, Column: col, Foreign: foreign, Joinable: true}
}

func collection(foreign, assoc, localKey, foreignKey string) Attr {
	return Attr{Kind: CollectionRef, Foreign: foreign, AssocTable: assoc,
		LocalKey: localKey, ForeignKey: foreignKey, Joinable: true}
}

// Schema is the static table of searchable models, their attributes and the
// joins admissible in cross-model filters.
var Schema = map[string]Model{
	"Form": {
		Table: "form",
		Attrs: map[string]Attr{
			"id":                            scalar("id", TypeInt),
			"UUID":                          scalar("uuid", TypeText),
			"transcription":                 scalar("transcription", TypeText),
			"phonetic_transcription":        scalar("phonetic_transcription", TypeText),
			"narrow_phonetic_transcription": scalar("narrow_phonetic_transcription", TypeText),
			"morpheme_break":                scalar("morpheme_break", TypeText),
			"morpheme_gloss":                scalar("morpheme_gloss", TypeText),
			"break_gloss_category":          scalar("break_gloss_category", TypeText),
			"grammaticality":                scalar("grammaticality", TypeText),
			"comments":                      scalar("comments", TypeText),
			"speaker_comments":              scalar("speaker_comments", TypeText),
			"syntax":                        scalar("syntax", TypeText),
			"semantics":                     scalar("semantics", TypeText),
			"status":                        scalar("status", TypeText),
			"syntactic_category_string":     scalar("syntactic_category_string", TypeText),
			"morpheme_break_ids":            scalar("morpheme_break_ids", TypeText),
			"morpheme_gloss_ids":            scalar("morpheme_gloss_ids", TypeText),
			"date_elicited":                 scalar("date_elicited", TypeDate),
			"datetime_entered":              scalar("datetime_entered", TypeDatetime),
			"datetime_modified":             scalar("datetime_modified", TypeDatetime),

			"syntactic_category": scalarRef("syntactic_category_id", "SyntacticCategory"),
			"elicitor":           scalarRef("elicitor_id", "User"),
			"enterer":            scalarRef("enterer_id", "User"),
			"verifier":           scalarRef("verifier_id", "User"),
			"modifier":           scalarRef("modifier_id", "User"),

			"tags":         collection("Tag", "formtag", "form_id", "tag_id"),
			"files":        collection("File", "formfile", "form_id", "file_id"),
			"translations": {Kind: CollectionRef, Foreign: "Translation", LocalKey: "form_id", Joinable: true},
		},
	},
	"Tag": {
		Table: "tag",
		Attrs: map[string]Attr{
			"id":                scalar("id", TypeInt),
			"name":              scalar("name", TypeText),
			"description":       scalar("description", TypeText),
			"datetime_modified": scalar("datetime_modified", TypeDatetime),
		},
	},
	"File": {
		Table: "file",
		Attrs: map[string]Attr{
			"id":                scalar("id", TypeInt),
			"filename":          scalar("filename", TypeText),
			"MIME_type":         scalar("mime_type", TypeText),
			"size":              scalar("size", TypeInt),
			"description":       scalar("description", TypeText),
			"datetime_entered":  scalar("datetime_entered", TypeDatetime),
			"datetime_modified": scalar("datetime_modified", TypeDatetime),
			"enterer":           scalarRef("enterer_id", "User"),
			"tags":              collection("Tag", "filetag", "file_id", "tag_id"),
		},
	},
	"Translation": {
		Table: "translation",
		Attrs: map[string]Attr{
			"id":             scalar("id", TypeInt),
			"transcription":  scalar("transcription", TypeText),
			"grammaticality": scalar("grammaticality", TypeText),
		},
	},
	"SyntacticCategory": {
		Table: "syntacticcategory",
		Attrs: map[string]Attr{
			"id":                scalar("id", TypeInt),
			"name":              scalar("name", TypeText),
			"type":              scalar("type", TypeText),
			"description":       scalar("description", TypeText),
			"datetime_modified": scalar("datetime_modified", TypeDatetime),
		},
	},
	"User": {
		Table: "users",
		Attrs: map[string]Attr{
			"id":         scalar("id", TypeInt),
			"first_name": scalar("first_name", TypeText),
			"last_name":  scalar("last_name", TypeText),
			"role":       scalar("role", TypeText),
		},
	},
	"FormSearch": {
		Table: "formsearch",
		Attrs: map[string]Attr{
			"id":                scalar("id", TypeInt),
			"name":              scalar("name", TypeText),
			"search":            scalar("search", TypeText),
			"description":       scalar("description", TypeText),
			"datetime_modified": scalar("datetime_modified", TypeDatetime),
			"enterer":           scalarRef("enterer_id", "User"),
		},
	},
	"Corpus": {
		Table: "corpus",
		Attrs: map[string]Attr{
			"id":                scalar("id", TypeInt),
			"UUID":              scalar("uuid", TypeText),
			"name":              scalar("name", TypeText),
			"description":       scalar("description", TypeText),
			"content":           scalar("content", TypeText),
			"datetime_entered":  scalar("datetime_entered", TypeDatetime),
			"datetime_modified": scalar("datetime_modified", TypeDatetime),
			"enterer":           scalarRef("enterer_id", "User"),
			"modifier":          scalarRef("modifier_id", "User"),
			"form_search":       scalarRef("form_search_id", "FormSearch"),
			"forms":             collection("Form", "corpusform", "corpus_id", "form_id"),
			"tags":              collection("Tag", "corpustag", "corpus_id", "tag_id"),
			// Corpus files are on-disk artifact records, not joinable rows.
			"files": {Kind: CollectionRef, Foreign: "CorpusFile", Joinable: false},
		},
	},
	"Collection": {
		Table: "collection",
		Attrs: map[string]Attr{
			"id":                scalar("id", TypeInt),
			"UUID":              scalar("uuid", TypeText),
			"title":             scalar("title", TypeText),
			"type":              scalar("type", TypeText),
			"url":               scalar("url", TypeText),
			"description":       scalar("description", TypeText),
			"markup_language":   scalar("markup_language", TypeText),
			"contents":          scalar("contents", TypeText),
			"contents_unpacked": scalar("contents_unpacked", TypeText),
			"html":              scalar("html", TypeText),
			"datetime_entered":  scalar("datetime_entered", TypeDatetime),
			"datetime_modified": scalar("datetime_modified", TypeDatetime),
			"elicitor":          scalarRef("elicitor_id", "User"),
			"enterer":           scalarRef("enterer_id", "User"),
			"modifier":          scalarRef("modifier_id", "User"),
			"tags":              collection("Tag", "collectiontag", "collection_id", "tag_id"),
			"files":             collection("File", "collectionfile", "collection_id", "file_id"),
			"forms":             collection("Form", "collectionform", "collection_id", "form_id"),
		},
	},
}
