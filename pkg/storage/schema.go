package storage

import (
	"context"
	"fmt"
	"strings"
)

// CreateSchema creates every table the store uses. Idempotent; used at
// startup when empty_database is unset and throughout the test suites.
func (s *Store) CreateSchema(ctx context.Context) error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	text := "TEXT"
	switch s.dialect.Name() {
	case "mysql":
		pk = "INT NOT NULL AUTO_INCREMENT PRIMARY KEY"
		text = "LONGTEXT"
	case "postgres":
		pk = "SERIAL PRIMARY KEY"
	}

	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
			id %s,
			username VARCHAR(255) NOT NULL UNIQUE,
			first_name VARCHAR(255) NOT NULL DEFAULT '',
			last_name VARCHAR(255) NOT NULL DEFAULT '',
			role VARCHAR(100) NOT NULL DEFAULT 'viewer',
			api_key_hash VARCHAR(64) NOT NULL DEFAULT ''
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tag (
			id %s,
			name VARCHAR(255) NOT NULL UNIQUE,
			description %s,
			datetime_modified TIMESTAMP NOT NULL
		)`, pk, text),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS syntacticcategory (
			id %s,
			name VARCHAR(255) NOT NULL UNIQUE,
			type VARCHAR(60) NOT NULL DEFAULT '',
			description %s,
			datetime_modified TIMESTAMP NOT NULL
		)`, pk, text),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS file (
			id %s,
			filename VARCHAR(255) NOT NULL DEFAULT '',
			mime_type VARCHAR(255) NOT NULL DEFAULT '',
			size BIGINT NOT NULL DEFAULT 0,
			description %s,
			parent_file_id INTEGER,
			start_time DOUBLE PRECISION,
			end_time DOUBLE PRECISION,
			enterer_id INTEGER,
			datetime_entered TIMESTAMP NOT NULL,
			datetime_modified TIMESTAMP NOT NULL
		)`, pk, text),
		`CREATE TABLE IF NOT EXISTS filetag (
			file_id INTEGER NOT NULL,
			tag_id INTEGER NOT NULL,
			PRIMARY KEY (file_id, tag_id)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS form (
			id %s,
			uuid VARCHAR(36) NOT NULL,
			transcription VARCHAR(510) NOT NULL DEFAULT '',
			phonetic_transcription VARCHAR(510) NOT NULL DEFAULT '',
			narrow_phonetic_transcription VARCHAR(510),
			morpheme_break VARCHAR(510) NOT NULL DEFAULT '',
			morpheme_gloss VARCHAR(510) NOT NULL DEFAULT '',
			break_gloss_category VARCHAR(1022) NOT NULL DEFAULT '',
			grammaticality VARCHAR(40) NOT NULL DEFAULT '',
			comments %s,
			speaker_comments %s,
			syntax VARCHAR(1023) NOT NULL DEFAULT '',
			semantics VARCHAR(1023) NOT NULL DEFAULT '',
			status VARCHAR(40) NOT NULL DEFAULT 'tested',
			syntactic_category_id INTEGER,
			syntactic_category_string VARCHAR(510) NOT NULL DEFAULT '',
			elicitor_id INTEGER,
			enterer_id INTEGER,
			verifier_id INTEGER,
			modifier_id INTEGER,
			date_elicited DATE,
			datetime_entered TIMESTAMP NOT NULL,
			datetime_modified TIMESTAMP NOT NULL,
			morpheme_break_ids %s,
			morpheme_gloss_ids %s
		)`, pk, text, text, text, text),
		`CREATE TABLE IF NOT EXISTS formtag (
			form_id INTEGER NOT NULL,
			tag_id INTEGER NOT NULL,
			PRIMARY KEY (form_id, tag_id)
		)`,
		`CREATE TABLE IF NOT EXISTS formfile (
			form_id INTEGER NOT NULL,
			file_id INTEGER NOT NULL,
			PRIMARY KEY (form_id, file_id)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS translation (
			id %s,
			form_id INTEGER NOT NULL,
			transcription VARCHAR(510) NOT NULL DEFAULT '',
			grammaticality VARCHAR(40) NOT NULL DEFAULT '',
			position INTEGER NOT NULL DEFAULT 0
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS formsearch (
			id %s,
			name VARCHAR(255) NOT NULL UNIQUE,
			search %s,
			description %s,
			enterer_id INTEGER,
			datetime_modified TIMESTAMP NOT NULL
		)`, pk, text, text),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS corpus (
			id %s,
			uuid VARCHAR(36) NOT NULL,
			name VARCHAR(255) NOT NULL UNIQUE,
			description %s,
			content %s,
			form_search_id INTEGER,
			enterer_id INTEGER,
			modifier_id INTEGER,
			datetime_entered TIMESTAMP NOT NULL,
			datetime_modified TIMESTAMP NOT NULL
		)`, pk, text, text),
		`CREATE TABLE IF NOT EXISTS corpusform (
			corpus_id INTEGER NOT NULL,
			form_id INTEGER NOT NULL,
			PRIMARY KEY (corpus_id, form_id)
		)`,
		`CREATE TABLE IF NOT EXISTS corpustag (
			corpus_id INTEGER NOT NULL,
			tag_id INTEGER NOT NULL,
			PRIMARY KEY (corpus_id, tag_id)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS corpusfile (
			id %s,
			corpus_id INTEGER NOT NULL,
			filename VARCHAR(255) NOT NULL,
			format VARCHAR(255) NOT NULL,
			creator_id INTEGER,
			modifier_id INTEGER,
			datetime_created TIMESTAMP NOT NULL,
			datetime_modified TIMESTAMP NOT NULL
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS collection (
			id %s,
			uuid VARCHAR(36) NOT NULL,
			title VARCHAR(255) NOT NULL DEFAULT '',
			type VARCHAR(255) NOT NULL DEFAULT '',
			url VARCHAR(255) NOT NULL DEFAULT '',
			description %s,
			markup_language VARCHAR(100) NOT NULL DEFAULT 'reStructuredText',
			contents %s,
			contents_unpacked %s,
			html %s,
			elicitor_id INTEGER,
			enterer_id INTEGER,
			modifier_id INTEGER,
			datetime_entered TIMESTAMP NOT NULL,
			datetime_modified TIMESTAMP NOT NULL
		)`, pk, text, text, text, text),
		`CREATE TABLE IF NOT EXISTS collectionform (
			collection_id INTEGER NOT NULL,
			form_id INTEGER NOT NULL,
			PRIMARY KEY (collection_id, form_id)
		)`,
		`CREATE TABLE IF NOT EXISTS collectiontag (
			collection_id INTEGER NOT NULL,
			tag_id INTEGER NOT NULL,
			PRIMARY KEY (collection_id, tag_id)
		)`,
		`CREATE TABLE IF NOT EXISTS collectionfile (
			collection_id INTEGER NOT NULL,
			file_id INTEGER NOT NULL,
			PRIMARY KEY (collection_id, file_id)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS phonology (
			id %s,
			uuid VARCHAR(36) NOT NULL,
			name VARCHAR(255) NOT NULL UNIQUE,
			description %s,
			script %s,
			enterer_id INTEGER,
			modifier_id INTEGER,
			datetime_entered TIMESTAMP NOT NULL,
			datetime_modified TIMESTAMP NOT NULL,
			compile_succeeded BOOLEAN NOT NULL DEFAULT FALSE,
			compile_message %s,
			compile_attempt VARCHAR(36) NOT NULL DEFAULT '',
			datetime_compiled TIMESTAMP
		)`, pk, text, text, text),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS morphology (
			id %s,
			uuid VARCHAR(36) NOT NULL,
			name VARCHAR(255) NOT NULL UNIQUE,
			description %s,
			script_type VARCHAR(10) NOT NULL DEFAULT 'lexc',
			rules %s,
			rules_corpus_id INTEGER,
			lexicon_corpus_id INTEGER,
			rich_upper BOOLEAN NOT NULL DEFAULT FALSE,
			rich_lower BOOLEAN NOT NULL DEFAULT FALSE,
			include_unknowns BOOLEAN NOT NULL DEFAULT FALSE,
			extract_morphemes_from_rules_corpus BOOLEAN NOT NULL DEFAULT FALSE,
			rare_delimiter VARCHAR(10) NOT NULL DEFAULT '',
			enterer_id INTEGER,
			modifier_id INTEGER,
			datetime_entered TIMESTAMP NOT NULL,
			datetime_modified TIMESTAMP NOT NULL,
			generate_succeeded BOOLEAN NOT NULL DEFAULT FALSE,
			generate_message %s,
			generate_attempt VARCHAR(36) NOT NULL DEFAULT '',
			compile_succeeded BOOLEAN NOT NULL DEFAULT FALSE,
			compile_message %s,
			compile_attempt VARCHAR(36) NOT NULL DEFAULT '',
			datetime_compiled TIMESTAMP
		)`, pk, text, text, text, text),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS morphemelanguagemodel (
			id %s,
			uuid VARCHAR(36) NOT NULL,
			name VARCHAR(255) NOT NULL UNIQUE,
			description %s,
			corpus_id INTEGER NOT NULL,
			vocabulary_morphology_id INTEGER,
			toolkit VARCHAR(30) NOT NULL DEFAULT 'mitlm',
			ngram_order INTEGER NOT NULL DEFAULT 3,
			smoothing VARCHAR(30) NOT NULL DEFAULT '',
			categorial BOOLEAN NOT NULL DEFAULT FALSE,
			rare_delimiter VARCHAR(10) NOT NULL DEFAULT '',
			enterer_id INTEGER,
			modifier_id INTEGER,
			datetime_entered TIMESTAMP NOT NULL,
			datetime_modified TIMESTAMP NOT NULL,
			generate_succeeded BOOLEAN NOT NULL DEFAULT FALSE,
			generate_message %s,
			generate_attempt VARCHAR(36) NOT NULL DEFAULT '',
			perplexity DOUBLE PRECISION,
			perplexity_attempt VARCHAR(36) NOT NULL DEFAULT '',
			perplexity_computed BOOLEAN NOT NULL DEFAULT FALSE
		)`, pk, text, text),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS morphologicalparser (
			id %s,
			uuid VARCHAR(36) NOT NULL,
			name VARCHAR(255) NOT NULL UNIQUE,
			description %s,
			phonology_id INTEGER NOT NULL,
			morphology_id INTEGER NOT NULL,
			language_model_id INTEGER NOT NULL,
			enterer_id INTEGER,
			modifier_id INTEGER,
			datetime_entered TIMESTAMP NOT NULL,
			datetime_modified TIMESTAMP NOT NULL,
			generate_succeeded BOOLEAN NOT NULL DEFAULT FALSE,
			generate_message %s,
			generate_attempt VARCHAR(36) NOT NULL DEFAULT '',
			compile_succeeded BOOLEAN NOT NULL DEFAULT FALSE,
			compile_message %s,
			compile_attempt VARCHAR(36) NOT NULL DEFAULT '',
			datetime_compiled TIMESTAMP
		)`, pk, text, text, text),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS backup (
			id %s,
			kind VARCHAR(60) NOT NULL,
			resource_id INTEGER NOT NULL,
			uuid VARCHAR(36) NOT NULL,
			snapshot %s,
			datetime_modified TIMESTAMP NOT NULL
		)`, pk, text),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS applicationsettings (
			id %s,
			object_language_name VARCHAR(255) NOT NULL DEFAULT '',
			metalanguage_name VARCHAR(255) NOT NULL DEFAULT '',
			morpheme_delimiters VARCHAR(255) NOT NULL DEFAULT '-,=',
			unrestricted_users %s,
			datetime_modified TIMESTAMP NOT NULL
		)`, pk, text),
		`CREATE INDEX IF NOT EXISTS ix_backup_uuid ON backup (uuid)`,
		`CREATE INDEX IF NOT EXISTS ix_form_uuid ON form (uuid)`,
	}

	for _, stmt := range ddl {
		if s.dialect.Name() == "mysql" {
			// MySQL predates CREATE INDEX IF NOT EXISTS; skip, the UNIQUE
			// and PRIMARY KEY constraints above carry the load-bearing
			// indexes there.
			if strings.HasPrefix(stmt, "CREATE INDEX") {
				continue
			}
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}
