// Package api exposes the database over HTTP. Every linguistic resource
// gets CRUD routes plus a history endpoint backed by backup-on-mutate
// snapshots; forms, files, collections and corpora additionally honor
// restricted-tag visibility. Search endpoints accept the list-form
// query language and compile it to SQL. Grammar resources (phonologies,
// morphologies, language models, parsers) queue their foma and MITLM
// work on single-slot worker queues and report an attempt nonce so
// clients can poll for completion.
package api
