// Package queryc compiles list-form filter expressions into SQL.
//
// A filter expression is a recursive JSON list:
//
//	["Form", "transcription", "like", "%chien%"]
//	["Form", "tags", "name", "=", "restricted"]
//	["and", [expr, expr, ...]]
//	["or",  [expr, expr, ...]]
//	["not", expr]
//
// Four-element expressions filter on the target model's own attributes;
// five-element expressions reach through a foreign-key or collection
// attribute into the foreign model, producing an aliased outer join so that
// multiple conditions against the same collection can coexist.
//
// Validation runs against a static schema table and accumulates every
// problem into a keyed error map before failing, so a client sees all of
// its mistakes at once.
package queryc
