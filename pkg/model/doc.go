// Package model defines the entities of the Online Linguistic Database:
// glossed forms, corpora, saved searches, and the derived computational
// resources (phonologies, morphologies, morpheme language models, and
// morphological parsers) that are compiled from them.
//
// Every mutable resource carries a UUID shared with its backup rows, so a
// resource's history remains retrievable after the live row is deleted.
package model
