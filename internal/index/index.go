// Package index is the local full-text index collaborator: a term→postings
// map built and queried in memory, persisted to a gob snapshot on a dirty
// flag. spec.md names this only as an external contract
// (index_local(doc_id, content, len), query, persist-with-dirty-flag);
// SPEC_FULL.md §3.1 gives it this concrete, minimal shape so POST /index and
// GET /search are runnable end to end. Grounded on lib/db's dirty-notify
// pattern for the save-on-tick discipline, simplified to a single in-process
// flag since there is no multi-writer fan-out here.
package index

import (
	"encoding/gob"
	"os"
	"sort"
	"strings"
	"unicode"
)

// Posting is one document's contribution to a term's postings list.
type Posting struct {
	DocID uint64
	Score uint32
}

// Result is one ranked (doc_id, score) pair returned from a query.
type Result struct {
	DocID uint64
	Score uint32
}

// snapshot is the gob-encoded on-disk representation.
type snapshot struct {
	Postings map[string][]Posting
	NextID   uint64
}

// Index is the term→postings map plus a dirty flag gating persistence. No
// internal locking: callers on the single cooperative thread serialize
// access themselves, matching the rest of this module's concurrency model.
type Index struct {
	postings map[string][]Posting
	dirty    bool
}

func New() *Index {
	return &Index{postings: make(map[string][]Posting)}
}

// Put tokenizes content and records its terms against docID, replacing any
// prior postings for that doc id (re-indexing a doc_id overwrites, it does
// not accumulate duplicate postings).
func (ix *Index) Put(docID uint64, content string) error {
	ix.deleteDoc(docID)
	counts := termFrequencies(content)
	for term, freq := range counts {
		ix.postings[term] = append(ix.postings[term], Posting{DocID: docID, Score: uint32(freq)})
	}
	ix.dirty = true
	return nil
}

// Delete removes every posting for docID.
func (ix *Index) Delete(docID uint64) error {
	ix.deleteDoc(docID)
	ix.dirty = true
	return nil
}

func (ix *Index) deleteDoc(docID uint64) {
	for term, list := range ix.postings {
		out := list[:0]
		for _, p := range list {
			if p.DocID != docID {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			delete(ix.postings, term)
		} else {
			ix.postings[term] = out
		}
	}
}

// Query tokenizes the query string, sums per-document term-frequency scores
// across every query term present in the index, and returns documents with
// at least one matching term ranked by descending score, truncated to
// maxResults.
func (ix *Index) Query(query string, maxResults int) []Result {
	terms := tokenize(query)
	scores := make(map[uint64]uint32)
	for _, term := range terms {
		for _, p := range ix.postings[term] {
			scores[p.DocID] += p.Score
		}
	}
	out := make([]Result, 0, len(scores))
	for docID, score := range scores {
		out = append(out, Result{DocID: docID, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocID < out[j].DocID
	})
	if maxResults > 0 && len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

// Dirty reports whether any Put/Delete has happened since the last Save.
func (ix *Index) Dirty() bool { return ix.dirty }

// Save writes a gob snapshot to path if the index is dirty, then clears the
// dirty flag. A non-dirty index is a no-op, matching the source's
// dirty-flag-gated persistence contract.
func (ix *Index) Save(path string) error {
	if !ix.dirty {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(snapshot{Postings: ix.postings}); err != nil {
		return err
	}
	ix.dirty = false
	return nil
}

// Load replaces the in-memory postings map with the contents of path's gob
// snapshot. A missing file is treated as an empty index, not an error, so a
// fresh node starts cleanly.
func (ix *Index) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			ix.postings = make(map[string][]Posting)
			return nil
		}
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	if snap.Postings == nil {
		snap.Postings = make(map[string][]Posting)
	}
	ix.postings = snap.Postings
	ix.dirty = false
	return nil
}

func termFrequencies(content string) map[string]int {
	counts := make(map[string]int)
	for _, term := range tokenize(content) {
		counts[term]++
	}
	return counts
}

// tokenize lowercases and splits on runs of non-alphanumeric runes. No
// stemming: out of scope per spec.md's Non-goal on query-language
// expressiveness beyond term matching.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
