// Package docstream implements the append-only doc series operations:
// note/trace/mindpack/plan_spec tailing and cross-branch diffing.
package docstream

import (
	"branchmind/internal/logging"
	"branchmind/internal/store"
)

// Well-known doc stream names.
const (
	DocNotes    = "notes"
	DocTrace    = "trace"
	DocMindpack = "mindpack"
	DocPlanSpec = "plan_spec"
)

// AppendNote appends an entry to a (branch, doc) stream.
func AppendNote(s *store.Store, workspace, branch, doc, title, format, metaJSON, content string) (store.DocEntry, error) {
	entry, err := s.AppendDocEntry(workspace, branch, doc, title, format, metaJSON, content)
	if err != nil {
		return store.DocEntry{}, err
	}
	logging.Docstream("note appended to %s/%s seq=%d", branch, doc, entry.Seq)
	return entry, nil
}

// ShowTail implements "doc_show_tail": entries with seq < beforeSeq
// (most recent first), or the latest limit entries when beforeSeq is nil.
func ShowTail(s *store.Store, workspace, branch, doc string, beforeSeq *int64, limit int) ([]store.DocEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	if beforeSeq == nil {
		entries, err := s.TailDocEntries(workspace, branch, doc, limit)
		if err != nil {
			return nil, err
		}
		return reversed(entries), nil
	}
	// TailDocEntries returns the stream's newest `fetchLimit` entries,
	// oldest first. Widen the window past every entry at or above
	// beforeSeq, then walk it from the newest end so the result is most
	// recent first, like the nil-cursor path.
	latest, err := s.LatestDocSeq(workspace, branch, doc)
	if err != nil {
		return nil, err
	}
	if latest == 0 {
		return nil, nil
	}
	fetchLimit := limit
	if *beforeSeq <= latest {
		fetchLimit = limit + int(latest-*beforeSeq) + 1
	}
	entries, err := s.TailDocEntries(workspace, branch, doc, fetchLimit)
	if err != nil {
		return nil, err
	}
	var out []store.DocEntry
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		if entries[i].Seq < *beforeSeq {
			out = append(out, entries[i])
		}
	}
	return out, nil
}

func reversed(entries []store.DocEntry) []store.DocEntry {
	out := make([]store.DocEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out
}

// DiffResult is the outcome of DiffTail.
type DiffResult struct {
	Entries   []store.DocEntry // entries present in `to` but absent from `from`, oldest first
	NextCursor int64
}

// DiffTail implements "doc_diff_tail": entries in `to` absent from
// `from` for the same (doc, seq), i.e. to's entries with seq beyond
// whatever `from` has already seen (cursor), capped at limit.
func DiffTail(s *store.Store, workspace, fromBranch, toBranch, doc string, cursor *int64, limit int) (DiffResult, error) {
	since := int64(0)
	if cursor != nil {
		since = *cursor
	} else {
		// Default cursor: the highest seq already present in `from` — the
		// symmetric difference collapses to "new in `to`" when `from` and
		// `to` share the same seq space.
		fromLatest, err := s.LatestDocSeq(workspace, fromBranch, doc)
		if err != nil {
			return DiffResult{}, err
		}
		since = fromLatest
	}
	if limit <= 0 {
		limit = 100
	}
	entries, err := s.DocEntriesSince(workspace, toBranch, doc, since, limit)
	if err != nil {
		return DiffResult{}, err
	}
	next := since
	if len(entries) > 0 {
		next = entries[len(entries)-1].Seq
	}
	return DiffResult{Entries: entries, NextCursor: next}, nil
}
