package anchor

import (
	"sort"

	"branchmind/internal/store"
)

// KnowledgeIssueCode enumerates the knowledge-base lint codes.
type KnowledgeIssueCode string

const (
	IssueDuplicateContentSameAnchor       KnowledgeIssueCode = "KNOWLEDGE_DUPLICATE_CONTENT_SAME_ANCHOR"
	IssueDuplicateContentSameKeyDiffAnch  KnowledgeIssueCode = "KNOWLEDGE_DUPLICATE_CONTENT_SAME_KEY_ACROSS_ANCHORS"
	IssueKeyOverloadedAcrossAnchors       KnowledgeIssueCode = "KNOWLEDGE_KEY_OVERLOADED_ACROSS_ANCHORS"
)

// Severity ranks the issue for display/sort purposes (warning < info, per
// "sorted by severity asc: warning=0, info=1").
type Severity int

const (
	SeverityWarning Severity = 0
	SeverityInfo    Severity = 1
)

// KnowledgeIssue is one lint finding over the knowledge index.
type KnowledgeIssue struct {
	Code       KnowledgeIssueCode
	Severity   Severity
	AnchorID   string
	Key        string
	CardIDs    []string
	Recommend  string // e.g. "keep oldest key"
}

// LintKnowledge implements: scans knowledge entries for the anchor set
// and emits duplicate/overload findings, sorted by (severity asc, code,
// stringified payload).
func LintKnowledge(s *store.Store, workspace string, anchorIDs []string, limit int) ([]KnowledgeIssue, error) {
	entries, err := s.KnowledgeKeysListAny(workspace, anchorIDs, limit)
	if err != nil {
		return nil, err
	}

	// same anchor, same content hash, different keys
	byAnchorHash := map[string][]store.KnowledgeEntry{}
	for _, e := range entries {
		k := e.AnchorID + "\x00" + e.ContentHash
		byAnchorHash[k] = append(byAnchorHash[k], e)
	}

	var issues []KnowledgeIssue
	for _, group := range byAnchorHash {
		keys := map[string]bool{}
		for _, e := range group {
			keys[e.Key] = true
		}
		if len(keys) < 2 {
			continue
		}
		sortedEntries := append([]store.KnowledgeEntry(nil), group...)
		sort.Slice(sortedEntries, func(i, j int) bool { return sortedEntries[i].CreatedAtMs < sortedEntries[j].CreatedAtMs })
		var cardIDs []string
		for _, e := range sortedEntries {
			cardIDs = append(cardIDs, e.CardID)
		}
		issues = append(issues, KnowledgeIssue{
			Code: IssueDuplicateContentSameAnchor, Severity: SeverityWarning,
			AnchorID: sortedEntries[0].AnchorID, Key: sortedEntries[0].Key, CardIDs: cardIDs,
			Recommend: "keep key " + sortedEntries[0].Key,
		})
	}

	// same key, same content hash, across different anchors
	byKeyHash := map[string][]store.KnowledgeEntry{}
	for _, e := range entries {
		k := e.Key + "\x00" + e.ContentHash
		byKeyHash[k] = append(byKeyHash[k], e)
	}
	for _, group := range byKeyHash {
		anchors := map[string]bool{}
		for _, e := range group {
			anchors[e.AnchorID] = true
		}
		if len(anchors) < 2 {
			continue
		}
		var cardIDs []string
		for _, e := range group {
			cardIDs = append(cardIDs, e.CardID)
		}
		issues = append(issues, KnowledgeIssue{
			Code: IssueDuplicateContentSameKeyDiffAnch, Severity: SeverityInfo,
			Key: group[0].Key, CardIDs: cardIDs,
		})
	}

	// same key spans >=2 anchors with >=2 distinct content variants
	byKey := map[string]map[string]bool{}      // key -> anchors
	byKeyHashes := map[string]map[string]bool{} // key -> content hashes
	for _, e := range entries {
		if byKey[e.Key] == nil {
			byKey[e.Key] = map[string]bool{}
			byKeyHashes[e.Key] = map[string]bool{}
		}
		byKey[e.Key][e.AnchorID] = true
		byKeyHashes[e.Key][e.ContentHash] = true
	}
	for key, anchors := range byKey {
		if len(anchors) >= 2 && len(byKeyHashes[key]) >= 2 {
			issues = append(issues, KnowledgeIssue{
				Code: IssueKeyOverloadedAcrossAnchors, Severity: SeverityInfo, Key: key,
			})
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Severity != issues[j].Severity {
			return issues[i].Severity < issues[j].Severity
		}
		if issues[i].Code != issues[j].Code {
			return issues[i].Code < issues[j].Code
		}
		return issues[i].AnchorID+issues[i].Key < issues[j].AnchorID+issues[j].Key
	})
	return issues, nil
}
