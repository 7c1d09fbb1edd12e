package docstream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"branchmind/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendNoteAndShowTail(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 3; i++ {
		_, err := AppendNote(s, "ws1", "main", DocNotes, "note", "text", "{}", "body")
		require.NoError(t, err)
	}
	entries, err := ShowTail(s, "ws1", "main", DocNotes, nil, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.True(t, entries[0].Seq > entries[1].Seq, "most recent first")
	require.Equal(t, int64(3), entries[0].Seq)
	require.Equal(t, int64(2), entries[1].Seq)
}

func TestShowTailBeforeSeq(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := AppendNote(s, "ws1", "main", DocTrace, "t", "text", "{}", "body")
		require.NoError(t, err)
	}
	before := int64(4)
	entries, err := ShowTail(s, "ws1", "main", DocTrace, &before, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, int64(3), entries[0].Seq)
	require.Equal(t, int64(1), entries[2].Seq)
}

func TestDiffTailNewInTo(t *testing.T) {
	s := openTestStore(t)
	_, err := AppendNote(s, "ws1", "branch-a", DocPlanSpec, "t", "yaml", "{}", "v1")
	require.NoError(t, err)
	_, err = AppendNote(s, "ws1", "branch-b", DocPlanSpec, "t", "yaml", "{}", "v1")
	require.NoError(t, err)
	_, err = AppendNote(s, "ws1", "branch-b", DocPlanSpec, "t", "yaml", "{}", "v2")
	require.NoError(t, err)

	diff, err := DiffTail(s, "ws1", "branch-a", "branch-b", DocPlanSpec, nil, 50)
	require.NoError(t, err)
	require.Len(t, diff.Entries, 1)
	require.Equal(t, "v2", diff.Entries[0].Content)
	require.Equal(t, int64(2), diff.NextCursor)
}

func TestDiffTailWithCursor(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 4; i++ {
		_, err := AppendNote(s, "ws1", "b", DocTrace, "t", "text", "{}", "body")
		require.NoError(t, err)
	}
	cursor := int64(2)
	diff, err := DiffTail(s, "ws1", "b", "b", DocTrace, &cursor, 50)
	require.NoError(t, err)
	require.Len(t, diff.Entries, 2)
	require.Equal(t, int64(4), diff.NextCursor)
}
