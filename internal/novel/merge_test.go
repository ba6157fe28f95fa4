package novel

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func placeholderItem() Novel {
	return Novel{
		ID:      "1",
		Source:  SourceLofter,
		Title:   PlaceholderTitle,
		Author:  PlaceholderAuthor,
		Summary: PlaceholderSummary,
	}
}

func TestMergeFieldsEnriches(t *testing.T) {
	existing := placeholderItem()
	incoming := Novel{
		ID:         "1",
		Source:     SourceLofter,
		Title:      "A real title",
		Author:     "someone",
		Summary:    "a summary",
		Tags:       []string{"soyo", "sakiko"},
		CoverImage: "https://example.com/a.png",
		Kudos:      12,
	}

	changed := MergeFields(&existing, incoming)
	require.True(t, changed)
	require.Equal(t, "A real title", existing.Title)
	require.Equal(t, "someone", existing.Author)
	require.Equal(t, "a summary", existing.Summary)
	require.Equal(t, []string{"soyo", "sakiko"}, existing.Tags)
	require.Equal(t, 12, existing.Kudos)
}

func TestMergeFieldsIsMonotone(t *testing.T) {
	existing := Novel{
		ID:      "1",
		Source:  SourceAO3,
		Title:   "Good title",
		Author:  "author",
		Summary: "good summary",
		Tags:    []string{"a"},
	}
	incoming := placeholderItem()
	incoming.Source = SourceAO3

	changed := MergeFields(&existing, incoming)
	require.False(t, changed)
	require.Equal(t, "Good title", existing.Title)
	require.Equal(t, "author", existing.Author)
	require.Equal(t, "good summary", existing.Summary)
}

func TestMergeFieldsIsIdempotent(t *testing.T) {
	a := placeholderItem()
	b := Novel{
		ID:      "1",
		Source:  SourceLofter,
		Title:   "title",
		Summary: "summary",
		Kudos:   3,
	}

	MergeFields(&a, b)
	once := a
	changed := MergeFields(&a, b)
	require.False(t, changed)
	if diff := cmp.Diff(once, a); diff != "" {
		t.Fatalf("re-merge changed item:\n%s", diff)
	}
}

func TestMergeListDedups(t *testing.T) {
	first := Novel{ID: "x", Source: SourceLofter, Title: PlaceholderTitle}
	second := Novel{ID: "y", Source: SourceLofter, Title: "other"}
	enrich := Novel{ID: "x", Source: SourceLofter, Title: "found it"}

	var ordered []Novel
	index := map[string]int{}
	ordered = MergeList(ordered, []Novel{first, second}, index)
	ordered = MergeList(ordered, []Novel{enrich, second, first}, index)

	require.Len(t, ordered, 2)
	require.Equal(t, "x", ordered[0].ID)
	require.Equal(t, "found it", ordered[0].Title)
	require.Equal(t, "y", ordered[1].ID)

	seen := map[string]bool{}
	for _, item := range ordered {
		require.False(t, seen[item.Key()], "duplicate key %s", item.Key())
		seen[item.Key()] = true
	}
}

func TestMergeListPreservesOrder(t *testing.T) {
	items := []Novel{
		{ID: "3", Source: SourceBilibili},
		{ID: "1", Source: SourceBilibili},
		{ID: "2", Source: SourceBilibili},
	}
	var ordered []Novel
	index := map[string]int{}
	ordered = MergeList(ordered, items, index)
	ordered = MergeList(ordered, []Novel{{ID: "1", Source: SourceBilibili}}, index)

	require.Equal(t, "3", ordered[0].ID)
	require.Equal(t, "1", ordered[1].ID)
	require.Equal(t, "2", ordered[2].ID)
}

func TestBuildIndex(t *testing.T) {
	items := []Novel{
		{ID: "a", Source: SourceAO3},
		{ID: "b", Source: SourceAO3},
	}
	index := BuildIndex(items)
	require.Equal(t, 0, index[Key(SourceAO3, "a")])
	require.Equal(t, 1, index[Key(SourceAO3, "b")])
}
