package novel

// MergeFields reconciles a second observation of the same item into the
// first. The incoming value wins only where the existing field holds a
// placeholder sentinel (or is absent) and the incoming one does not: cheap
// list-page observations get enriched by detail fetches, never clobbered.
// Reports whether anything changed.
func MergeFields(existing *Novel, incoming Novel) bool {
	changed := false

	if (existing.Title == "" || existing.Title == PlaceholderTitle) &&
		incoming.Title != "" && incoming.Title != PlaceholderTitle {
		existing.Title = incoming.Title
		changed = true
	}
	if (existing.Summary == "" || existing.Summary == PlaceholderSummary) &&
		incoming.Summary != "" && incoming.Summary != PlaceholderSummary {
		existing.Summary = incoming.Summary
		changed = true
	}
	if (existing.Author == "" || existing.Author == PlaceholderAuthor) &&
		incoming.Author != "" && incoming.Author != PlaceholderAuthor {
		existing.Author = incoming.Author
		changed = true
	}
	if existing.AuthorURL == "" && incoming.AuthorURL != "" {
		existing.AuthorURL = incoming.AuthorURL
		changed = true
	}
	if existing.CoverImage == "" && incoming.CoverImage != "" {
		existing.CoverImage = incoming.CoverImage
		changed = true
	}
	if len(existing.Tags) == 0 && len(incoming.Tags) > 0 {
		existing.Tags = incoming.Tags
		changed = true
	}
	if existing.SourceURL == "" && incoming.SourceURL != "" {
		existing.SourceURL = incoming.SourceURL
		changed = true
	}
	if existing.Kudos == 0 && incoming.Kudos != 0 {
		existing.Kudos = incoming.Kudos
		changed = true
	}
	if existing.Hits == 0 && incoming.Hits != 0 {
		existing.Hits = incoming.Hits
		changed = true
	}
	if existing.WordCount == 0 && incoming.WordCount != 0 {
		existing.WordCount = incoming.WordCount
		changed = true
	}
	if existing.IsComplete == nil && incoming.IsComplete != nil {
		existing.IsComplete = incoming.IsComplete
		changed = true
	}

	return changed
}

// MergeList folds incoming items into dst. Items already present (by
// composite key) are enriched in place via MergeFields; new items are
// appended, preserving first-seen order. index maps Key() -> position in
// dst and is maintained across calls so a crawl loop can keep folding
// freshly parsed pages into one accumulator.
func MergeList(dst []Novel, incoming []Novel, index map[string]int) []Novel {
	for _, item := range incoming {
		key := item.Key()
		if pos, ok := index[key]; ok {
			MergeFields(&dst[pos], item)
			continue
		}
		index[key] = len(dst)
		dst = append(dst, item)
	}
	return dst
}

// BuildIndex computes the key index MergeList maintains, for callers that
// received the slice without one (ex. decoded from a cache entry).
func BuildIndex(items []Novel) map[string]int {
	index := make(map[string]int, len(items))
	for i, item := range items {
		index[item.Key()] = i
	}
	return index
}
