// Package novel holds the canonical cross-source content record and the
// merge rules that reconcile repeated observations of the same item.
package novel

import "fmt"

// Source identifies the upstream platform an item was acquired from.
type Source string

const (
	SourceAO3      Source = "ao3"
	SourcePixiv    Source = "pixiv"
	SourceLofter   Source = "lofter"
	SourceBilibili Source = "bilibili"
)

// Sources lists every registered platform.
func Sources() []Source {
	return []Source{SourceAO3, SourcePixiv, SourceLofter, SourceBilibili}
}

func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceAO3, SourcePixiv, SourceLofter, SourceBilibili:
		return Source(s), nil
	}
	return "", fmt.Errorf("unknown source: %q", s)
}

// Placeholder sentinels mark a field as "unknown" as opposed to genuinely
// empty. Merging only ever overwrites placeholder values.
const (
	PlaceholderTitle   = "Untitled"
	PlaceholderSummary = "No summary available"
	PlaceholderAuthor  = "Unknown"
)

// MaxTags caps the tag list carried on an item.
const MaxTags = 10

// Novel is the normalized unit every adapter produces. Only (Source, ID) is
// stable identity; every other field may be partial or a placeholder on
// first observation and refined by a later, more expensive fetch.
type Novel struct {
	ID        string `json:"id"`
	Source    Source `json:"source"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	AuthorURL string `json:"author_url,omitempty"`
	Summary   string `json:"summary"`

	Tags []string `json:"tags"`

	Rating       string `json:"rating,omitempty"`
	WordCount    int    `json:"word_count,omitempty"`
	ChapterCount int    `json:"chapter_count,omitempty"`
	Kudos        int    `json:"kudos,omitempty"`
	Hits         int    `json:"hits,omitempty"`

	PublishedAt string `json:"published_at"`
	UpdatedAt   string `json:"updated_at,omitempty"`

	SourceURL  string `json:"source_url"`
	CoverImage string `json:"cover_image,omitempty"`

	// nil means unknown.
	IsComplete *bool `json:"is_complete,omitempty"`
}

// Key returns the composite identity key of an item.
func (n Novel) Key() string {
	return Key(n.Source, n.ID)
}

func Key(source Source, id string) string {
	return fmt.Sprintf("%s:%s", source, id)
}

// Chapter is a lightweight chapter stub; content is fetched lazily through
// the adapter, never embedded here.
type Chapter struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
}

// SortBy enumerates the orderings the request layer may ask for.
type SortBy string

const (
	SortByDate      SortBy = "date"
	SortByKudos     SortBy = "kudos"
	SortByHits      SortBy = "hits"
	SortByWordCount SortBy = "wordCount"
)

// Complete is a convenience for the tri-state IsComplete field.
func Complete(v bool) *bool {
	return &v
}
