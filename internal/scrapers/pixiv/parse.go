package pixiv

import (
	"fmt"
	"strings"
	"time"

	"soyosaki-backend/internal/components/chrono"
	"soyosaki-backend/internal/novel"
	"soyosaki-backend/internal/textutil"
)

type apiNovel struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	User  struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
	Caption string `json:"caption"`
	Tags    []struct {
		Name string `json:"name"`
	} `json:"tags"`
	TextLength     int    `json:"text_length"`
	TotalBookmarks int    `json:"total_bookmarks"`
	TotalView      int    `json:"total_view"`
	CreateDate     string `json:"create_date"`
	ImageURLs      struct {
		Medium string `json:"medium"`
	} `json:"image_urls"`
}

func parseCreateDate(raw string, clock chrono.API) string {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return clock.Now().Format(time.RFC3339)
	}
	return t.Format(time.RFC3339)
}

func parseNovel(data apiNovel, clock chrono.API) novel.Novel {
	var tags []string
	for _, tag := range data.Tags {
		if tag.Name != "" {
			tags = append(tags, tag.Name)
		}
	}
	if len(tags) > novel.MaxTags {
		tags = tags[:novel.MaxTags]
	}

	title := data.Title
	if title == "" {
		title = novel.PlaceholderTitle
	}
	author := data.User.Name
	if author == "" {
		author = novel.PlaceholderAuthor
	}

	summary := novel.PlaceholderSummary
	if caption := strings.TrimSpace(textutil.CleanHTML(data.Caption)); caption != "" {
		summary = textutil.Truncate(caption, 500)
	}

	publishedAt := parseCreateDate(data.CreateDate, clock)
	return novel.Novel{
		ID:           fmt.Sprintf("%d", data.ID),
		Source:       novel.SourcePixiv,
		Title:        title,
		Author:       author,
		AuthorURL:    fmt.Sprintf("https://www.pixiv.net/users/%d", data.User.ID),
		Summary:      summary,
		Tags:         tags,
		WordCount:    data.TextLength,
		ChapterCount: 1,
		Kudos:        data.TotalBookmarks,
		Hits:         data.TotalView,
		PublishedAt:  publishedAt,
		UpdatedAt:    publishedAt,
		SourceURL:    fmt.Sprintf("https://www.pixiv.net/novel/show.php?id=%d", data.ID),
		CoverImage:   data.ImageURLs.Medium,
		IsComplete:   novel.Complete(true),
	}
}

// renderText converts the plain-text novel body to html paragraphs.
func renderText(text string) string {
	var parts []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts = append(parts, "<p>"+line+"</p>")
	}
	return strings.Join(parts, "")
}
