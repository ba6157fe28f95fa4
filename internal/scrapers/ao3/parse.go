package ao3

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"soyosaki-backend/internal/novel"
	"soyosaki-backend/internal/textutil"

	"github.com/PuerkitoBio/goquery"
)

var workHrefRegex = regexp.MustCompile(`/works/(\d+)`)

// parseCount handles the comma-grouped numbers the archive renders stats
// with.
func parseCount(s string) int {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	n, _ := strconv.Atoi(s)
	return n
}

// parseChapterFraction reads the "3/5" chapter stat. The denominator is "?"
// for works with no planned length, which leaves completeness unknown.
func parseChapterFraction(s string) (count int, complete *bool) {
	current, total, ok := strings.Cut(strings.TrimSpace(s), "/")
	count = parseCount(current)
	if !ok {
		return count, nil
	}
	total = strings.TrimSpace(total)
	if total == "?" {
		return count, nil
	}
	return count, novel.Complete(count == parseCount(total))
}

func parseBlurbDate(s string) string {
	t, err := time.Parse("2 Jan 2006", strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// ParseSearchPage extracts work records from a search result page. Blurbs
// that fail to parse are skipped without failing the batch.
func ParseSearchPage(html string, excludeTags []string) ([]novel.Novel, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var novels []novel.Novel
	doc.Find("li.work.blurb.group").Each(func(_ int, blurb *goquery.Selection) {
		n, ok := parseBlurb(blurb)
		if !ok {
			return
		}
		if textutil.Exclude(n.Title, excludeTags) || textutil.Exclude(n.Summary, excludeTags) {
			return
		}
		if textutil.ExcludeAnyTag(n.Tags, excludeTags) {
			return
		}
		novels = append(novels, n)
	})
	return novels, nil
}

func parseBlurb(blurb *goquery.Selection) (novel.Novel, bool) {
	heading := blurb.Find("h4.heading").First()
	titleLink := heading.Find("a").First()
	href := titleLink.AttrOr("href", "")
	m := workHrefRegex.FindStringSubmatch(href)
	if m == nil {
		return novel.Novel{}, false
	}
	id := m[1]

	title := strings.TrimSpace(titleLink.Text())
	if title == "" {
		title = novel.PlaceholderTitle
	}

	author := "Anonymous"
	authorURL := ""
	authorLink := heading.Find(`a[rel="author"]`).First()
	if authorLink.Length() > 0 {
		author = strings.TrimSpace(authorLink.Text())
		authorURL = BaseURL + authorLink.AttrOr("href", "")
	}

	var tags []string
	blurb.Find("ul.tags a.tag").Each(func(_ int, tag *goquery.Selection) {
		text := strings.TrimSpace(tag.Text())
		if text != "" && len(tags) < 20 {
			tags = append(tags, text)
		}
	})

	summary := strings.TrimSpace(blurb.Find("blockquote.summary").First().Text())

	rating := blurb.Find("span.rating").First().AttrOr("title", "")
	words := parseCount(blurb.Find("dd.words").First().Text())
	kudos := parseCount(blurb.Find("dd.kudos").First().Text())
	hits := parseCount(blurb.Find("dd.hits").First().Text())
	chapterCount, complete := parseChapterFraction(blurb.Find("dd.chapters").First().Text())

	// blurbs carry a single date: last updated for multichapter works,
	// published otherwise
	updated := parseBlurbDate(blurb.Find("p.datetime").First().Text())

	return novel.Novel{
		ID:           id,
		Source:       novel.SourceAO3,
		Title:        title,
		Author:       author,
		AuthorURL:    authorURL,
		Summary:      summary,
		Tags:         tags,
		Rating:       rating,
		WordCount:    words,
		ChapterCount: chapterCount,
		Kudos:        kudos,
		Hits:         hits,
		PublishedAt:  updated,
		UpdatedAt:    updated,
		SourceURL:    fmt.Sprintf("%s/works/%s", BaseURL, id),
		IsComplete:   complete,
	}, true
}

// ParseWorkPage extracts full metadata from a work landing page.
func ParseWorkPage(html string, id string) (*novel.Novel, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(doc.Find("h2.title.heading").First().Text())
	if title == "" {
		return nil, fmt.Errorf("work page has no title heading")
	}

	author := "Anonymous"
	authorURL := ""
	authorLink := doc.Find(`h3.byline a[rel="author"]`).First()
	if authorLink.Length() > 0 {
		author = strings.TrimSpace(authorLink.Text())
		authorURL = BaseURL + authorLink.AttrOr("href", "")
	}

	summary := strings.TrimSpace(doc.Find("div.summary blockquote.userstuff").First().Text())

	var tags []string
	doc.Find("dd.relationship.tags a.tag, dd.character.tags a.tag, dd.freeform.tags a.tag").
		Each(func(_ int, tag *goquery.Selection) {
			text := strings.TrimSpace(tag.Text())
			if text != "" && len(tags) < 20 {
				tags = append(tags, text)
			}
		})

	rating := strings.TrimSpace(doc.Find("dd.rating.tags a.tag").First().Text())

	stats := doc.Find("dl.stats").First()
	words := parseCount(stats.Find("dd.words").First().Text())
	kudos := parseCount(stats.Find("dd.kudos").First().Text())
	hits := parseCount(stats.Find("dd.hits").First().Text())
	chapterCount, complete := parseChapterFraction(stats.Find("dd.chapters").First().Text())

	published := strings.TrimSpace(stats.Find("dd.published").First().Text())
	updated := strings.TrimSpace(stats.Find("dd.status").First().Text())
	if updated == "" {
		updated = published
	}

	return &novel.Novel{
		ID:           id,
		Source:       novel.SourceAO3,
		Title:        title,
		Author:       author,
		AuthorURL:    authorURL,
		Summary:      summary,
		Tags:         tags,
		Rating:       rating,
		WordCount:    words,
		ChapterCount: chapterCount,
		Kudos:        kudos,
		Hits:         hits,
		PublishedAt:  published,
		UpdatedAt:    updated,
		SourceURL:    fmt.Sprintf("%s/works/%s", BaseURL, id),
		IsComplete:   complete,
	}, nil
}

var chapterOptionTitleRegex = regexp.MustCompile(`^\d+\.\s*`)

// ParseChapterList reads the chapter navigation select. Works without one
// are single-chapter.
func ParseChapterList(html string) []novel.Chapter {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var chapters []novel.Chapter
	doc.Find("select#selected_id option").Each(func(i int, opt *goquery.Selection) {
		title := strings.TrimSpace(opt.Text())
		title = chapterOptionTitleRegex.ReplaceAllString(title, "")
		if title == "" {
			title = fmt.Sprintf("Chapter %d", i+1)
		}
		chapters = append(chapters, novel.Chapter{Number: i + 1, Title: title})
	})
	if len(chapters) == 0 {
		chapters = append(chapters, novel.Chapter{Number: 1, Title: "Chapter 1"})
	}
	return chapters
}

// ParseChapterRefs returns the chapter ids behind the navigation select, in
// order. Empty for single-chapter works.
func ParseChapterRefs(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var refs []string
	doc.Find("select#selected_id option").Each(func(_ int, opt *goquery.Selection) {
		if v := opt.AttrOr("value", ""); v != "" {
			refs = append(refs, v)
		}
	})
	return refs
}

// ExtractWorkskin returns the rendered work body, which carries the chapter
// text plus any work-level notes.
func ExtractWorkskin(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	workskin := doc.Find("#workskin").First()
	if workskin.Length() == 0 {
		return ""
	}
	content, err := workskin.Html()
	if err != nil {
		return ""
	}
	return textutil.SanitizeHTML(strings.TrimSpace(content))
}
