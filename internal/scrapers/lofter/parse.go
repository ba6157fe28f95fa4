package lofter

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"soyosaki-backend/internal/novel"
	"soyosaki-backend/internal/textutil"

	"github.com/PuerkitoBio/goquery"
)

// The DWR endpoint answers with javascript: a flat series of property
// assignments (`s12.title="...";`) plus edges wiring the object graph
// together (`s3.post=s7;`). There is no json anywhere; the parser
// reconstructs records from the assignment soup.

var (
	dwrAssignRegex  = regexp.MustCompile(`s(\d+)\.(\w+)\s*=\s*([^;]+);`)
	dwrStringRegex  = regexp.MustCompile(`s(\d+)\.(\w+)\s*=\s*"([^"]*)"`)
	dwrPostRefRegex = regexp.MustCompile(`s(\d+)\.post=s(\d+);`)

	quotedValueRegex = regexp.MustCompile(`"([^"]+)"`)
	postPathRegex    = regexp.MustCompile(`/l?post/([^/?#]+)`)
	blogHostRegex    = regexp.MustCompile(`https?://([^/.]+)\.lofter\.com`)
	hotCountRegex    = regexp.MustCompile(`热度\((\d+)\)`)
	tagPageDateRegex = regexp.MustCompile(`(\d{2})/(\d{2})\s+(\d{2}):(\d{2})`)
)

func stripQuotes(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// ExtractBlogName pulls the blog subdomain out of any lofter url.
func ExtractBlogName(url string) string {
	if url == "" {
		return ""
	}
	if strings.HasPrefix(url, "//") {
		url = "https:" + url
	}
	m := blogHostRegex.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

// ExtractPostID pulls the post id out of a /post/ or /lpost/ path.
func ExtractPostID(url string) string {
	m := postPathRegex.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

// PostURL reconstructs the canonical post url from the blogName:postId
// composite id.
func PostURL(id string) (string, bool) {
	blog, post, ok := strings.Cut(id, ":")
	if !ok || blog == "" || post == "" {
		return "", false
	}
	return "https://" + blog + ".lofter.com/post/" + post, true
}

// looksLikePost decides whether an assignment bucket is a post record when
// the payload carries no explicit post= edges.
func looksLikePost(props map[string]string) bool {
	_, hasBlogInfo := props["blogInfo"]
	_, hasBlogName := props["blogName"]
	if !hasBlogInfo && !hasBlogName {
		return false
	}
	for _, key := range []string{"publishTime", "blogPageUrl", "title"} {
		if _, ok := props[key]; ok {
			return true
		}
	}
	return false
}

func formatMillis(raw string) string {
	if raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			return time.UnixMilli(ms).Format(time.RFC3339)
		}
	}
	return time.Now().Format(time.RFC3339)
}

// ParseDWR turns a raw DWR payload into novel records, filtering out
// anything hit by the exclusion patterns while the records are still cheap
// to drop.
func ParseDWR(payload string, excludeTags []string) []novel.Novel {
	assignments := map[string]map[string]string{}
	record := func(key, prop, value string) {
		if assignments[key] == nil {
			assignments[key] = map[string]string{}
		}
		assignments[key][prop] = value
	}
	for _, m := range dwrAssignRegex.FindAllStringSubmatch(payload, -1) {
		record("s"+m[1], m[2], stripQuotes(m[3]))
	}
	// the generic pass truncates strings containing semicolons; the quoted
	// pass wins for those
	for _, m := range dwrStringRegex.FindAllStringSubmatch(payload, -1) {
		record("s"+m[1], m[2], m[3])
	}

	var candidates []map[string]string
	refs := dwrPostRefRegex.FindAllStringSubmatch(payload, -1)
	if len(refs) > 0 {
		for _, m := range refs {
			if props, ok := assignments["s"+m[2]]; ok {
				candidates = append(candidates, props)
			}
		}
	} else {
		for _, props := range assignments {
			if looksLikePost(props) {
				candidates = append(candidates, props)
			}
		}
	}

	var novels []novel.Novel
	seen := map[string]bool{}
	for _, post := range candidates {
		title := textutil.Sanitize(post["title"])
		digest := post["digest"]
		if title == "" && digest != "" {
			title = textutil.Truncate(textutil.Sanitize(textutil.CleanHTML(digest)), 50)
		}
		if title == "" {
			title = novel.PlaceholderTitle
		}
		if textutil.Exclude(title, excludeTags) {
			continue
		}

		blogInfo := map[string]string{}
		if ref := post["blogInfo"]; strings.HasPrefix(ref, "s") {
			blogInfo = assignments[ref]
		}
		author := textutil.Sanitize(blogInfo["blogNickName"])
		if author == "" {
			author = novel.PlaceholderAuthor
		}
		blogName := textutil.Sanitize(blogInfo["blogName"])
		if blogName == "" {
			// flattened payload variants carry blogName on the post itself
			blogName = textutil.Sanitize(post["blogName"])
		}

		publishTime := post["publishTime"]
		pageURL := post["blogPageUrl"]
		postID := post["postId"]
		if postID == "" {
			postID = post["id"]
		}
		if pageURL == "" {
			fallbackID := postID
			if fallbackID == "" {
				fallbackID = publishTime
			}
			if blogName != "" && fallbackID != "" {
				pageURL = "https://" + blogName + ".lofter.com/post/" + fallbackID
			}
		}
		if blogName == "" {
			blogName = ExtractBlogName(pageURL)
		}
		if blogName == "" {
			continue
		}

		var tags []string
		for _, m := range quotedValueRegex.FindAllStringSubmatch(post["tagList"], -1) {
			tag := textutil.Sanitize(m[1])
			if tag != "" {
				tags = append(tags, tag)
			}
		}
		if textutil.ExcludeAnyTag(tags, excludeTags) {
			continue
		}
		if len(tags) > novel.MaxTags {
			tags = tags[:novel.MaxTags]
		}

		kudos, _ := strconv.Atoi(post["hot"])

		summary := novel.PlaceholderSummary
		if digest != "" {
			summary = textutil.Truncate(textutil.Sanitize(textutil.CleanHTML(digest)), 500)
		}

		if id := ExtractPostID(pageURL); id != "" {
			postID = id
		} else if postID == "" {
			postID = publishTime
		}
		recordID := blogName + ":" + postID
		if postID == "" || seen[recordID] {
			continue
		}
		seen[recordID] = true

		publishedAt := formatMillis(publishTime)
		novels = append(novels, novel.Novel{
			ID:           recordID,
			Source:       novel.SourceLofter,
			Title:        title,
			Author:       author,
			AuthorURL:    "https://" + blogName + ".lofter.com",
			Summary:      summary,
			Tags:         tags,
			ChapterCount: 1,
			Kudos:        kudos,
			PublishedAt:  publishedAt,
			UpdatedAt:    publishedAt,
			SourceURL:    pageURL,
			IsComplete:   novel.Complete(true),
		})
	}
	return novels
}

// coverAttrs is the attribute ladder lazy-loaded tag-page images hide the
// real url behind.
var coverAttrs = []string{"large", "data-src", "data-original", "data-origin", "data-img", "data-cover", "src"}

// ParseTagPage extracts novel records from the rendered tag page DOM.
func ParseTagPage(html string, excludeTags []string, limit int) ([]novel.Novel, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var novels []novel.Novel
	seen := map[string]bool{}
	doc.Find("div.m-mlist").EachWithBreak(func(_ int, item *goquery.Selection) bool {
		if limit > 0 && len(novels) >= limit {
			return false
		}

		authorEl := item.Find(".publishernick").First()
		author := textutil.Sanitize(strings.TrimSpace(authorEl.Text()))
		if author == "" {
			author = novel.PlaceholderAuthor
		}
		authorURL := absolutize(authorEl.AttrOr("href", ""))

		postLinkEl := item.Find(".isayt a.isayc").First()
		postLink := postLinkEl.AttrOr("href", "")
		if postLink == "" {
			postLink = item.Find(`a[href*="/post/"]`).First().AttrOr("href", "")
		}
		postLink = absolutize(postLink)
		if postLink == "" {
			return true
		}

		blogName := ExtractBlogName(authorURL)
		if blogName == "" {
			blogName = ExtractBlogName(postLink)
		}
		postID := ExtractPostID(postLink)
		if blogName == "" || postID == "" {
			return true
		}
		id := blogName + ":" + postID
		if seen[id] {
			return true
		}
		seen[id] = true

		title := textutil.Sanitize(strings.TrimSpace(item.Find(".m-long-post-icnt .tit").First().Text()))
		if title == "" {
			title = textutil.Sanitize(strings.TrimSpace(
				item.Find(".m-icnt .ttl, .m-icnt .title, .m-icnt .tit, .m-icnt h3, .m-icnt h2").First().Text(),
			))
		}
		if title == "" {
			title = textutil.Sanitize(postLinkEl.AttrOr("data-title",
				postLinkEl.AttrOr("title", strings.TrimSpace(postLinkEl.Text()))))
		}
		if title == "" {
			title = novel.PlaceholderTitle
		}

		summary := textutil.Sanitize(strings.TrimSpace(item.Find(".m-long-post-icnt .pre").First().Text()))
		if summary == "" {
			summary = textutil.Sanitize(strings.TrimSpace(item.Find(".m-icnt .txt").First().Text()))
		}
		if summary == "" {
			summary = novel.PlaceholderSummary
		} else {
			summary = textutil.Truncate(summary, 500)
		}

		var tags []string
		item.Find(".w-opt .opta a span").Each(func(_ int, t *goquery.Selection) {
			tag := textutil.Sanitize(strings.TrimSpace(t.Text()))
			if tag != "" {
				tags = append(tags, tag)
			}
		})
		if len(tags) > novel.MaxTags {
			tags = tags[:novel.MaxTags]
		}

		if title != novel.PlaceholderTitle && textutil.Exclude(title, excludeTags) {
			return true
		}
		if textutil.ExcludeAnyTag(tags, excludeTags) {
			return true
		}

		kudos := 0
		if m := hotCountRegex.FindStringSubmatch(item.Text()); m != nil {
			kudos, _ = strconv.Atoi(m[1])
		}

		publishedAt := time.Now().Format(time.RFC3339)
		if m := tagPageDateRegex.FindStringSubmatch(postLinkEl.AttrOr("title", "")); m != nil {
			month, _ := strconv.Atoi(m[1])
			day, _ := strconv.Atoi(m[2])
			hour, _ := strconv.Atoi(m[3])
			minute, _ := strconv.Atoi(m[4])
			if t := time.Date(time.Now().Year(), time.Month(month), day, hour, minute, 0, 0, time.Local); month >= 1 && month <= 12 {
				publishedAt = t.Format(time.RFC3339)
			}
		}

		cover := findCover(item)

		if authorURL == "" {
			authorURL = "https://" + blogName + ".lofter.com"
		}
		novels = append(novels, novel.Novel{
			ID:           id,
			Source:       novel.SourceLofter,
			Title:        title,
			Author:       author,
			AuthorURL:    authorURL,
			Summary:      summary,
			Tags:         tags,
			ChapterCount: 1,
			Kudos:        kudos,
			PublishedAt:  publishedAt,
			UpdatedAt:    publishedAt,
			SourceURL:    postLink,
			CoverImage:   cover,
			IsComplete:   novel.Complete(true),
		})
		return true
	})

	return novels, nil
}

func findCover(item *goquery.Selection) string {
	img := item.Find(".m-icnt img").First()
	if img.Length() == 0 {
		img = item.Find("img").First()
	}
	cover := ""
	if img.Length() > 0 {
		for _, attr := range coverAttrs {
			if v := img.AttrOr(attr, ""); v != "" {
				cover = v
				break
			}
		}
	}
	if cover == "" {
		return ""
	}
	cover = NormalizeImageURL(cover)
	// inline placeholders and relative paths are useless as covers
	if strings.HasPrefix(cover, "data:") || strings.HasPrefix(cover, "./") || strings.HasPrefix(cover, "/") {
		return ""
	}
	return cover
}

func absolutize(url string) string {
	if strings.HasPrefix(url, "//") {
		return "https:" + url
	}
	return url
}

// NormalizeImageURL cleans an image url scraped out of markup: entity
// unescape, surrogate strip, scheme fix.
func NormalizeImageURL(url string) string {
	url = textutil.Sanitize(strings.TrimSpace(url))
	url = strings.ReplaceAll(url, "&amp;", "&")
	return absolutize(url)
}
