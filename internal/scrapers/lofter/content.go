package lofter

import (
	"fmt"
	"regexp"
	"strings"

	"soyosaki-backend/internal/htmlutil"
	"soyosaki-backend/internal/textutil"

	"github.com/PuerkitoBio/goquery"
)

var (
	bigImgRegex     = regexp.MustCompile(`(?i)bigimgsrc=["']([^"']+)["']`)
	textDivRegex    = regexp.MustCompile(`(?is)<div[^>]*class="text"[^>]*>(.*?)</div>`)
	contentDivRegex = regexp.MustCompile(`(?is)<div[^>]*class="[^"]*content[^"]*"[^>]*>(.*?)</div>`)
	lazyImgRegex    = regexp.MustCompile(`(?i)<img[^>]+src=["']([^"']*(?:imglf|lf127)[^"']*)["'][^>]*>`)
)

// ExtractPostContent pulls the readable body out of a rendered post page.
// Blog themes vary wildly, so this is a ladder: structured container first,
// then image-viewer attributes, then text divs, then bare CDN images.
// Returns "" when nothing recognizable was found.
func ExtractPostContent(html string) string {
	html = textutil.SanitizeHTML(html)

	if content := extractContainer(html); content != "" {
		return finish(content)
	}

	var parts []string

	for _, m := range bigImgRegex.FindAllStringSubmatch(html, -1) {
		parts = append(parts, fmt.Sprintf(`<img src="%s"/>`, NormalizeImageURL(m[1])))
	}

	for _, m := range textDivRegex.FindAllStringSubmatch(html, -1) {
		inner := m[1]
		if strings.TrimSpace(textutil.CleanHTML(inner)) == "" {
			continue
		}
		if strings.Contains(inner, "<p") {
			parts = append(parts, inner)
		} else {
			parts = append(parts, "<p>"+inner+"</p>")
		}
	}

	if len(parts) == 0 {
		if m := contentDivRegex.FindStringSubmatch(html); m != nil {
			parts = append(parts, m[1])
		}
	}

	if len(parts) == 0 {
		for _, m := range lazyImgRegex.FindAllStringSubmatch(html, -1) {
			parts = append(parts, fmt.Sprintf(`<img src="%s"/>`, NormalizeImageURL(m[1])))
		}
	}

	if len(parts) == 0 {
		return ""
	}
	return finish(strings.Join(parts, "\n"))
}

// extractContainer tries the stable DOM path used by standard themes.
func extractContainer(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	for _, selector := range []string{
		"div.postwrapper .content",
		"div#postwrapper .content",
		"div.post .content",
	} {
		container := doc.Find(selector).First()
		if container.Length() == 0 {
			continue
		}
		// prefer the full-size viewer image over the thumbnail src
		container.Find("a[bigimgsrc] img").Each(func(_ int, img *goquery.Selection) {
			if big := img.Parent().AttrOr("bigimgsrc", ""); big != "" {
				img.SetAttr("src", NormalizeImageURL(big))
			}
		})
		content, err := goquery.OuterHtml(container)
		if err != nil {
			continue
		}
		return content
	}
	return ""
}

func finish(content string) string {
	return htmlutil.RewriteImageSources(content, NormalizeImageURL)
}
