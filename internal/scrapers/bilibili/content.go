package bilibili

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"soyosaki-backend/internal/htmlutil"
)

// opusData is the newer rich-text article format: a flat list of typed
// paragraphs instead of an html or quill-ops body.
type opusData struct {
	DynamicID string `json:"dynamic_id_str"`
	Content   struct {
		Paragraphs []opusParagraph `json:"paragraphs"`
	} `json:"content"`
}

type opusParagraph struct {
	ParaType int `json:"para_type"`
	Text     struct {
		Nodes []struct {
			Word struct {
				Words string `json:"words"`
			} `json:"word"`
		} `json:"nodes"`
	} `json:"text"`
	Pic struct {
		Pics []struct {
			URL string `json:"url"`
		} `json:"pics"`
	} `json:"pic"`
}

const (
	opusParagraphText    = 1
	opusParagraphPicture = 2
)

// renderOpus flattens opus paragraphs into html. Returns "" when the opus
// record carries no renderable content so the caller can fall back to the
// legacy body.
func renderOpus(opus opusData) string {
	var parts []string
	for _, para := range opus.Content.Paragraphs {
		switch para.ParaType {
		case opusParagraphText:
			for _, node := range para.Text.Nodes {
				words := node.Word.Words
				if words == "" {
					continue
				}
				words = strings.ReplaceAll(words, "\n", "<br>")
				parts = append(parts, "<p>"+words+"</p>")
			}
		case opusParagraphPicture:
			for _, pic := range para.Pic.Pics {
				if pic.URL == "" {
					continue
				}
				parts = append(parts, fmt.Sprintf(
					`<figure><img src="%s" alt="image"></figure>`,
					htmlutil.AbsoluteURL(pic.URL),
				))
			}
		}
	}
	return strings.Join(parts, "")
}

// quillOp is one delta operation of the legacy editor format.
type quillOp struct {
	Insert json.RawMessage `json:"insert"`
}

var (
	emptyParagraphRegex = regexp.MustCompile(`<p>\s*</p>`)
	doubleBreakRegex    = regexp.MustCompile(`<br>\s*<br>`)
)

// renderLegacy converts the legacy content field to html. The field has
// three observed shapes: quill ops json, raw html, and plain text.
func renderLegacy(content string) string {
	if content == "" {
		return ""
	}

	if strings.HasPrefix(content, `{"ops"`) || strings.HasPrefix(content, "[") {
		if html, ok := renderQuill(content); ok {
			return html
		}
	}

	if strings.Contains(content, "<") && strings.Contains(content, ">") {
		return content
	}

	// plain text: blank lines separate paragraphs
	var parts []string
	for _, p := range strings.Split(content, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts = append(parts, "<p>"+strings.ReplaceAll(p, "\n", "<br>")+"</p>")
	}
	if len(parts) == 0 {
		return "<p>" + content + "</p>"
	}
	return strings.Join(parts, "")
}

func renderQuill(content string) (string, bool) {
	var ops []quillOp
	if strings.HasPrefix(content, "[") {
		if err := json.Unmarshal([]byte(content), &ops); err != nil {
			return "", false
		}
	} else {
		var doc struct {
			Ops []quillOp `json:"ops"`
		}
		if err := json.Unmarshal([]byte(content), &doc); err != nil {
			return "", false
		}
		ops = doc.Ops
	}

	var parts []string
	for _, op := range ops {
		var text string
		if err := json.Unmarshal(op.Insert, &text); err == nil {
			text = strings.ReplaceAll(text, "\n\n", "</p><p>")
			text = strings.ReplaceAll(text, "\n", "<br>")
			parts = append(parts, text)
			continue
		}
		var embed struct {
			Image string `json:"image"`
		}
		if err := json.Unmarshal(op.Insert, &embed); err == nil && embed.Image != "" {
			parts = append(parts, fmt.Sprintf(`<img src="%s" alt="image">`, embed.Image))
		}
	}

	html := "<p>" + strings.Join(parts, "") + "</p>"
	html = emptyParagraphRegex.ReplaceAllString(html, "")
	html = doubleBreakRegex.ReplaceAllString(html, "</p><p>")
	return html, true
}

// renderContent picks the best available body representation and normalizes
// every embedded image url to an absolute scheme.
func renderContent(data articleData) string {
	html := renderOpus(data.Opus)
	if html == "" {
		body := data.Content
		if body == "" {
			body = data.ReadInfo.Content
		}
		html = renderLegacy(body)
	}
	if html == "" {
		return ""
	}
	html = htmlutil.RewriteImageSources(html, htmlutil.AbsoluteURL)
	return `<div class="bilibili-article">` + html + `</div>`
}
