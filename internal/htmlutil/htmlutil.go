package htmlutil

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// GetText flattens every text node under the given node.
func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

// AbsoluteURL upgrades protocol-relative urls ("//img.example.com/a.png")
// to https. Upstream payloads mix both forms freely.
func AbsoluteURL(url string) string {
	if strings.HasPrefix(url, "//") {
		return "https:" + url
	}
	return url
}

var srcAttrRegex = regexp.MustCompile(`src=["']([^"']+)["']`)

// RewriteImageSources passes every img src through rewrite. Adapters use it
// to guarantee absolute, scheme-correct image urls inside content
// fragments; proxying is left to the caller.
func RewriteImageSources(content string, rewrite func(url string) string) string {
	return srcAttrRegex.ReplaceAllStringFunc(content, func(m string) string {
		groups := srcAttrRegex.FindStringSubmatch(m)
		if len(groups) < 2 {
			return m
		}
		return `src="` + rewrite(groups[1]) + `"`
	})
}
