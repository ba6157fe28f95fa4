package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExclude(t *testing.T) {
	testCases := []struct {
		text     string
		patterns []string
		expect   bool
	}{
		{text: "Toyokawa Sakiko story", patterns: []string{"sakiko"}, expect: true},
		{text: "Toyokawa Sakiko story", patterns: []string{"SAKIKO"}, expect: true},
		{text: "", patterns: []string{"anything"}, expect: false},
		{text: "some text", patterns: nil, expect: false},
		{text: "some text", patterns: []string{}, expect: false},
		{text: "some text", patterns: []string{""}, expect: false},
		{text: "长崎素世与丰川祥子", patterns: []string{"祥子"}, expect: true},
		{text: "unrelated", patterns: []string{"sakiko", "soyo"}, expect: false},
	}

	for _, test := range testCases {
		require.Equal(t, test.expect, Exclude(test.text, test.patterns), "text=%q patterns=%v", test.text, test.patterns)
	}
}

func TestExcludeAnyTag(t *testing.T) {
	require.True(t, ExcludeAnyTag([]string{"fluff", "Sakiko/Soyo"}, []string{"soyo"}))
	require.False(t, ExcludeAnyTag([]string{"fluff", "angst"}, []string{"soyo"}))
	require.False(t, ExcludeAnyTag(nil, []string{"soyo"}))
}

func TestDecodeUnicode(t *testing.T) {
	require.Equal(t, "只", DecodeUnicode(`只`))
	require.Equal(t, "测试", DecodeUnicode(`测试`))
	// surrogate pairs combine into their astral-plane code point
	require.Equal(t, "😀", DecodeUnicode(`😀`))
	require.Equal(t, "a😀b", DecodeUnicode(`a😀b`))
	// already-decoded text passes through untouched
	require.Equal(t, "只", DecodeUnicode("只"))
	require.Equal(t, `\uZZZZ`, DecodeUnicode(`\uZZZZ`))
	require.Equal(t, "", DecodeUnicode(""))
}

func TestCleanHTML(t *testing.T) {
	testCases := []struct {
		in     string
		expect string
	}{
		{in: "<p>hello</p>", expect: "hello"},
		{in: "a&nbsp;b", expect: "a b"},
		{in: "&lt;tag&gt;", expect: "<tag>"},
		{in: `<b>测</b>&amp;`, expect: "测&"},
		{in: "  padded  ", expect: "padded"},
	}
	for _, test := range testCases {
		require.Equal(t, test.expect, CleanHTML(test.in))
	}
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "abc", Truncate("abc", 5))
	require.Equal(t, "ab", Truncate("abcd", 2))
	require.Equal(t, "测试", Truncate("测试文本", 2))
}
