package bilibili

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"soyosaki-backend/internal/components/telemetry"
	"soyosaki-backend/internal/novel"

	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewClient("", telemetry.SlogAPI{})
	c.Http.SetBaseURL(server.URL)
	return c
}

func buvid3Of(r *http.Request) string {
	for _, part := range strings.Split(r.Header.Get("cookie"), ";") {
		part = strings.TrimSpace(part)
		if v, ok := strings.CutPrefix(part, "buvid3="); ok {
			return v
		}
	}
	return ""
}

func TestArticleRegeneratesIdentityOnRejection(t *testing.T) {
	var identities []string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		identities = append(identities, buvid3Of(r))
		if len(identities) == 1 {
			w.Write([]byte(`{"code":-412,"message":"request blocked"}`))
			return
		}
		w.Write([]byte(`{"code":0,"data":{"id":123,"title":"after retry","author":{"name":"a","mid":7},"stats":{"view":5,"like":2},"publish_time":1700000000}}`))
	})

	n, err := c.Article(context.Background(), "123")
	require.NoError(t, err)
	require.Equal(t, "after retry", n.Title)

	require.Len(t, identities, 2)
	require.NotEqual(t, identities[0], identities[1])
	for _, id := range identities {
		require.True(t, strings.HasSuffix(id, "infoc"))
	}
}

func TestArticleSurfacesUpstreamMessage(t *testing.T) {
	calls := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"code":-404,"message":"啥都木有"}`))
	})

	_, err := c.Article(context.Background(), "999")
	require.Error(t, err)
	require.Contains(t, err.Error(), "啥都木有")
	// -404 is a real rejection, not an identity problem: no retries
	require.Equal(t, 1, calls)
}

func TestSearchParsesResults(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "article", r.URL.Query().Get("search_type"))
		require.Equal(t, "素祥", r.URL.Query().Get("keyword"))
		require.Equal(t, "pubdate", r.URL.Query().Get("order"))
		w.Write([]byte(`{"code":0,"data":{"result":[
			{"id":101,"title":"<em class=\"keyword\">素祥</em>合集","mid":42,
			 "desc":"简介","category_name":"小说","view":100,"like":10,
			 "pub_time":1700000000,"image_urls":["//i0.hdslb.com/a.jpg"],"words":2000},
			{"id":0,"title":"dropped"}
		]}}`))
	})

	novels, err := c.Search(context.Background(), "素祥", 1, 20, SortOrder(novel.SortByDate))
	require.NoError(t, err)
	require.Len(t, novels, 1)

	n := novels[0]
	require.Equal(t, "101", n.ID)
	require.Equal(t, novel.SourceBilibili, n.Source)
	require.Equal(t, "素祥合集", n.Title)
	require.Equal(t, "uid:42", n.Author)
	require.Equal(t, "https://space.bilibili.com/42", n.AuthorURL)
	require.Equal(t, []string{"小说"}, n.Tags)
	require.Equal(t, 10, n.Kudos)
	require.Equal(t, 100, n.Hits)
	require.Equal(t, "https://www.bilibili.com/read/cv101", n.SourceURL)
	require.Equal(t, "https://i0.hdslb.com/a.jpg", n.CoverImage)
	require.NotNil(t, n.IsComplete)
	require.True(t, *n.IsComplete)
}

func TestSearchRejectionReturnsEmptyPage(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":-412,"message":"blocked"}`))
	})

	novels, err := c.Search(context.Background(), "素祥", 1, 20, "pubdate")
	require.NoError(t, err)
	require.Empty(t, novels)
}

func TestSortOrder(t *testing.T) {
	require.Equal(t, "pubdate", SortOrder(novel.SortByDate))
	require.Equal(t, "totalrank", SortOrder(novel.SortByKudos))
	require.Equal(t, "click", SortOrder(novel.SortByHits))
	require.Equal(t, "pubdate", SortOrder(novel.SortByWordCount))
}
