package bilibili

import (
	"encoding/json"
	"fmt"
	"time"

	"soyosaki-backend/internal/htmlutil"
	"soyosaki-backend/internal/novel"
	"soyosaki-backend/internal/textutil"
)

// searchItem is one row of the article search api. The search surface is
// sparser than the detail api: no real tags, author often only as a uid.
type searchItem struct {
	ID              int64    `json:"id"`
	Title           string   `json:"title"`
	Mid             int64    `json:"mid"`
	Uname           string   `json:"uname"`
	Author          string   `json:"author"`
	Desc            string   `json:"desc"`
	Description     string   `json:"description"`
	CategoryName    string   `json:"category_name"`
	View            int      `json:"view"`
	Like            int      `json:"like"`
	PubTime         int64    `json:"pub_time"`
	ImageURLs       []string `json:"image_urls"`
	OriginImageURLs []string `json:"origin_image_urls"`
	Words           int      `json:"words"`
}

// articleTag accepts both the object and bare-string shapes the detail api
// has been observed to return.
type articleTag struct {
	Name string
}

func (t *articleTag) UnmarshalJSON(data []byte) error {
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		t.Name = obj.Name
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t.Name = s
	return nil
}

type articleData struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Author struct {
		Name string `json:"name"`
		Mid  int64  `json:"mid"`
	} `json:"author"`
	Summary    string `json:"summary"`
	Categories []struct {
		Name string `json:"name"`
	} `json:"categories"`
	Tags  []articleTag `json:"tags"`
	Stats struct {
		View int `json:"view"`
		Like int `json:"like"`
	} `json:"stats"`
	PublishTime int64    `json:"publish_time"`
	BannerURL   string   `json:"banner_url"`
	ImageURLs   []string `json:"image_urls"`
	Words       int      `json:"words"`
	Content     string   `json:"content"`
	ReadInfo    struct {
		Content string `json:"content"`
	} `json:"readInfo"`
	Opus opusData `json:"opus"`
}

func formatUnix(sec int64) string {
	if sec == 0 {
		return time.Now().Format(time.RFC3339)
	}
	return time.Unix(sec, 0).Format(time.RFC3339)
}

func articleURL(id string) string {
	return "https://www.bilibili.com/read/cv" + id
}

func spaceURL(mid int64) string {
	if mid == 0 {
		return ""
	}
	return fmt.Sprintf("https://space.bilibili.com/%d", mid)
}

func parseSearchItem(item searchItem) (novel.Novel, bool) {
	if item.ID == 0 {
		return novel.Novel{}, false
	}
	id := fmt.Sprintf("%d", item.ID)

	// the search api wraps keyword hits in em tags
	title := textutil.CleanHTML(item.Title)

	author := item.Uname
	if author == "" {
		author = item.Author
	}
	if author == "" && item.Mid != 0 {
		author = fmt.Sprintf("uid:%d", item.Mid)
	}

	summary := item.Desc
	if summary == "" {
		summary = item.Description
	}
	summary = textutil.CleanHTML(summary)

	var tags []string
	if item.CategoryName != "" {
		tags = append(tags, item.CategoryName)
	}

	cover := ""
	if len(item.ImageURLs) > 0 {
		cover = item.ImageURLs[0]
	} else if len(item.OriginImageURLs) > 0 {
		cover = item.OriginImageURLs[0]
	}
	cover = htmlutil.AbsoluteURL(cover)

	return novel.Novel{
		ID:           id,
		Source:       novel.SourceBilibili,
		Title:        title,
		Author:       author,
		AuthorURL:    spaceURL(item.Mid),
		Summary:      summary,
		Tags:         tags,
		WordCount:    item.Words,
		ChapterCount: 1,
		Kudos:        item.Like,
		Hits:         item.View,
		PublishedAt:  formatUnix(item.PubTime),
		SourceURL:    articleURL(id),
		CoverImage:   cover,
		IsComplete:   novel.Complete(true),
	}, true
}

func parseArticleDetail(data articleData, fallbackID string) novel.Novel {
	id := fallbackID
	if data.ID != 0 {
		id = fmt.Sprintf("%d", data.ID)
	}

	var tags []string
	seen := map[string]bool{}
	for _, cat := range data.Categories {
		if cat.Name != "" && !seen[cat.Name] {
			seen[cat.Name] = true
			tags = append(tags, cat.Name)
		}
	}
	for _, tag := range data.Tags {
		if tag.Name != "" && !seen[tag.Name] {
			seen[tag.Name] = true
			tags = append(tags, tag.Name)
		}
	}
	if len(tags) > novel.MaxTags {
		tags = tags[:novel.MaxTags]
	}

	cover := data.BannerURL
	if cover == "" && len(data.ImageURLs) > 0 {
		cover = data.ImageURLs[0]
	}
	cover = htmlutil.AbsoluteURL(cover)

	// articles migrated to the opus format have a canonical opus url
	sourceURL := articleURL(id)
	if data.Opus.DynamicID != "" {
		sourceURL = "https://www.bilibili.com/opus/" + data.Opus.DynamicID
	}

	return novel.Novel{
		ID:           id,
		Source:       novel.SourceBilibili,
		Title:        data.Title,
		Author:       data.Author.Name,
		AuthorURL:    spaceURL(data.Author.Mid),
		Summary:      data.Summary,
		Tags:         tags,
		WordCount:    data.Words,
		ChapterCount: 1,
		Kudos:        data.Stats.Like,
		Hits:         data.Stats.View,
		PublishedAt:  formatUnix(data.PublishTime),
		SourceURL:    sourceURL,
		CoverImage:   cover,
		IsComplete:   novel.Complete(true),
	}
}
