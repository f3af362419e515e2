package tools

import (
	"sort"
	"strings"

	"github.com/pdmimpulse/raindrop-mcp/internal/raindrop"
)

// BookmarkView is the tool-facing shape of a bookmark
type BookmarkView struct {
	ID              int64    `json:"id"`
	Title           string   `json:"title"`
	URL             string   `json:"url"`
	Excerpt         string   `json:"excerpt"`
	Note            string   `json:"note"`
	Type            string   `json:"type"`
	Tags            []string `json:"tags"`
	Created         *string  `json:"created"`
	LastUpdate      *string  `json:"lastUpdate"`
	Domain          string   `json:"domain"`
	CollectionID    *int64   `json:"collection_id"`
	CollectionTitle *string  `json:"collection_title"`
}

// NewBookmarkView converts an API bookmark
func NewBookmarkView(b raindrop.Bookmark) BookmarkView {
	tags := b.Tags
	if tags == nil {
		tags = []string{}
	}
	v := BookmarkView{
		ID:         b.ID,
		Title:      b.Title,
		URL:        b.Link,
		Excerpt:    b.Excerpt,
		Note:       b.Note,
		Type:       string(b.Type),
		Tags:       tags,
		Created:    b.Created.ISO(),
		LastUpdate: b.LastUpdate.ISO(),
		Domain:     b.Domain,
	}
	if b.Collection != nil {
		id, title := b.Collection.ID, b.Collection.Title
		v.CollectionID = &id
		v.CollectionTitle = &title
	}
	return v
}

// CollectionView is the tool-facing shape of a collection
type CollectionView struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Public      bool    `json:"public"`
	Count       int     `json:"count"`
	Created     *string `json:"created"`
	LastUpdate  *string `json:"lastUpdate"`
}

// NewCollectionView converts an API collection
func NewCollectionView(c raindrop.Collection) CollectionView {
	return CollectionView{
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		Public:      c.Public,
		Count:       c.Count,
		Created:     c.Created.ISO(),
		LastUpdate:  c.LastUpdate.ISO(),
	}
}

// SearchPage is one page of search results
type SearchPage struct {
	Items   []BookmarkView `json:"items"`
	Count   int            `json:"count"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	PerPage int            `json:"per_page"`
	HasMore bool           `json:"has_more"`
}

// NewSearchPage builds a page. has_more is (page+1)*per_page < total.
func NewSearchPage(items []raindrop.Bookmark, total, page, perPage int) SearchPage {
	views := make([]BookmarkView, 0, len(items))
	for _, b := range items {
		views = append(views, NewBookmarkView(b))
	}
	return SearchPage{
		Items:   views,
		Count:   len(views),
		Total:   total,
		Page:    page,
		PerPage: perPage,
		HasMore: (page+1)*perPage < total,
	}
}

// Pagination is the paging block of get_recent_unsorted
type Pagination struct {
	Count   int  `json:"count"`
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	HasMore bool `json:"has_more"`
}

// RecentPage is the get_recent_unsorted result
type RecentPage struct {
	Items      []BookmarkView `json:"items"`
	Pagination Pagination     `json:"pagination"`
}

// NewRecentPage reshapes a search page
func NewRecentPage(p SearchPage) RecentPage {
	return RecentPage{
		Items: p.Items,
		Pagination: Pagination{
			Count:   p.Count,
			Total:   p.Total,
			Page:    p.Page,
			PerPage: p.PerPage,
			HasMore: p.HasMore,
		},
	}
}

// DeleteResult confirms a deletion
type DeleteResult struct {
	BookmarkID int64 `json:"bookmark_id"`
	Deleted    bool  `json:"deleted"`
}

// CollectionList is the list_collections result
type CollectionList struct {
	Collections []CollectionView `json:"collections"`
	Count       int              `json:"count"`
}

// SortCollections orders views by field. Missing dates sort as the empty
// string. The sort is stable.
func SortCollections(views []CollectionView, field string, desc bool) {
	key := func(v CollectionView) string {
		var p *string
		switch field {
		case "created":
			p = v.Created
		case "lastUpdate":
			p = v.LastUpdate
		default:
			return strings.ToLower(v.Title)
		}
		if p == nil {
			return ""
		}
		return *p
	}

	less := func(i, j int) bool {
		if field == "count" {
			return views[i].Count < views[j].Count
		}
		return key(views[i]) < key(views[j])
	}
	if desc {
		sort.SliceStable(views, func(i, j int) bool { return less(j, i) })
		return
	}
	sort.SliceStable(views, less)
}
