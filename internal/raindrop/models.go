package raindrop

import (
	"encoding/json"
	"strings"
	"time"
)

// BookmarkType is the kind of content a bookmark points to
type BookmarkType string

const (
	TypeLink     BookmarkType = "link"
	TypeArticle  BookmarkType = "article"
	TypeImage    BookmarkType = "image"
	TypeVideo    BookmarkType = "video"
	TypeDocument BookmarkType = "document"
	TypeAudio    BookmarkType = "audio"
)

// BookmarkTypes lists every valid bookmark type
var BookmarkTypes = []BookmarkType{TypeLink, TypeArticle, TypeImage, TypeVideo, TypeDocument, TypeAudio}

// ParseBookmarkType reports whether s names a bookmark type
func ParseBookmarkType(s string) (BookmarkType, bool) {
	for _, t := range BookmarkTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// CollectionView is the display mode of a collection
type CollectionView string

const (
	ViewList    CollectionView = "list"
	ViewSimple  CollectionView = "simple"
	ViewGrid    CollectionView = "grid"
	ViewMasonry CollectionView = "masonry"
)

// CollectionViews lists every valid view
var CollectionViews = []CollectionView{ViewList, ViewSimple, ViewGrid, ViewMasonry}

// ParseCollectionView reports whether s names a collection view
func ParseCollectionView(s string) (CollectionView, bool) {
	for _, v := range CollectionViews {
		if string(v) == s {
			return v, true
		}
	}
	return "", false
}

// Special collection ids
const (
	CollectionAll      int64 = 0
	CollectionUnsorted int64 = -1
	CollectionTrash    int64 = -99
)

// Timestamp is an upstream date that decodes to nil-equivalent zero on
// missing or malformed input
type Timestamp struct {
	time.Time
}

// UnmarshalJSON accepts ISO-8601 strings and tolerates anything else
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil || s == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, strings.Replace(s, "Z", "+00:00", 1))
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		t.Time = time.Time{}
		return nil
	}
	t.Time = parsed
	return nil
}

// isoLayout matches the upstream-facing ISO format with a numeric offset
const isoLayout = "2006-01-02T15:04:05.999999-07:00"

// ISO returns the timestamp formatted for tool output, or nil when unset
func (t Timestamp) ISO() *string {
	if t.IsZero() {
		return nil
	}
	s := t.Time.Format(isoLayout)
	return &s
}

// ref is the `{"$id": n}` shape used for references
type ref struct {
	ID *int64 `json:"$id"`
}

// ids collects the three id spellings the API uses
type ids struct {
	UnderscoreID *int64 `json:"_id"`
	ID           *int64 `json:"id"`
	RefID        *int64 `json:"$id"`
}

func (i ids) resolve() int64 {
	for _, p := range []*int64{i.UnderscoreID, i.ID, i.RefID} {
		if p != nil && *p != 0 {
			return *p
		}
	}
	return 0
}

// User is the account owning the token
type User struct {
	ID         int64
	Name       string
	Email      string
	Registered Timestamp
	LastAction Timestamp
}

// UnmarshalJSON implements json.Unmarshaler
func (u *User) UnmarshalJSON(data []byte) error {
	var raw struct {
		ids
		Name       string    `json:"name"`
		Email      string    `json:"email"`
		Registered Timestamp `json:"registered"`
		LastAction Timestamp `json:"lastAction"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = User{
		ID:         raw.resolve(),
		Name:       raw.Name,
		Email:      raw.Email,
		Registered: raw.Registered,
		LastAction: raw.LastAction,
	}
	return nil
}

// Collection groups bookmarks
type Collection struct {
	ID          int64
	Title       string
	Description string
	Public      bool
	View        CollectionView
	Count       int
	Cover       []string
	Created     Timestamp
	LastUpdate  Timestamp
	Expanded    bool
	Sort        int
	User        *User
	ParentID    *int64
}

// UnmarshalJSON implements json.Unmarshaler. Unknown views fall back to list.
func (c *Collection) UnmarshalJSON(data []byte) error {
	var raw struct {
		ids
		Title       string    `json:"title"`
		Description string    `json:"description"`
		Public      bool      `json:"public"`
		View        string    `json:"view"`
		Count       int       `json:"count"`
		Cover       []string  `json:"cover"`
		Created     Timestamp `json:"created"`
		LastUpdate  Timestamp `json:"lastUpdate"`
		Expanded    *bool     `json:"expanded"`
		Sort        int       `json:"sort"`
		User        *User     `json:"user"`
		Parent      *ref      `json:"parent"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	view, ok := ParseCollectionView(raw.View)
	if !ok {
		view = ViewList
	}
	expanded := true
	if raw.Expanded != nil {
		expanded = *raw.Expanded
	}
	cover := raw.Cover
	if cover == nil {
		cover = []string{}
	}

	*c = Collection{
		ID:          raw.resolve(),
		Title:       raw.Title,
		Description: raw.Description,
		Public:      raw.Public,
		View:        view,
		Count:       raw.Count,
		Cover:       cover,
		Created:     raw.Created,
		LastUpdate:  raw.LastUpdate,
		Expanded:    expanded,
		Sort:        raw.Sort,
		User:        raw.User,
	}
	if raw.Parent != nil && raw.Parent.ID != nil {
		c.ParentID = raw.Parent.ID
	}
	return nil
}

// Media is an attachment of a bookmark
type Media struct {
	Link string `json:"link"`
	Type string `json:"type"`
}

// Bookmark is a saved link ("raindrop" upstream)
type Bookmark struct {
	ID         int64
	Title      string
	Excerpt    string
	Note       string
	Type       BookmarkType
	Cover      string
	Tags       []string
	Created    Timestamp
	LastUpdate Timestamp
	Domain     string
	Link       string
	Media      []Media
	User       *User
	Collection *Collection
}

// UnmarshalJSON implements json.Unmarshaler. A bookmark without _id is
// rejected; unknown types fall back to link.
func (b *Bookmark) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID         *int64          `json:"_id"`
		Title      string          `json:"title"`
		Excerpt    string          `json:"excerpt"`
		Note       string          `json:"note"`
		Type       string          `json:"type"`
		Cover      string          `json:"cover"`
		Tags       []string        `json:"tags"`
		Created    Timestamp       `json:"created"`
		LastUpdate Timestamp       `json:"lastUpdate"`
		Domain     string          `json:"domain"`
		Link       string          `json:"link"`
		Media      json.RawMessage `json:"media"`
		User       *User           `json:"user"`
		Collection *Collection     `json:"collection"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ID == nil {
		return errMissingID
	}

	kind, ok := ParseBookmarkType(raw.Type)
	if !ok {
		kind = TypeLink
	}
	tags := raw.Tags
	if tags == nil {
		tags = []string{}
	}

	var media []Media
	if len(raw.Media) > 0 {
		// Media entries that are not objects are skipped
		var items []json.RawMessage
		if err := json.Unmarshal(raw.Media, &items); err == nil {
			for _, item := range items {
				var m Media
				if json.Unmarshal(item, &m) == nil {
					media = append(media, m)
				}
			}
		}
	}
	if media == nil {
		media = []Media{}
	}

	*b = Bookmark{
		ID:         *raw.ID,
		Title:      raw.Title,
		Excerpt:    raw.Excerpt,
		Note:       raw.Note,
		Type:       kind,
		Cover:      raw.Cover,
		Tags:       tags,
		Created:    raw.Created,
		LastUpdate: raw.LastUpdate,
		Domain:     raw.Domain,
		Link:       raw.Link,
		Media:      media,
		User:       raw.User,
		Collection: raw.Collection,
	}
	return nil
}

// SearchResult is one page of bookmarks
type SearchResult struct {
	Items []Bookmark
	Count int
	Total int
}

// SearchParams are the query parameters of GET /raindrops/{collection}
type SearchParams struct {
	Collection int64
	Search     string
	Type       BookmarkType
	Tag        string
	Sort       string
	Page       int
	PerPage    int
}
