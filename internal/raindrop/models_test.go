package raindrop

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookmarkUnmarshal(t *testing.T) {
	t.Parallel()

	raw := `{
		"_id": 123,
		"title": "Go",
		"excerpt": "The Go language",
		"type": "article",
		"tags": ["go", "lang"],
		"created": "2024-01-02T03:04:05.000Z",
		"lastUpdate": "garbage",
		"domain": "go.dev",
		"link": "https://go.dev",
		"media": [{"link": "https://go.dev/a.png", "type": "image"}, "bad"],
		"collection": {"$id": 55},
		"user": {"$id": 9}
	}`

	var b Bookmark
	require.NoError(t, json.Unmarshal([]byte(raw), &b))
	assert.EqualValues(t, 123, b.ID)
	assert.Equal(t, TypeArticle, b.Type)
	assert.Equal(t, []string{"go", "lang"}, b.Tags)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), b.Created.UTC())
	assert.True(t, b.LastUpdate.IsZero())
	assert.Nil(t, b.LastUpdate.ISO())
	require.Len(t, b.Media, 1)
	assert.Equal(t, "image", b.Media[0].Type)
	require.NotNil(t, b.Collection)
	assert.EqualValues(t, 55, b.Collection.ID)
	require.NotNil(t, b.User)
	assert.EqualValues(t, 9, b.User.ID)
}

func TestBookmarkDefaults(t *testing.T) {
	t.Parallel()

	var b Bookmark
	require.NoError(t, json.Unmarshal([]byte(`{"_id": 1, "type": "podcast"}`), &b))
	assert.Equal(t, TypeLink, b.Type)
	assert.NotNil(t, b.Tags)
	assert.Empty(t, b.Tags)
	assert.NotNil(t, b.Media)
	assert.Nil(t, b.Collection)

	err := json.Unmarshal([]byte(`{"title": "no id"}`), &b)
	require.ErrorIs(t, err, errMissingID)
}

func TestCollectionUnmarshal(t *testing.T) {
	t.Parallel()

	var c Collection
	require.NoError(t, json.Unmarshal([]byte(`{
		"_id": 7,
		"title": "Reading",
		"view": "masonry",
		"count": 12,
		"public": true,
		"parent": {"$id": 3},
		"expanded": false
	}`), &c))
	assert.EqualValues(t, 7, c.ID)
	assert.Equal(t, ViewMasonry, c.View)
	assert.Equal(t, 12, c.Count)
	assert.True(t, c.Public)
	assert.False(t, c.Expanded)
	require.NotNil(t, c.ParentID)
	assert.EqualValues(t, 3, *c.ParentID)

	var d Collection
	require.NoError(t, json.Unmarshal([]byte(`{"id": 8, "view": "cards"}`), &d))
	assert.EqualValues(t, 8, d.ID)
	assert.Equal(t, ViewList, d.View)
	assert.True(t, d.Expanded)
	assert.Nil(t, d.ParentID)
	assert.Empty(t, d.Cover)
}

func TestTimestampISO(t *testing.T) {
	t.Parallel()

	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2024-05-06T07:08:09.123Z"`), &ts))
	require.NotNil(t, ts.ISO())
	assert.Equal(t, "2024-05-06T07:08:09.123+00:00", *ts.ISO())

	require.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	assert.Nil(t, ts.ISO())
}

func TestParseEnums(t *testing.T) {
	t.Parallel()

	kind, ok := ParseBookmarkType("video")
	assert.True(t, ok)
	assert.Equal(t, TypeVideo, kind)
	_, ok = ParseBookmarkType("VIDEO")
	assert.False(t, ok)

	view, ok := ParseCollectionView("grid")
	assert.True(t, ok)
	assert.Equal(t, ViewGrid, view)
	_, ok = ParseCollectionView("")
	assert.False(t, ok)
}

func TestSearchParamsQuery(t *testing.T) {
	t.Parallel()

	q := SearchParams{Type: TypeImage, Tag: "go"}.Query()
	assert.Equal(t, "page=0&tag=go&type=image", q.Encode())
}
