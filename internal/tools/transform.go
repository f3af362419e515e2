package tools

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/pdmimpulse/raindrop-mcp/internal/apierr"
	"github.com/pdmimpulse/raindrop-mcp/internal/raindrop"
)

// Field limits, counted in characters
const (
	maxTagLength             = 50
	maxTags                  = 50
	maxTitleLength           = 300
	maxExcerptLength         = 1000
	maxNoteLength            = 10000
	maxCollectionTitleLength = 100
	maxDescriptionLength     = 500
	maxPerPage               = 50
)

var (
	searchSorts     = []string{"score", "created", "lastUpdate", "title", "domain"}
	collectionSorts = []string{"title", "count", "created", "lastUpdate"}
	sortOrders      = []string{"asc", "desc"}
)

// SanitizeTag keeps word characters, whitespace and hyphens, collapses
// whitespace, trims, truncates to 50 characters and lowercases
func SanitizeTag(tag string) string {
	kept := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || unicode.IsNumber(r) ||
			r == '_' || r == '-' || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, tag)
	return strings.ToLower(truncate(strings.Join(strings.Fields(kept), " "), maxTagLength))
}

// DedupTags drops empty entries and duplicates, keeping first occurrences
func DedupTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// SanitizeText collapses whitespace, trims and truncates to maxLength characters
func SanitizeText(text string, maxLength int) string {
	return truncate(strings.Join(strings.Fields(text), " "), maxLength)
}

func truncate(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	return string(runes[:maxLength])
}

// ValidURL reports whether raw has both a scheme and a host
func ValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// ValidCollectionID accepts positive ids and the unsorted and trash
// collections
func ValidCollectionID(id int64) bool {
	return id > 0 || id == raindrop.CollectionUnsorted || id == raindrop.CollectionTrash
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// collectionID reads an optional collection id argument
func collectionID(args Args, key, message string) (int64, bool, error) {
	id, ok, err := args.Int(key)
	if err != nil {
		return 0, true, apierr.Validation(key, message)
	}
	if ok && !ValidCollectionID(id) {
		return 0, true, apierr.Validation(key, message)
	}
	return id, ok, nil
}

func textField(args Args, key string, maxLength int) (string, bool, error) {
	s, ok, err := args.String(key)
	if err != nil {
		return "", true, apierr.Validation(key, err.Error())
	}
	if !ok {
		return "", args.Has(key), nil
	}
	return SanitizeText(s, maxLength), true, nil
}

func tagList(args Args) ([]string, bool, error) {
	tags, ok, err := args.Strings("tags")
	if err != nil {
		return nil, true, apierr.Validation("tags", err.Error())
	}
	if !ok {
		return nil, false, nil
	}
	if len(tags) > maxTags {
		return nil, true, apierr.Validation("tags", fmt.Sprintf("Maximum %d tags allowed", maxTags))
	}
	sanitized := make([]string, 0, len(tags))
	for _, tag := range tags {
		sanitized = append(sanitized, SanitizeTag(tag))
	}
	return DedupTags(sanitized), true, nil
}

// CreateBookmarkPayload converts create_bookmark arguments to the API body
func CreateBookmarkPayload(args Args) (map[string]interface{}, error) {
	link, ok, err := args.String("url")
	if err != nil {
		return nil, apierr.Validation("url", "Invalid URL format")
	}
	if !ok || link == "" {
		e := apierr.MissingField("url")
		e.Message = "URL is required"
		return nil, e
	}
	if !ValidURL(link) {
		return nil, apierr.Validation("url", "Invalid URL format")
	}

	data := map[string]interface{}{"link": link}
	if err := addTextFields(args, data); err != nil {
		return nil, err
	}

	tags, ok, err := tagList(args)
	if err != nil {
		return nil, err
	}
	if ok && len(tags) > 0 {
		data["tags"] = tags
	}

	id, ok, err := collectionID(args, "collection_id", "Invalid collection ID")
	if err != nil {
		return nil, err
	}
	if ok {
		data["collection"] = map[string]interface{}{"$id": id}
	}
	return data, nil
}

// UpdateBookmarkPayload converts update_bookmark arguments to the API body.
// A null tags value clears the tags and a null collection_id moves the
// bookmark to the root.
func UpdateBookmarkPayload(args Args) (map[string]interface{}, error) {
	if _, err := requiredBookmarkID(args); err != nil {
		return nil, err
	}

	data := map[string]interface{}{}
	if err := addTextFields(args, data); err != nil {
		return nil, err
	}

	if args.IsNull("tags") {
		data["tags"] = []string{}
	} else {
		tags, ok, err := tagList(args)
		if err != nil {
			return nil, err
		}
		if ok {
			data["tags"] = tags
		}
	}

	if args.IsNull("collection_id") {
		data["collection"] = map[string]interface{}{"$id": raindrop.CollectionAll}
	} else {
		id, ok, err := collectionID(args, "collection_id", "Invalid collection ID")
		if err != nil {
			return nil, err
		}
		if ok {
			data["collection"] = map[string]interface{}{"$id": id}
		}
	}
	return data, nil
}

func addTextFields(args Args, data map[string]interface{}) error {
	fields := []struct {
		key    string
		length int
	}{
		{"title", maxTitleLength},
		{"excerpt", maxExcerptLength},
		{"note", maxNoteLength},
	}
	for _, f := range fields {
		value, present, err := textField(args, f.key, f.length)
		if err != nil {
			return err
		}
		if present {
			data[f.key] = value
		}
	}
	return nil
}

// SearchQuery is a validated search together with the paging it asked for
type SearchQuery struct {
	Params  raindrop.SearchParams
	Page    int
	PerPage int
}

// SearchParams converts search_bookmarks arguments to listing parameters.
// Defaults: sort created, order desc, page 0, 50 per page.
func SearchParams(args Args) (SearchQuery, error) {
	var params raindrop.SearchParams

	query, _, err := args.String("query")
	if err != nil {
		return SearchQuery{}, apierr.Validation("query", err.Error())
	}
	params.Search = query

	id, ok, err := collectionID(args, "collection_id", "Invalid collection ID")
	if err != nil {
		return SearchQuery{}, err
	}
	if ok {
		params.Collection = id
	}

	kind, _, err := args.String("type")
	if err != nil {
		return SearchQuery{}, apierr.Validation("type", err.Error())
	}
	if kind != "" {
		t, valid := raindrop.ParseBookmarkType(kind)
		if !valid {
			return SearchQuery{}, apierr.Validation("type", "Invalid bookmark type: "+kind)
		}
		params.Type = t
	}

	tag, _, err := args.String("tag")
	if err != nil {
		return SearchQuery{}, apierr.Validation("tag", err.Error())
	}
	params.Tag = SanitizeTag(tag)

	sortField, err := enumArg(args, "sort", "created", searchSorts, "Invalid sort field: ")
	if err != nil {
		return SearchQuery{}, err
	}
	order, err := enumArg(args, "order", "desc", sortOrders, "Invalid sort order: ")
	if err != nil {
		return SearchQuery{}, err
	}
	params.Sort = sortField
	if order == "desc" {
		params.Sort = "-" + sortField
	}

	page, perPage, err := paging(args)
	if err != nil {
		return SearchQuery{}, err
	}
	params.Page = page
	params.PerPage = perPage

	return SearchQuery{Params: params, Page: page, PerPage: perPage}, nil
}

func enumArg(args Args, key, def string, allowed []string, prefix string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	s, isString := v.(string)
	if !isString || !contains(allowed, s) {
		return "", apierr.Validation(key, fmt.Sprintf("%s%v", prefix, v))
	}
	return s, nil
}

func paging(args Args) (int, int, error) {
	page, ok, err := args.Int("page")
	if err != nil || (ok && page < 0) {
		return 0, 0, apierr.Validation("page", "Page must be a non-negative integer")
	}
	perPage, ok, err := args.Int("per_page")
	if !ok && err == nil {
		perPage = maxPerPage
	}
	if err != nil || perPage < 1 || perPage > maxPerPage {
		return 0, 0, apierr.Validation("per_page", fmt.Sprintf("Per page must be an integer between 1 and %d", maxPerPage))
	}
	return int(page), int(perPage), nil
}

// RecentUnsortedParams builds the listing of the newest unsorted bookmarks.
// limit defaults to 50 and is capped at 50.
func RecentUnsortedParams(args Args) (SearchQuery, error) {
	limit, ok, err := args.Int("limit")
	if err != nil || (ok && limit < 1) {
		return SearchQuery{}, apierr.Validation("limit", "limit must be a positive integer")
	}
	if !ok || limit > maxPerPage {
		limit = maxPerPage
	}
	return SearchParams(Args{
		"collection_id": raindrop.CollectionUnsorted,
		"sort":          "created",
		"order":         "desc",
		"page":          0,
		"per_page":      limit,
	})
}

// CreateCollectionPayload converts create_collection arguments to the API body
func CreateCollectionPayload(args Args) (map[string]interface{}, error) {
	title, ok, err := args.String("title")
	if err != nil || (ok && strings.TrimSpace(title) == "") {
		return nil, apierr.Validation("title", "Title is required and cannot be empty")
	}
	if !ok {
		return nil, apierr.MissingField("title")
	}

	data := map[string]interface{}{"title": SanitizeText(title, maxCollectionTitleLength)}

	description, present, err := textField(args, "description", maxDescriptionLength)
	if err != nil {
		return nil, err
	}
	if present {
		data["description"] = description
	}

	if public, ok := args.Bool("public"); ok {
		data["public"] = public
	}

	if args.Has("view") {
		view, _, _ := args.String("view")
		v, valid := raindrop.ParseCollectionView(view)
		if !valid {
			return nil, apierr.Validation("view", fmt.Sprintf("Invalid view type: %v", args["view"]))
		}
		data["view"] = string(v)
	}

	parent, ok, err := collectionID(args, "parent_id", "Invalid parent collection ID")
	if err != nil {
		return nil, err
	}
	if ok {
		data["parent"] = map[string]interface{}{"$id": parent}
	}
	return data, nil
}

// CollectionSort validates list_collections sorting. Defaults: title asc.
func CollectionSort(args Args) (field string, desc bool, err error) {
	field, err = enumArg(args, "sort", "title", collectionSorts, "Invalid sort field: ")
	if err != nil {
		return "", false, err
	}
	order, err := enumArg(args, "order", "asc", sortOrders, "Invalid sort order: ")
	if err != nil {
		return "", false, err
	}
	return field, order == "desc", nil
}
