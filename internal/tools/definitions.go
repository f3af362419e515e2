// Package tools implements the bookmark tools exposed over the protocol
// boundary: their schemas, argument validation, payload transformers, result
// shapes and dispatch onto the Raindrop client.
package tools

// Tool names
const (
	ToolSearchBookmarks   = "search_bookmarks"
	ToolCreateBookmark    = "create_bookmark"
	ToolGetBookmark       = "get_bookmark"
	ToolUpdateBookmark    = "update_bookmark"
	ToolDeleteBookmark    = "delete_bookmark"
	ToolListCollections   = "list_collections"
	ToolCreateCollection  = "create_collection"
	ToolGetRecentUnsorted = "get_recent_unsorted"
)

// Schema is a JSON schema fragment
type Schema map[string]interface{}

// Definition describes one tool for tools/list
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema Schema `json:"inputSchema"`
}

func object(properties Schema, required ...string) Schema {
	s := Schema{"type": "object", "properties": properties}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func str(description string) Schema {
	return Schema{"type": "string", "description": description}
}

func strMax(description string, maxLength int) Schema {
	return Schema{"type": "string", "maxLength": maxLength, "description": description}
}

func integer(description string) Schema {
	return Schema{"type": "integer", "description": description}
}

func enum(description string, def string, values ...string) Schema {
	return Schema{"type": "string", "enum": values, "default": def, "description": description}
}

func tagArray(description string) Schema {
	return Schema{
		"type":        "array",
		"items":       Schema{"type": "string"},
		"maxItems":    maxTags,
		"description": description,
	}
}

// Definitions returns every tool in a stable order
func Definitions() []Definition {
	return []Definition{
		{
			Name:        ToolSearchBookmarks,
			Description: "Search bookmarks with optional filters",
			InputSchema: object(Schema{
				"query":         str("Search query string"),
				"collection_id": integer("Collection ID to search within (-1 for Unsorted, -99 for Trash)"),
				"type":          str("Bookmark type filter (link, article, image, video, document, audio)"),
				"tag":           str("Tag filter"),
				"sort":          enum("Sort field", "created", searchSorts...),
				"order":         enum("Sort order", "desc", sortOrders...),
				"page": Schema{
					"type":        "integer",
					"minimum":     0,
					"default":     0,
					"description": "Page number (0-based)",
				},
				"per_page": Schema{
					"type":        "integer",
					"minimum":     1,
					"maximum":     maxPerPage,
					"default":     maxPerPage,
					"description": "Items per page",
				},
			}),
		},
		{
			Name:        ToolCreateBookmark,
			Description: "Create a new bookmark",
			InputSchema: object(Schema{
				"url":           Schema{"type": "string", "format": "uri", "description": "Bookmark URL"},
				"title":         strMax("Bookmark title", maxTitleLength),
				"excerpt":       strMax("Bookmark excerpt", maxExcerptLength),
				"note":          strMax("Personal note", maxNoteLength),
				"tags":          tagArray("List of tags"),
				"collection_id": integer("Collection ID"),
			}, "url"),
		},
		{
			Name:        ToolGetBookmark,
			Description: "Get bookmark details by ID",
			InputSchema: object(Schema{
				"bookmark_id": integer("Bookmark ID"),
			}, "bookmark_id"),
		},
		{
			Name:        ToolUpdateBookmark,
			Description: "Update an existing bookmark",
			InputSchema: object(Schema{
				"bookmark_id":   integer("Bookmark ID to update"),
				"title":         strMax("New title", maxTitleLength),
				"excerpt":       strMax("New excerpt", maxExcerptLength),
				"note":          strMax("New note", maxNoteLength),
				"tags":          tagArray("New tags list"),
				"collection_id": integer("New collection ID"),
			}, "bookmark_id"),
		},
		{
			Name:        ToolDeleteBookmark,
			Description: "Delete a bookmark",
			InputSchema: object(Schema{
				"bookmark_id": integer("Bookmark ID to delete"),
			}, "bookmark_id"),
		},
		{
			Name:        ToolListCollections,
			Description: "List all collections",
			InputSchema: object(Schema{
				"sort":  enum("Sort field", "title", collectionSorts...),
				"order": enum("Sort order", "asc", sortOrders...),
			}),
		},
		{
			Name:        ToolCreateCollection,
			Description: "Create a new collection",
			InputSchema: object(Schema{
				"title": Schema{
					"type":        "string",
					"minLength":   1,
					"maxLength":   maxCollectionTitleLength,
					"description": "Collection title",
				},
				"description": strMax("Collection description", maxDescriptionLength),
				"public":      Schema{"type": "boolean", "default": false, "description": "Make collection public"},
				"view":        enum("Collection view type", "list", "list", "simple", "grid", "masonry"),
				"parent_id":   integer("Parent collection ID for a nested collection"),
			}, "title"),
		},
		{
			Name:        ToolGetRecentUnsorted,
			Description: "Get the most recent bookmarks from the Unsorted collection, newest first",
			InputSchema: object(Schema{
				"limit": Schema{
					"type":        "integer",
					"minimum":     1,
					"maximum":     maxPerPage,
					"default":     maxPerPage,
					"description": "Maximum number of bookmarks to return",
				},
			}),
		},
	}
}
