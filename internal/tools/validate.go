package tools

import (
	"strings"

	"github.com/pdmimpulse/raindrop-mcp/internal/apierr"
)

// ValidateArgs checks the required arguments of a tool before any upstream
// call. Missing arguments map to MISSING_FIELD, malformed ones to
// INVALID_INPUT.
func ValidateArgs(tool string, args Args) error {
	switch tool {
	case ToolCreateBookmark:
		if !args.Has("url") || args.IsNull("url") {
			e := apierr.MissingField("url")
			e.Message = "URL is required"
			return e
		}
		link, _, err := args.String("url")
		if err != nil || !ValidURL(link) {
			return apierr.Validation("url", "Invalid URL format")
		}

	case ToolGetBookmark, ToolUpdateBookmark, ToolDeleteBookmark:
		if _, err := requiredBookmarkID(args); err != nil {
			return err
		}

	case ToolCreateCollection:
		if !args.Has("title") || args.IsNull("title") {
			return apierr.MissingField("title")
		}
		title, _, err := args.String("title")
		if err != nil || strings.TrimSpace(title) == "" {
			return apierr.Validation("title", "title must be a non-empty string")
		}
		if args.Has("parent_id") {
			id, _, err := args.Int("parent_id")
			if err != nil || !ValidCollectionID(id) {
				return apierr.Validation("parent_id", "parent_id must be a valid collection ID")
			}
		}
	}
	return nil
}

func requiredBookmarkID(args Args) (int64, error) {
	id, ok, err := args.Int("bookmark_id")
	if err != nil {
		return 0, apierr.Validation("bookmark_id", "bookmark_id must be an integer")
	}
	if !ok {
		return 0, apierr.MissingField("bookmark_id")
	}
	return id, nil
}
