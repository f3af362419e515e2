package tools

import (
	"context"
	"fmt"

	"github.com/pdmimpulse/raindrop-mcp/internal/apierr"
	"github.com/pdmimpulse/raindrop-mcp/internal/raindrop"
	"github.com/pdmimpulse/raindrop-mcp/internal/utils"
)

// BookmarkAPI is the part of the Raindrop client the tools call
type BookmarkAPI interface {
	SearchBookmarks(ctx context.Context, params raindrop.SearchParams) (*raindrop.SearchResult, error)
	GetBookmark(ctx context.Context, id int64) (*raindrop.Bookmark, error)
	CreateBookmark(ctx context.Context, payload map[string]interface{}) (*raindrop.Bookmark, error)
	UpdateBookmark(ctx context.Context, id int64, payload map[string]interface{}) (*raindrop.Bookmark, error)
	DeleteBookmark(ctx context.Context, id int64) error
	ListCollections(ctx context.Context) ([]raindrop.Collection, error)
	CreateCollection(ctx context.Context, payload map[string]interface{}) (*raindrop.Collection, error)
}

type toolFunc func(ctx context.Context, args Args) (Envelope, error)

// Handler dispatches tool calls
type Handler struct {
	api    BookmarkAPI
	logger *utils.Logger
	tools  map[string]toolFunc
}

// NewHandler creates a Handler over api
func NewHandler(api BookmarkAPI, logger *utils.Logger) *Handler {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	h := &Handler{
		api:    api,
		logger: logger.Component("tools"),
	}
	h.tools = map[string]toolFunc{
		ToolSearchBookmarks:   h.searchBookmarks,
		ToolCreateBookmark:    h.createBookmark,
		ToolGetBookmark:       h.getBookmark,
		ToolUpdateBookmark:    h.updateBookmark,
		ToolDeleteBookmark:    h.deleteBookmark,
		ToolListCollections:   h.listCollections,
		ToolCreateCollection:  h.createCollection,
		ToolGetRecentUnsorted: h.getRecentUnsorted,
	}
	return h
}

// Call runs one tool. Failures, including panics, come back as error
// envelopes.
func (h *Handler) Call(ctx context.Context, name string, args Args) (env Envelope) {
	if args == nil {
		args = Args{}
	}
	logger := h.logger.With(map[string]interface{}{
		"tool":       name,
		"request_id": utils.RequestID(ctx),
	})
	timer := utils.NewTimer(logger, "tool "+name)
	defer timer.Stop()

	defer func() {
		if r := recover(); r != nil {
			err := apierr.API(fmt.Sprintf("tool panicked: %v", r), 0, nil)
			logger.Error(err, "Tool execution failed", nil)
			env = Failure(err, name)
		}
	}()

	logger.Info("Calling tool", map[string]interface{}{
		"arg_keys": argKeys(args),
	})

	fn, ok := h.tools[name]
	if !ok {
		err := apierr.Validation("", "Unknown tool: "+name)
		logger.Warn("Unknown tool", nil)
		return Failure(err, name)
	}
	if h.api == nil {
		return Failure(apierr.API("Raindrop client not initialized", 0, nil), name)
	}
	if err := ValidateArgs(name, args); err != nil {
		logger.Warn("Invalid tool arguments", map[string]interface{}{
			"error": err.Error(),
		})
		return Failure(err, name)
	}

	env, err := fn(ctx, args)
	if err != nil {
		logger.Error(err, "Tool execution failed", map[string]interface{}{
			"code": ErrorCode(err),
		})
		return Failure(err, name)
	}
	return env
}

func argKeys(args Args) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	return keys
}

func (h *Handler) searchBookmarks(ctx context.Context, args Args) (Envelope, error) {
	q, err := SearchParams(args)
	if err != nil {
		return Envelope{}, err
	}
	res, err := h.api.SearchBookmarks(ctx, q.Params)
	if err != nil {
		return Envelope{}, err
	}
	return Success(NewSearchPage(res.Items, res.Total, q.Page, q.PerPage)), nil
}

func (h *Handler) createBookmark(ctx context.Context, args Args) (Envelope, error) {
	payload, err := CreateBookmarkPayload(args)
	if err != nil {
		return Envelope{}, err
	}
	b, err := h.api.CreateBookmark(ctx, payload)
	if err != nil {
		return Envelope{}, err
	}
	return Success(NewBookmarkView(*b)), nil
}

func (h *Handler) getBookmark(ctx context.Context, args Args) (Envelope, error) {
	id, err := requiredBookmarkID(args)
	if err != nil {
		return Envelope{}, err
	}
	b, err := h.api.GetBookmark(ctx, id)
	if err != nil {
		return Envelope{}, err
	}
	return Success(NewBookmarkView(*b)), nil
}

func (h *Handler) updateBookmark(ctx context.Context, args Args) (Envelope, error) {
	id, err := requiredBookmarkID(args)
	if err != nil {
		return Envelope{}, err
	}
	payload, err := UpdateBookmarkPayload(args)
	if err != nil {
		return Envelope{}, err
	}
	b, err := h.api.UpdateBookmark(ctx, id, payload)
	if err != nil {
		return Envelope{}, err
	}
	return Success(NewBookmarkView(*b)), nil
}

func (h *Handler) deleteBookmark(ctx context.Context, args Args) (Envelope, error) {
	id, err := requiredBookmarkID(args)
	if err != nil {
		return Envelope{}, err
	}
	if err := h.api.DeleteBookmark(ctx, id); err != nil {
		return Envelope{}, err
	}
	return Success(DeleteResult{BookmarkID: id, Deleted: true}), nil
}

func (h *Handler) listCollections(ctx context.Context, args Args) (Envelope, error) {
	field, desc, err := CollectionSort(args)
	if err != nil {
		return Envelope{}, err
	}
	collections, err := h.api.ListCollections(ctx)
	if err != nil {
		return Envelope{}, err
	}
	views := make([]CollectionView, 0, len(collections))
	for _, c := range collections {
		views = append(views, NewCollectionView(c))
	}
	SortCollections(views, field, desc)
	return Success(CollectionList{Collections: views, Count: len(views)}), nil
}

func (h *Handler) createCollection(ctx context.Context, args Args) (Envelope, error) {
	payload, err := CreateCollectionPayload(args)
	if err != nil {
		return Envelope{}, err
	}
	c, err := h.api.CreateCollection(ctx, payload)
	if err != nil {
		return Envelope{}, err
	}
	return Success(NewCollectionView(*c)), nil
}

func (h *Handler) getRecentUnsorted(ctx context.Context, args Args) (Envelope, error) {
	q, err := RecentUnsortedParams(args)
	if err != nil {
		return Envelope{}, err
	}
	res, err := h.api.SearchBookmarks(ctx, q.Params)
	if err != nil {
		return Envelope{}, err
	}
	env := Success(NewRecentPage(NewSearchPage(res.Items, res.Total, q.Page, q.PerPage)))
	env.Tool = ToolGetRecentUnsorted
	return env, nil
}
