// Conversation and activity-feed HTTP handlers.
//
// These are the dashboard's read paths: paginated conversation threads,
// the messages inside one thread, and the recent event feed.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/darckarchie/whalix-server/internal/domain"
	"github.com/darckarchie/whalix-server/internal/repo"
	"github.com/darckarchie/whalix-server/internal/utils"
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListConversationsResponse wraps a page of conversations.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// ListMessagesResponse wraps a page of messages within a conversation.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// clampPagination parses and bounds page and page_size query params to
// sane defaults and limits.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

func paginate(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// ListConversations godoc
// @Summary  List a tenant's conversations (paginated)
// @Tags     Conversations
// @Produce  json
// @Param    tenant_id  path   string  true   "Tenant ID"
// @Param    page       query  int     false  "Page number"
// @Param    page_size  query  int     false  "Items per page"
// @Success  200  {object}  handlers.ListConversationsResponse
// @Router   /conversations/{tenant_id} [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := c.Param("tenant_id")
	page, pageSize := clampPagination(c)

	total, err := repo.CountConversations(ctx, h.db, tenantID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items, err := repo.ListConversationsPage(ctx, h.db, tenantID, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination:    paginate(page, pageSize, total),
	})
}

// ListConversationMessages godoc
// @Summary  List a conversation's messages (paginated)
// @Tags     Conversations
// @Produce  json
// @Param    tenant_id  path   string  true   "Tenant ID"
// @Param    id         path   string  true   "Conversation ID"
// @Param    page       query  int     false  "Page number"
// @Param    page_size  query  int     false  "Items per page"
// @Success  200  {object}  handlers.ListMessagesResponse
// @Router   /conversations/{tenant_id}/{id}/messages [get]
func (h *Handlers) ListConversationMessages(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := c.Param("tenant_id")
	convID := c.Param("id")
	page, pageSize := clampPagination(c)

	// Scope check: the conversation must belong to the addressed tenant.
	if _, err := repo.GetConversation(ctx, h.db, tenantID, convID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	total, err := repo.CountMessages(ctx, h.db, convID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	items, err := repo.ListMessagesPage(ctx, h.db, convID, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: paginate(page, pageSize, total),
	})
}

// ListEvents godoc
// @Summary  Recent activity feed for a tenant
// @Tags     Events
// @Produce  json
// @Param    tenant_id  path   string  true   "Tenant ID"
// @Param    limit      query  int     false  "Max events returned (default 50)"
// @Success  200  {object}  map[string][]domain.Event
// @Router   /events/{tenant_id} [get]
func (h *Handlers) ListEvents(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), 50)
	if limit > 200 {
		limit = 200
	}
	events, err := repo.ListRecentEvents(c.Request.Context(), h.db, c.Param("tenant_id"), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"events": events})
}
