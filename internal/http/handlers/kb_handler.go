// Knowledge-base HTTP handlers.
//
// Catalog items are what the auto-reply generator quotes in pricing
// answers, so these endpoints are the dashboard's way of keeping the
// assistant's menu current.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/darckarchie/whalix-server/internal/domain"
	"github.com/darckarchie/whalix-server/internal/repo"
)

// CreateKBItemRequest is the JSON payload for adding a catalog item.
type CreateKBItemRequest struct {
	Type         string   `json:"type"`
	Name         string   `json:"name" binding:"required,min=1,max=255"`
	Price        int64    `json:"price" binding:"required,min=0"`
	Currency     string   `json:"currency"`
	Availability *bool    `json:"availability"`
	Stock        *int     `json:"stock"`
	Tags         []string `json:"tags"`
	Description  string   `json:"description"`
}

// ListKBItems godoc
// @Summary  List a tenant's catalog items
// @Tags     KnowledgeBase
// @Produce  json
// @Param    tenant_id  path  string  true  "Tenant ID"
// @Success  200  {object}  map[string][]domain.KBItem
// @Router   /kb/{tenant_id}/items [get]
func (h *Handlers) ListKBItems(c *gin.Context) {
	items, err := repo.ListKBItems(c.Request.Context(), h.db, c.Param("tenant_id"))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"items": items})
}

// CreateKBItem godoc
// @Summary  Add a catalog item
// @Tags     KnowledgeBase
// @Accept   json
// @Produce  json
// @Param    tenant_id  path  string  true  "Tenant ID"
// @Param    body       body  handlers.CreateKBItemRequest  true  "Item payload"
// @Success  201  {object}  domain.KBItem
// @Router   /kb/{tenant_id}/items [post]
func (h *Handlers) CreateKBItem(c *gin.Context) {
	var req CreateKBItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	item := &domain.KBItem{
		TenantID:     c.Param("tenant_id"),
		Type:         strings.TrimSpace(req.Type),
		Name:         strings.TrimSpace(req.Name),
		Price:        req.Price,
		Currency:     strings.TrimSpace(req.Currency),
		Availability: true,
		Stock:        req.Stock,
		Tags:         req.Tags,
		Description:  strings.TrimSpace(req.Description),
	}
	if req.Availability != nil {
		item.Availability = *req.Availability
	}

	if err := repo.CreateKBItem(c.Request.Context(), h.db, item); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, item)
}
