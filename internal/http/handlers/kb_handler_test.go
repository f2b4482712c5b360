package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/darckarchie/whalix-server/internal/domain"
)

func newKBRouter(t *testing.T, h *Handlers) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/kb/:tenant_id/items", h.ListKBItems)
	r.POST("/api/kb/:tenant_id/items", h.CreateKBItem)
	return r
}

func TestCreateKBItem_Defaults(t *testing.T) {
	db := newHandlerDB(t)
	r := newKBRouter(t, New(&fakeSessions{}, &fakeSender{}, db, 0))

	w := doJSON(t, r, http.MethodPost, "/api/kb/t1/items", gin.H{
		"name":  "  Garba  ",
		"price": 500,
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", w.Code, w.Body.String())
	}

	var item domain.KBItem
	if err := json.Unmarshal(w.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if item.ID == "" {
		t.Fatalf("ID not assigned")
	}
	if item.Name != "Garba" {
		t.Fatalf("name = %q; want trimmed", item.Name)
	}
	if !item.Availability {
		t.Fatalf("availability should default to true")
	}
	if item.Currency != "FCFA" || item.Type != "product" {
		t.Fatalf("defaults not applied: currency=%q type=%q", item.Currency, item.Type)
	}
}

func TestCreateKBItem_ExplicitUnavailable(t *testing.T) {
	db := newHandlerDB(t)
	r := newKBRouter(t, New(&fakeSessions{}, &fakeSender{}, db, 0))

	w := doJSON(t, r, http.MethodPost, "/api/kb/t1/items", gin.H{
		"name":         "Attiéké poisson",
		"price":        2500,
		"availability": false,
		"tags":         []string{"plat", "poisson"},
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d; body = %s", w.Code, w.Body.String())
	}

	var item domain.KBItem
	if err := json.Unmarshal(w.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if item.Availability {
		t.Fatalf("availability = true; want explicit false kept")
	}
	if len(item.Tags) != 2 {
		t.Fatalf("tags = %v", item.Tags)
	}
}

func TestCreateKBItem_Validation(t *testing.T) {
	db := newHandlerDB(t)
	r := newKBRouter(t, New(&fakeSessions{}, &fakeSender{}, db, 0))

	cases := map[string]gin.H{
		"missing name":  {"price": 500},
		"missing price": {"name": "Garba"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/kb/t1/items", body, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d; want 400", w.Code)
			}
		})
	}
}

func TestListKBItems_TenantScoped(t *testing.T) {
	db := newHandlerDB(t)
	r := newKBRouter(t, New(&fakeSessions{}, &fakeSender{}, db, 0))

	for _, tc := range []struct{ tenant, name string }{
		{"t1", "Garba"},
		{"t1", "Alloco"},
		{"t2", "Jus de bissap"},
	} {
		w := doJSON(t, r, http.MethodPost, "/api/kb/"+tc.tenant+"/items", gin.H{
			"name":  tc.name,
			"price": 500,
		}, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("seed %q: status = %d", tc.name, w.Code)
		}
	}

	w := doJSON(t, r, http.MethodGet, "/api/kb/t1/items", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Items []domain.KBItem `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("items = %d; want 2", len(resp.Items))
	}
	for _, it := range resp.Items {
		if it.TenantID != "t1" {
			t.Fatalf("foreign item leaked: %+v", it)
		}
	}
}
