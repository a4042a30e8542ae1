package api

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func parseQuery(query string, cfg PaginationConfig) PaginationParams {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/test"+query, nil)
	return ParsePagination(c, cfg)
}

func TestParsePagination(t *testing.T) {
	cfg := PaginationConfig{DefaultLimit: 50, MaxLimit: 100}

	tests := []struct {
		name       string
		query      string
		wantPage   int
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 1, 50, 0},
		{"custom", "?page=3&limit=25", 3, 25, 50},
		{"zero page", "?page=0", 1, 50, 0},
		{"negative page", "?page=-2", 1, 50, 0},
		{"garbage page", "?page=abc", 1, 50, 0},
		{"limit over max", "?limit=1000", 1, 50, 0},
		{"zero limit", "?limit=0", 1, 50, 0},
		{"garbage limit", "?limit=ten&page=2", 2, 50, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := parseQuery(tt.query, cfg)
			if p.Page != tt.wantPage {
				t.Errorf("Expected page=%d, got %d", tt.wantPage, p.Page)
			}
			if p.Limit != tt.wantLimit {
				t.Errorf("Expected limit=%d, got %d", tt.wantLimit, p.Limit)
			}
			if p.Offset != tt.wantOffset {
				t.Errorf("Expected offset=%d, got %d", tt.wantOffset, p.Offset)
			}
		})
	}
}

func TestNewPaginationResponse(t *testing.T) {
	tests := []struct {
		total, limit, wantPages int
	}{
		{0, 50, 0},
		{1, 50, 1},
		{50, 50, 1},
		{51, 50, 2},
		{10, 0, 0},
	}

	for _, tt := range tests {
		resp := NewPaginationResponse(PaginationParams{Page: 1, Limit: tt.limit}, tt.total)
		if resp.TotalPages != tt.wantPages {
			t.Errorf("total=%d limit=%d: expected %d pages, got %d", tt.total, tt.limit, tt.wantPages, resp.TotalPages)
		}
		if resp.Total != tt.total {
			t.Errorf("Expected total=%d, got %d", tt.total, resp.Total)
		}
	}
}
