package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// PaginationParams holds parsed pagination parameters
type PaginationParams struct {
	Page   int
	Limit  int
	Offset int
}

// PaginationResponse is the JSON response structure for paginated endpoints
type PaginationResponse struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// PaginationConfig configures pagination parsing behavior
type PaginationConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// DefaultPaginationConfig returns a standard config for most endpoints.
func DefaultPaginationConfig() PaginationConfig {
	return PaginationConfig{
		DefaultLimit: 50,
		MaxLimit:     500,
	}
}

// ParsePagination extracts and validates pagination parameters from a Gin context.
// Malformed or out-of-range values fall back to the defaults.
func ParsePagination(c *gin.Context, cfg PaginationConfig) PaginationParams {
	p := PaginationParams{}

	p.Page = parseInt(c.DefaultQuery("page", "1"), 1)
	if p.Page < 1 {
		p.Page = 1
	}

	p.Limit = parseInt(c.DefaultQuery("limit", strconv.Itoa(cfg.DefaultLimit)), cfg.DefaultLimit)
	if p.Limit < 1 || p.Limit > cfg.MaxLimit {
		p.Limit = cfg.DefaultLimit
	}

	p.Offset = (p.Page - 1) * p.Limit
	return p
}

// NewPaginationResponse creates a pagination response from params and total count
func NewPaginationResponse(p PaginationParams, total int) PaginationResponse {
	totalPages := 0
	if p.Limit > 0 {
		totalPages = (total + p.Limit - 1) / p.Limit
	}

	return PaginationResponse{
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      total,
		TotalPages: totalPages,
	}
}

func parseInt(s string, defaultVal int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
