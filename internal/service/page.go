package service

import (
	"context"

	"github.com/d60-Lab/followgraph/internal/query"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Page 分页结果
type Page[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func slicePage[T any](ctx context.Context, p *query.Paginator[T], page, pageSize int) (*Page[T], error) {
	page, pageSize = normalizePage(page, pageSize)
	start := int64((page - 1) * pageSize)
	items, err := p.Slice(ctx, start, start+int64(pageSize))
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return &Page[T]{Items: items, Total: p.Count(), Page: page, PageSize: pageSize}, nil
}
