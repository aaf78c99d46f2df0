// Package pagination reads page, limit and sort parameters from a query
// string and turns them into an offset for list queries.
package pagination

import (
	"net/url"
	"strconv"
)

type Params struct {
	Page   int
	Limit  int
	Offset int
	Sort   string // "newest" or "oldest"
}

const (
	MaxLimit     = 100
	DefaultPage  = 1
	DefaultLimit = 20
	DefaultSort  = "newest"
)

func calculateOffset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}

func isValidSort(sort string) bool {
	return sort == "newest" || sort == "oldest"
}

type Option func(*Params)

// WithDefaultLimit overrides DefaultLimit. Non-positive values are ignored.
func WithDefaultLimit(limit int) Option {
	return func(p *Params) {
		if limit > 0 {
			p.Limit = limit
		}
	}
}

func WithDefaultSort(sort string) Option {
	return func(p *Params) {
		if isValidSort(sort) {
			p.Sort = sort
		}
	}
}

// FromQuery extracts pagination parameters, ignoring malformed values and
// capping the limit at MaxLimit.
func FromQuery(q url.Values, opts ...Option) Params {
	params := Params{
		Page:  DefaultPage,
		Limit: DefaultLimit,
		Sort:  DefaultSort,
	}
	for _, opt := range opts {
		opt(&params)
	}

	if val, err := strconv.Atoi(q.Get("page")); err == nil && val > 0 {
		params.Page = val
	}
	if val, err := strconv.Atoi(q.Get("limit")); err == nil && val > 0 {
		params.Limit = val
	}
	if params.Limit > MaxLimit {
		params.Limit = MaxLimit
	}
	if sort := q.Get("sort"); isValidSort(sort) {
		params.Sort = sort
	}

	params.Offset = calculateOffset(params.Page, params.Limit)
	return params
}

// HasNext reports whether items remain after this page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}
