package pagination

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		opts  []Option
		want  Params
	}{
		{"defaults", "", nil, Params{Page: 1, Limit: 20, Offset: 0, Sort: "newest"}},
		{"explicit", "page=3&limit=5&sort=oldest", nil, Params{Page: 3, Limit: 5, Offset: 10, Sort: "oldest"}},
		{"capped limit", "limit=500", nil, Params{Page: 1, Limit: 100, Offset: 0, Sort: "newest"}},
		{"garbage ignored", "page=-2&limit=abc&sort=sideways", nil, Params{Page: 1, Limit: 20, Offset: 0, Sort: "newest"}},
		{"options", "page=2", []Option{WithDefaultLimit(10), WithDefaultSort("oldest")}, Params{Page: 2, Limit: 10, Offset: 10, Sort: "oldest"}},
		{"bad options ignored", "", []Option{WithDefaultLimit(0), WithDefaultSort("asc")}, Params{Page: 1, Limit: 20, Offset: 0, Sort: "newest"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, FromQuery(q, tt.opts...))
		})
	}
}

func TestHasNext(t *testing.T) {
	t.Parallel()

	p := Params{Page: 2, Limit: 10, Offset: 10}
	assert.True(t, p.HasNext(21))
	assert.False(t, p.HasNext(20))
}
