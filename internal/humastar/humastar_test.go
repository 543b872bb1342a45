package humastar

import (
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignals(t *testing.T) {
	s, err := ParseSignals([]byte(`{"id":"census","zoom":4,"lng":-98.5,"panning":true,"opacity":0}`))
	require.NoError(t, err)

	assert.Equal(t, 4, s.Int("zoom"))
	assert.Equal(t, -98.5, s.Float("lng"))
	assert.True(t, s.Bool("panning"))
	assert.True(t, s.Has("opacity"))
	assert.Zero(t, s.Float("opacity"))

	assert.False(t, s.Has("lat"))
	assert.Zero(t, s.Int("id"))

	_, err = ParseSignals([]byte(`[1,2]`))
	assert.Error(t, err)

	in := SignalsInput{RawBody: []byte(`{`)}
	_, err = in.MustParse()
	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 400, se.GetStatus())
}

func TestPaginationLinks(t *testing.T) {
	tests := []struct {
		name string
		page PageBody[int]
		want []string
	}{
		{
			name: "first page",
			page: PageBody[int]{Total: 25, Offset: 0, Limit: 10},
			want: []string{
				`</j?offset=0&limit=10>; rel="first"`,
				`</j?offset=10&limit=10>; rel="next"`,
				`</j?offset=20&limit=10>; rel="last"`,
			},
		},
		{
			name: "middle page",
			page: PageBody[int]{Total: 25, Offset: 5, Limit: 10},
			want: []string{
				`</j?offset=0&limit=10>; rel="first"`,
				`</j?offset=0&limit=10>; rel="prev"`,
				`</j?offset=15&limit=10>; rel="next"`,
				`</j?offset=20&limit=10>; rel="last"`,
			},
		},
		{
			name: "empty",
			page: PageBody[int]{Total: 0, Limit: 10},
			want: []string{
				`</j?offset=0&limit=10>; rel="first"`,
				`</j?offset=0&limit=10>; rel="last"`,
			},
		},
		{
			name: "no limit",
			page: PageBody[int]{Total: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.page.PaginationLinks("/j"))
		})
	}
}
