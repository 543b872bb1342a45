package api

import (
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-ags/internal/humastar"
)

// links maps operation paths to their RFC 8288 Link header values.
// Enables restish hypermedia navigation via `restish links <url>`.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/overlays>; rel="overlays"`,
		`</api/v1/journal>; rel="journal"`,
		`</openapi.json>; rel="service-desc"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/overlays>; rel="overlays"`,
	},
	"/api/v1/overlays": {
		`</api/v1/journal>; rel="journal"`,
	},
	"/api/v1/overlays/{id}": {
		`</api/v1/overlays>; rel="collection"`,
	},
	"/api/v1/overlays/{id}/state":      {`</api/v1/overlays>; rel="collection"`},
	"/api/v1/overlays/{id}/view":       {`</api/v1/overlays>; rel="collection"`},
	"/api/v1/overlays/{id}/export-url": {`</api/v1/overlays>; rel="collection"`},
	"/api/v1/journal": {
		`</api/v1/journal/stats>; rel="stats"`,
		`</api/v1/overlays>; rel="overlays"`,
	},
	"/api/v1/tables": {
		`</api/v1/query>; rel="query"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link headers.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		// Item endpoints get a self link
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		if p, ok := v.(humastar.Pager); ok {
			for _, link := range p.PaginationLinks(ctx.URL().Path) {
				ctx.AppendHeader("Link", link)
			}
		}

		return v, nil
	}
}
