package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-ags/internal/db"
	"github.com/joeblew999/plat-ags/internal/overlay"
	"github.com/joeblew999/plat-ags/internal/rpc"
	"github.com/joeblew999/plat-ags/internal/service"
)

const identifyBody = `{"results":[{"layerId":0,"layerName":"Tracts","value":"42",` +
	`"attributes":{"POP":100},"geometry":{"x":-100,"y":40}}]}`

// newTestAPI wires the handlers the way the server does, with a loader
// that completes immediately and an identify transport that always answers.
func newTestAPI(t *testing.T) http.Handler {
	t.Helper()

	mux := http.NewServeMux()
	cfg := huma.DefaultConfig("test", "1.0.0")
	cfg.CreateHooks = []func(huma.Config) huma.Config{}
	cfg.Transformers = append(cfg.Transformers, LinkTransformer())
	humaAPI := humago.New(mux, cfg)

	conn, err := db.Open(db.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	journal, err := service.NewJournal(context.Background(), conn)
	require.NoError(t, err)

	bus := service.NewEventBus()
	overlays := service.NewOverlayService("", bus, nil)
	loader := overlay.LoaderFunc(func(_ context.Context, _ string, done func(*overlay.Decoded, error)) {
		done(&overlay.Decoded{Format: "png", Width: 800, Height: 600}, nil)
	})
	requests := rpc.NewManager(rpc.TransportFunc(func(ctx context.Context, u string) ([]byte, error) {
		return []byte(identifyBody), nil
	}))
	t.Cleanup(requests.Close)

	svc := &Services{
		Overlays: overlays,
		Journal:  journal,
		Sessions: service.NewSessionService(service.SessionConfig{
			Overlays:  overlays,
			Loader:    loader,
			Requester: requests,
			Bus:       bus,
			Journal:   journal,
			Viewport:  service.DefaultViewport(),
		}),
	}
	t.Cleanup(svc.Sessions.CloseAll)

	RegisterRoutes(humaAPI, svc)
	NewInfoHandler("", true).RegisterRoutes(humaAPI)
	NewDBHandler(conn, journal).RegisterRoutes(humaAPI)
	return mux
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(data))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func census() map[string]any {
	return map[string]any{
		"name":   "Census",
		"url":    "http://host/arcgis/rest/services/Census/MapServer",
		"layers": []int{0, 2},
	}
}

func TestHealthAndInfo(t *testing.T) {
	h := newTestAPI(t)

	w := do(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[HealthBody](t, w).Status)
	assert.Contains(t, strings.Join(w.Header().Values("Link"), ","), `</api/v1/overlays>; rel="overlays"`)

	w = do(t, h, http.MethodGet, "/api/v1/info", nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[InfoBody](t, w)
	assert.Equal(t, "plat-ags", info.Name)
	assert.Contains(t, info.Features, "journal")
}

func TestOverlayCRUD(t *testing.T) {
	h := newTestAPI(t)

	w := do(t, h, http.MethodPost, "/api/v1/overlays", census())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	created := decode[CreatedOverlayBody](t, w)
	assert.Equal(t, "census", created.ID)

	w = do(t, h, http.MethodPost, "/api/v1/overlays", census())
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/overlays", map[string]any{"name": "No URL"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/overlays", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]service.OverlayConfig](t, w), 1)

	w = do(t, h, http.MethodGet, "/api/v1/overlays/census", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Values("Link"), `</api/v1/overlays/census>; rel="self"`)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/overlays/missing", nil).Code)

	changed := census()
	changed["name"] = "Census 2020"
	w = do(t, h, http.MethodPut, "/api/v1/overlays/census", changed)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Census 2020", decode[service.OverlayConfig](t, w).Name)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPut, "/api/v1/overlays/missing", changed).Code)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodDelete, "/api/v1/overlays/census", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/api/v1/overlays/census", nil).Code)
}

func TestSessionLifecycle(t *testing.T) {
	h := newTestAPI(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/overlays", census()).Code)

	w := do(t, h, http.MethodGet, "/api/v1/overlays/census/state", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	state := decode[StateBody](t, w)
	assert.Equal(t, "attached", state.State)
	require.NotNil(t, state.Current)
	assert.True(t, state.Current.Loaded)
	assert.Contains(t, state.Current.URL, "layers=show%3A0%2C2")
	assert.Len(t, state.Pane, 1)
	assert.Equal(t, "EPSG:3857", state.View.CRS)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/overlays/missing/state", nil).Code)

	w = do(t, h, http.MethodPut, "/api/v1/overlays/census/view", map[string]any{"zoom": 4, "lng": 10})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	moved := decode[StateBody](t, w)
	assert.Equal(t, 4.0, moved.View.Zoom)
	assert.Greater(t, moved.Generation, state.Generation)
	assert.Len(t, moved.Pane, 1, "only the latest image stays in the pane")

	w = do(t, h, http.MethodPut, "/api/v1/overlays/census/opacity", map[string]any{"opacity": 0.25})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.25, decode[StateBody](t, w).Opacity)

	w = do(t, h, http.MethodGet, "/api/v1/overlays/census/export-url", nil)
	require.Equal(t, http.StatusOK, w.Code)
	exported := decode[struct{ URL string }](t, w)
	assert.True(t, strings.HasPrefix(exported.URL, "http://host/arcgis/rest/services/Census/MapServer/export?"), exported.URL)

	w = do(t, h, http.MethodPost, "/api/v1/overlays/census/detach", nil)
	require.Equal(t, http.StatusOK, w.Code)
	detached := decode[StateBody](t, w)
	assert.Equal(t, "detached", detached.State)
	assert.Empty(t, detached.Pane)

	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/v1/overlays/census/detach", nil).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodGet, "/api/v1/overlays/census/export-url", nil).Code)

	w = do(t, h, http.MethodPost, "/api/v1/overlays/census/attach", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "attached", decode[StateBody](t, w).State)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/v1/overlays/census/attach", nil).Code)
}

func TestIdentify(t *testing.T) {
	h := newTestAPI(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/overlays", census()).Code)

	req := map[string]any{"lng": -100, "lat": 40, "tolerance": 5, "layers": "all:0", "layerDefs": map[string]any{"0": "POP>10"}}
	w := do(t, h, http.MethodPost, "/api/v1/overlays/census/identify", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[struct {
		Results []struct {
			LayerName string `json:"layerName"`
			Value     string `json:"value"`
		} `json:"results"`
	}](t, w)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Tracts", resp.Results[0].LayerName)

	w = do(t, h, http.MethodPost, "/api/v1/overlays/census/identify/geojson", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	fc := decode[struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}](t, w)
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "Point", fc.Features[0].Geometry.Type)
	assert.Equal(t, []float64{-100, 40}, fc.Features[0].Geometry.Coordinates)
	assert.Equal(t, "Tracts", fc.Features[0].Properties["layerName"])

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/v1/overlays/missing/identify", req).Code)
	assert.Equal(t, http.StatusUnprocessableEntity,
		do(t, h, http.MethodPost, "/api/v1/overlays/census/identify", map[string]any{"lng": 500, "lat": 0}).Code)
}

func TestJournalEndpoints(t *testing.T) {
	h := newTestAPI(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/v1/overlays", census()).Code)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/v1/overlays/census/state", nil).Code)

	w := do(t, h, http.MethodGet, "/api/v1/overlays/census/journal?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page := decode[struct {
		Total int                    `json:"total"`
		Limit int                    `json:"limit"`
		Data  []service.JournalEntry `json:"data"`
	}](t, w)
	assert.Equal(t, 3, page.Total, "request, swap and load")
	assert.Equal(t, 1, page.Limit)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "load", page.Data[0].Kind)
	links := strings.Join(w.Header().Values("Link"), ",")
	assert.Contains(t, links, `rel="next"`)
	assert.Contains(t, links, `</api/v1/overlays/census/journal?offset=2&limit=1>; rel="last"`)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/v1/overlays/missing/journal", nil).Code)

	w = do(t, h, http.MethodGet, "/api/v1/journal", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/v1/journal/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]service.JournalStat](t, w), 3)

	w = do(t, h, http.MethodGet, "/api/v1/tables", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "requests")

	w = do(t, h, http.MethodPost, "/api/v1/query", map[string]any{"query": "SELECT kind FROM requests ORDER BY id"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 3, decode[struct {
		Count int `json:"count"`
	}](t, w).Count)

	w = do(t, h, http.MethodPost, "/api/v1/query", map[string]any{"query": "DROP TABLE requests"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIsReadOnly(t *testing.T) {
	cases := map[string]bool{
		"SELECT 1":                         true,
		"  with x as (select 1) select *":  true,
		"SHOW TABLES;":                     true,
		"DESCRIBE requests":                true,
		"DELETE FROM requests":             false,
		"SELECT 1; DROP TABLE requests":    false,
		"":                                 false,
		"INSERT INTO requests VALUES (1)":  false,
		"ATTACH 'x.duckdb'":                false,
		"from requests select count(*)":    true,
		"COPY requests TO 'out.csv'":       false,
		"PRAGMA database_list":             false,
		"summarize requests":               true,
		"CREATE TABLE t AS SELECT 1":       false,
		"update requests set kind = 'x'":   false,
		"select * from requests where 1=1": true,
	}
	for q, want := range cases {
		assert.Equal(t, want, isReadOnly(q), q)
	}
}
