package mapservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/plat-ags/internal/params"
	"github.com/joeblew999/plat-ags/internal/rpc"
)

func TestNew_NormalizesURL(t *testing.T) {
	a := New("http://host/arcgis/rest/services/Census/MapServer", Options{})
	b := New("http://host/arcgis/rest/services/Census/MapServer/", Options{})

	assert.Equal(t, "http://host/arcgis/rest/services/Census/MapServer/", a.URL())
	assert.Equal(t, a.URL(), b.URL())
	assert.Equal(t, "http://host/arcgis/rest/services/Census/MapServer/identify", a.IdentifyURL())
}

func TestExportURL_Defaults(t *testing.T) {
	s := New("http://host/MapServer", Options{})
	got := s.ExportURL(orb.Bound{Min: orb.Point{-100, -50.5}, Max: orb.Point{100, 50.5}}, 800, 600)

	assert.Equal(t,
		"http://host/MapServer/export?format=png&transparent=true&f=image&bboxSR=102100&imageSR=102100&bbox=-100%2C-50.5%2C100%2C50.5&size=800%2C600",
		got)
}

func TestExportURL_FiltersAndToken(t *testing.T) {
	opaque := false
	s := New("http://host/MapServer", Options{
		Format:      "png32",
		Transparent: &opaque,
		Filter: params.Filter{
			Layers: params.LayerIDs{"0", "2"},
			Verb:   params.Hide,
			Defs:   params.LayerDefMap{"0": "POP>100"},
		},
		Params: map[string]string{"dpi": "96", "token": "leak", "bbox": "nope"},
		Token:  "abc",
	})

	got := s.ExportURL(orb.Bound{Max: orb.Point{1, 1}}, 10, 20)
	u, err := url.Parse(got)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "png32", q.Get("format"))
	assert.Equal(t, "false", q.Get("transparent"))
	assert.Equal(t, "hide:0,2", q.Get("layers"))
	assert.Equal(t, "0:POP>100", q.Get("layerDefs"))
	assert.Equal(t, "96", q.Get("dpi"))
	assert.Equal(t, "0,0,1,1", q.Get("bbox"))
	assert.Equal(t, []string{"abc"}, q["token"])
	assert.True(t, strings.HasSuffix(got, "&token=abc"))

	_, leaked := s.Params().Get("token")
	assert.False(t, leaked)
}

func TestExportURL_EscapesToken(t *testing.T) {
	s := New("http://host/MapServer", Options{Token: "a&b#c+d"})

	got := s.ExportURL(orb.Bound{Max: orb.Point{1, 1}}, 10, 20)
	assert.True(t, strings.HasSuffix(got, "&token=a%26b%23c%2Bd"), got)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, []string{"a&b#c+d"}, u.Query()["token"])
	assert.Empty(t, u.Fragment)
}

func TestExportURL_OmitsAbsentLayers(t *testing.T) {
	s := New("http://host/MapServer", Options{Filter: params.Filter{Defs: params.LayerDefList{"", ""}}})
	got := s.ExportURL(orb.Bound{}, 1, 1)

	assert.NotContains(t, got, "layers=")
	assert.NotContains(t, got, "layerDefs=")
}

func TestSetFilterAndSpatialReference(t *testing.T) {
	s := New("http://host/MapServer", Options{})
	s.SetSpatialReference("3857")
	s.SetSpatialReference("")
	s.SetFilter(params.Filter{Layers: params.LayerExpr("show:4,5")})

	p := s.Params()
	v, _ := p.Get("bboxSR")
	assert.Equal(t, "3857", v)
	v, _ = p.Get("imageSR")
	assert.Equal(t, "3857", v)
	v, _ = p.Get("layers")
	assert.Equal(t, "show:4,5", v)

	s.SetFilter(params.Filter{})
	_, ok := s.Params().Get("layers")
	assert.False(t, ok)
}

func TestExtentHelpers(t *testing.T) {
	b := orb.Bound{Min: orb.Point{-10, 20}, Max: orb.Point{30, 45}}

	e := BoundsToExtent(b)
	assert.Equal(t, Extent{XMin: -10, YMin: 20, XMax: 30, YMax: 45, SpatialReference: SpatialReference{WKID: 4326}}, e)
	assert.Equal(t, b, ExtentToBounds(e))
	assert.Equal(t, Envelope{X: -10, Y: 20, W: 40, H: 25}, BoundsToEnvelope(b))

	raw, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"xmin":-10,"ymin":20,"xmax":30,"ymax":45,"spatialReference":{"wkid":4326}}`, string(raw))
}

func TestIdentifyParams_Defaults(t *testing.T) {
	s := New("http://host/MapServer", Options{})
	p := s.IdentifyParams(orb.Bound{Min: orb.Point{-1, -2}, Max: orb.Point{3, 4}}, orb.Point{1.5, 2.5}, IdentifyOptions{})

	assert.Equal(t, []string{"sr", "mapExtent", "tolerance", "geometryType", "imageDisplay", "geometry"}, p.Keys())

	v, _ := p.Get("sr")
	assert.Equal(t, "4265", v)
	v, _ = p.Get("tolerance")
	assert.Equal(t, "3", v)
	v, _ = p.Get("imageDisplay")
	assert.Equal(t, "800,600,96", v)
	v, _ = p.Get("mapExtent")
	assert.JSONEq(t, `{"xmin":-1,"ymin":-2,"xmax":3,"ymax":4,"spatialReference":{"wkid":4326}}`, v)
	v, _ = p.Get("geometry")
	assert.JSONEq(t, `{"x":1.5,"y":2.5,"spatialReference":{"wkid":4265}}`, v)
}

func TestIdentifyParams_Overrides(t *testing.T) {
	s := New("http://host/MapServer", Options{Token: "tok"})
	b := orb.Bound{Max: orb.Point{1, 1}}

	p := s.IdentifyParams(b, orb.Point{}, IdentifyOptions{
		Params:    params.NewValues().Set("tolerance", 10).Set("layers", "all:0"),
		LayerDefs: params.LayerDefMap{"2": "B=2", "0": "A=1"},
	})
	v, _ := p.Get("tolerance")
	assert.Equal(t, "10", v)
	v, _ = p.Get("layers")
	assert.Equal(t, "all:0", v)
	v, _ = p.Get("layerDefs")
	assert.JSONEq(t, `{"0":"A=1","2":"B=2"}`, v)
	v, _ = p.Get("token")
	assert.Equal(t, "tok", v)

	p = s.IdentifyParams(b, orb.Point{}, IdentifyOptions{LayerDefs: params.LayerDefList{"A=1"}})
	v, _ = p.Get("layerDefs")
	assert.Equal(t, "", v)

	p = s.IdentifyParams(b, orb.Point{}, IdentifyOptions{LayerDefs: params.LayerDefText(`{"1":"C=3"}`)})
	v, _ = p.Get("layerDefs")
	assert.Equal(t, `{"1":"C=3"}`, v)
}

// fakeRequester answers synchronously with a canned body or error.
type fakeRequester struct {
	url    string
	params *params.Values
	body   string
	err    error
}

func (f *fakeRequester) Request(_ context.Context, baseURL string, p *params.Values, cb rpc.Callback) (string, error) {
	f.url = baseURL
	f.params = p
	if f.err != nil {
		cb(nil, f.err)
	} else {
		cb(json.RawMessage(f.body), nil)
	}
	return "callback_test", nil
}

func TestIdentifyWait(t *testing.T) {
	s := New("http://host/MapServer", Options{})
	b := orb.Bound{Max: orb.Point{1, 1}}

	r := &fakeRequester{body: `{"results":[{"layerId":2,"layerName":"Counties","value":"Kent","attributes":{"NAME":"Kent"},"geometry":{"x":1,"y":2}}]}`}
	resp, err := s.IdentifyWait(context.Background(), r, b, orb.Point{0.5, 0.5}, IdentifyOptions{})
	require.NoError(t, err)
	assert.Equal(t, "http://host/MapServer/identify", r.url)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 2, resp.Results[0].LayerID)
	assert.Equal(t, "Kent", resp.Results[0].Attributes["NAME"])
	pt, ok := resp.Results[0].Point()
	assert.True(t, ok)
	assert.Equal(t, orb.Point{1, 2}, pt)

	r = &fakeRequester{body: `{"error":{"code":400,"message":"Invalid geometry","details":["bad x"]}}`}
	_, err = s.IdentifyWait(context.Background(), r, b, orb.Point{}, IdentifyOptions{})
	var se *ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 400, se.Code)
	assert.Contains(t, se.Error(), "bad x")

	boom := errors.New("boom")
	r = &fakeRequester{err: boom}
	_, err = s.IdentifyWait(context.Background(), r, b, orb.Point{}, IdentifyOptions{})
	assert.ErrorIs(t, err, boom)
}

func TestIdentifyResult_PointWithoutGeometry(t *testing.T) {
	_, ok := IdentifyResult{}.Point()
	assert.False(t, ok)
	_, ok = IdentifyResult{Geometry: json.RawMessage(`{"rings":[]}`)}.Point()
	assert.False(t, ok)
}
