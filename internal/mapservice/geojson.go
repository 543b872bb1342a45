package mapservice

import (
	"encoding/json"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// esriGeometry covers the point, multipoint, polyline and polygon shapes.
type esriGeometry struct {
	X      *float64      `json:"x"`
	Y      *float64      `json:"y"`
	Points [][]float64   `json:"points"`
	Paths  [][][]float64 `json:"paths"`
	Rings  [][][]float64 `json:"rings"`
}

// OrbGeometry converts the result geometry. Polygon rings are rewound to
// GeoJSON order: counter-clockwise shells, clockwise holes.
func (r IdentifyResult) OrbGeometry() (orb.Geometry, bool) {
	if len(r.Geometry) == 0 {
		return nil, false
	}
	var g esriGeometry
	if err := json.Unmarshal(r.Geometry, &g); err != nil {
		return nil, false
	}

	switch {
	case g.X != nil && g.Y != nil:
		return orb.Point{*g.X, *g.Y}, true
	case len(g.Points) > 0:
		return orb.MultiPoint(toPoints(g.Points)), true
	case len(g.Paths) == 1:
		return orb.LineString(toPoints(g.Paths[0])), true
	case len(g.Paths) > 1:
		mls := make(orb.MultiLineString, 0, len(g.Paths))
		for _, p := range g.Paths {
			mls = append(mls, orb.LineString(toPoints(p)))
		}
		return mls, true
	case len(g.Rings) > 0:
		return polygons(g.Rings), true
	}
	return nil, false
}

// polygons groups rings into polygons: every clockwise ring starts a new
// polygon, counter-clockwise rings are holes of the preceding one.
func polygons(rings [][][]float64) orb.Geometry {
	var mp orb.MultiPolygon
	for _, raw := range rings {
		ring := orb.Ring(toPoints(raw))
		if len(ring) < 4 {
			continue
		}
		shell := ring.Orientation() == orb.CW
		ring.Reverse()
		if shell || len(mp) == 0 {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		mp[len(mp)-1] = append(mp[len(mp)-1], ring)
	}
	if len(mp) == 1 {
		return mp[0]
	}
	return mp
}

func toPoints(coords [][]float64) []orb.Point {
	pts := make([]orb.Point, 0, len(coords))
	for _, c := range coords {
		if len(c) >= 2 {
			pts = append(pts, orb.Point{c[0], c[1]})
		}
	}
	return pts
}

// FeatureCollection converts the results to GeoJSON features carrying the
// result attributes plus layerId, layerName and value. Results without a
// usable geometry are skipped.
func (r *IdentifyResponse) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, res := range r.Results {
		g, ok := res.OrbGeometry()
		if !ok {
			continue
		}
		f := geojson.NewFeature(g)
		for k, v := range res.Attributes {
			f.Properties[k] = v
		}
		f.Properties["layerId"] = res.LayerID
		f.Properties["layerName"] = res.LayerName
		if res.Value != "" {
			f.Properties["value"] = res.Value
		}
		fc.Append(f)
	}
	return fc
}
