package viewport

import (
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// CRS is the coordinate reference system of a view.
type CRS interface {
	// Code returns an authority code such as "EPSG:3857", or "" if the
	// system has none.
	Code() string
	// Project converts (lng, lat) into the system's planar coordinates.
	Project(ll orb.Point) orb.Point
}

type epsg3857 struct{}

func (epsg3857) Code() string { return "EPSG:3857" }

func (epsg3857) Project(ll orb.Point) orb.Point {
	return project.WGS84.ToMercator(ll)
}

type epsg4326 struct{}

func (epsg4326) Code() string { return "EPSG:4326" }

func (epsg4326) Project(ll orb.Point) orb.Point { return ll }

var (
	// EPSG3857 is spherical web mercator.
	EPSG3857 CRS = epsg3857{}
	// EPSG4326 is plain longitude/latitude.
	EPSG4326 CRS = epsg4326{}
)

// LookupCRS returns the CRS for an authority code, defaulting to EPSG3857.
func LookupCRS(code string) CRS {
	switch strings.ToUpper(code) {
	case "EPSG:4326", "4326":
		return EPSG4326
	}
	return EPSG3857
}

// SpatialReference extracts the numeric part of an authority code
// ("EPSG:3857" → "3857"). It returns "" when the code has no such part.
func SpatialReference(c CRS) string {
	if c == nil {
		return ""
	}
	_, sr, ok := strings.Cut(c.Code(), ":")
	if !ok {
		return ""
	}
	return sr
}
