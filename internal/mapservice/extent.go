package mapservice

import (
	"math"

	"github.com/paulmach/orb"
)

// WGS84 is the well-known id of geographic lng/lat coordinates.
const WGS84 = 4326

// SpatialReference identifies a coordinate system by well-known id.
type SpatialReference struct {
	WKID int `json:"wkid"`
}

// Extent is a map service envelope.
type Extent struct {
	XMin             float64          `json:"xmin"`
	YMin             float64          `json:"ymin"`
	XMax             float64          `json:"xmax"`
	YMax             float64          `json:"ymax"`
	SpatialReference SpatialReference `json:"spatialReference"`
}

// Envelope is an origin plus extent.
type Envelope struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// BoundsToExtent converts geographic bounds into a WGS84 extent.
func BoundsToExtent(b orb.Bound) Extent {
	return Extent{
		XMin:             b.Min[0],
		YMin:             b.Min[1],
		XMax:             b.Max[0],
		YMax:             b.Max[1],
		SpatialReference: SpatialReference{WKID: WGS84},
	}
}

// ExtentToBounds converts an extent back into bounds.
func ExtentToBounds(e Extent) orb.Bound {
	return orb.Bound{
		Min: orb.Point{e.XMin, e.YMin},
		Max: orb.Point{e.XMax, e.YMax},
	}
}

// BoundsToEnvelope returns the south-west origin and size of b.
func BoundsToEnvelope(b orb.Bound) Envelope {
	e := BoundsToExtent(b)
	return Envelope{
		X: e.XMin,
		Y: e.YMin,
		W: math.Abs(e.XMax - e.XMin),
		H: math.Abs(e.YMax - e.YMin),
	}
}
