// The rdnap package converts WGS84 positions to the Dutch national grid
// (Rijksdriehoeksmeting, RD) with heights above Normaal Amsterdams Peil
// (NAP), and back.
//
// The horizontal part is EPSG:28992 (Amersfoort / RD New) from the wgs84
// package: a seven parameter Helmert transformation onto the Bessel 1841
// ellipsoid followed by the oblique stereographic projection.  The NAP
// height is the WGS84 ellipsoidal height less the height of the geoid,
// which comes from a grid file or a planar fit.
//
// The result agrees with the official transformation to better than a
// metre horizontally.  The two directions agree with each other to well
// under a centimetre.
package rdnap

import (
	"errors"
	"fmt"
	"math"

	"github.com/wroge/wgs84"
)

// EPSG codes of the two coordinate systems.
const (
	EPSGWGS84 = 4326
	EPSGRDNew = 28992
)

// OriginLon and OriginLat give the origin of RD, the tower of the Onze
// Lieve Vrouwe church in Amersfoort.
const (
	OriginLon = 5.38720621
	OriginLat = 52.15517440
)

// originX and originY are the RD coordinates of the origin.
const (
	originX = 155000.0
	originY = 463000.0
)

// Point is a position in RD/NAP.
type Point struct {
	// X (easting) and Y (northing) are RD coordinates in metres.
	X float64 `json:"x" db:"x"`
	Y float64 `json:"y" db:"y"`
	// Z is the height above NAP in metres.
	Z float64 `json:"z" db:"z"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", p.X, p.Y, p.Z)
}

// Params configures a Transformer.
type Params struct {
	// Geoid supplies geoid heights.  If GeoidGridFile is set, the grid is
	// loaded from there and Geoid is ignored.
	Geoid         Geoid
	GeoidGridFile string
}

// DefaultParams returns the parameters for RD/NAP with the planar geoid.
func DefaultParams() Params {
	return Params{Geoid: DefaultPlaneGeoid}
}

// transform is a coordinate transformation as the wgs84 package gives it.
type transform func(a, b, c float64) (float64, float64, float64)

// Transformer converts between WGS84 and RD/NAP.  It's immutable once
// created and safe for concurrent use.
type Transformer struct {
	toRD   transform
	fromRD transform
	geoid  Geoid
}

// New creates a Transformer.  It fails if the geoid grid can't be loaded.
func New(p Params) (*Transformer, error) {
	geoid := p.Geoid
	if len(p.GeoidGridFile) > 0 {
		grid, err := LoadGeoidGrid(p.GeoidGridFile)
		if err != nil {
			return nil, err
		}
		geoid = grid
	}
	if geoid == nil {
		return nil, errors.New("rdnap: no geoid")
	}

	epsg := wgs84.EPSG()
	t := Transformer{
		toRD:   transform(wgs84.Transform(epsg.Code(EPSGWGS84), epsg.Code(EPSGRDNew))),
		fromRD: transform(wgs84.Transform(epsg.Code(EPSGRDNew), epsg.Code(EPSGWGS84))),
		geoid:  geoid,
	}

	// The origin must come out where it's defined to be.
	x, y, _ := t.toRD(OriginLon, OriginLat, 0)
	if math.IsNaN(x) || math.Abs(x-originX) > 2 || math.Abs(y-originY) > 2 {
		return nil, fmt.Errorf("rdnap: EPSG:%d puts the origin at (%.3f, %.3f)", EPSGRDNew, x, y)
	}

	return &t, nil
}

// ToLocal converts a WGS84 position (decimal degrees and metres above the
// ellipsoid) to RD/NAP.
func (t *Transformer) ToLocal(lon, lat, h float64) (Point, error) {
	n, err := t.geoid.Height(lat, lon)
	if err != nil {
		return Point{}, err
	}
	x, y, _ := t.toRD(lon, lat, 0)
	return Point{X: x, Y: y, Z: h - n}, nil
}

// ToGeodetic converts an RD/NAP position back to WGS84 longitude, latitude
// (decimal degrees) and ellipsoidal height.
func (t *Transformer) ToGeodetic(p Point) (lon, lat, h float64, err error) {
	lon, lat, _ = t.fromRD(p.X, p.Y, 0)
	n, err := t.geoid.Height(lat, lon)
	if err != nil {
		return 0, 0, 0, err
	}
	return lon, lat, p.Z + n, nil
}
