package rdnap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ErrOutsideGrid is returned when a position lies outside a geoid grid.
var ErrOutsideGrid = errors.New("rdnap: position outside the geoid grid")

// Geoid gives the height of the quasi-geoid (the NAP zero surface) above the
// WGS84 ellipsoid.
type Geoid interface {
	// Height returns the geoid height in metres at the given latitude and
	// longitude in decimal degrees.
	Height(lat, lon float64) (float64, error)
}

// PlaneGeoid approximates the geoid by a plane.  Over the Netherlands the
// default values are good to a few decimetres.  For anything better use a
// grid.
type PlaneGeoid struct {
	// N0 is the geoid height at (Lat0, Lon0).
	N0   float64 `json:"n0" yaml:"n0"`
	Lat0 float64 `json:"lat0" yaml:"lat0"`
	Lon0 float64 `json:"lon0" yaml:"lon0"`
	// DNDLat and DNDLon are the slopes in metres per degree.
	DNDLat float64 `json:"dn_dlat" yaml:"dn_dlat"`
	DNDLon float64 `json:"dn_dlon" yaml:"dn_dlon"`
}

// DefaultPlaneGeoid is a planar fit to the geoid over the Netherlands.
var DefaultPlaneGeoid = PlaneGeoid{
	N0:     43.35,
	Lat0:   OriginLat,
	Lon0:   OriginLon,
	DNDLat: -1.62,
	DNDLon: -0.29,
}

// Height returns the geoid height.  It never fails.
func (g PlaneGeoid) Height(lat, lon float64) (float64, error) {
	return g.N0 + g.DNDLat*(lat-g.Lat0) + g.DNDLon*(lon-g.Lon0), nil
}

// GeoidGrid is a regular grid of geoid heights, interpolated bilinearly.
type GeoidGrid struct {
	// lat0 and lon0 give the south west corner.
	lat0, lon0 float64
	dLat, dLon float64
	nLat, nLon int
	// heights is row major, south to north then west to east.
	heights []float64
}

// LoadGeoidGrid reads a grid from a file.  See ParseGeoidGrid.
func LoadGeoidGrid(path string) (*GeoidGrid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rdnap: opening geoid grid: %w", err)
	}
	defer f.Close()
	grid, err := ParseGeoidGrid(f)
	if err != nil {
		return nil, fmt.Errorf("rdnap: %s: %w", path, err)
	}
	return grid, nil
}

// ParseGeoidGrid reads a grid in the text form used for the Dutch
// quasi-geoid models: one node per line giving latitude, longitude and
// geoid height, separated by white space.  Any further columns are ignored,
// as are blank lines and lines starting with '#'.  The nodes may come in any
// order but must form a complete regular grid.
func ParseGeoidGrid(r io.Reader) (*GeoidGrid, error) {
	type node struct{ lat, lon, n float64 }
	nodes := make([]node, 0)
	lats := make(map[float64]bool)
	lons := make(map[float64]bool)

	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: want latitude, longitude and height", lineNumber)
		}
		var values [3]float64
		for i := range values {
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNumber, err)
			}
			values[i] = v
		}
		nodes = append(nodes, node{values[0], values[1], values[2]})
		lats[values[0]] = true
		lons[values[1]] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	latList := sortedKeys(lats)
	lonList := sortedKeys(lons)
	if len(latList) < 2 || len(lonList) < 2 {
		return nil, errors.New("a geoid grid needs at least two rows and two columns")
	}
	if len(nodes) != len(latList)*len(lonList) {
		return nil, fmt.Errorf("%d nodes do not fill a %d by %d grid",
			len(nodes), len(latList), len(lonList))
	}

	grid := GeoidGrid{
		lat0:    latList[0],
		lon0:    lonList[0],
		dLat:    (latList[len(latList)-1] - latList[0]) / float64(len(latList)-1),
		dLon:    (lonList[len(lonList)-1] - lonList[0]) / float64(len(lonList)-1),
		nLat:    len(latList),
		nLon:    len(lonList),
		heights: make([]float64, len(nodes)),
	}

	filled := make([]bool, len(nodes))
	for _, n := range nodes {
		fi := (n.lat - grid.lat0) / grid.dLat
		fj := (n.lon - grid.lon0) / grid.dLon
		i := int(math.Round(fi))
		j := int(math.Round(fj))
		if math.Abs(fi-float64(i)) > 1e-6 || math.Abs(fj-float64(j)) > 1e-6 {
			return nil, fmt.Errorf("node (%g, %g) is not on a regular grid", n.lat, n.lon)
		}
		k := i*grid.nLon + j
		if filled[k] {
			return nil, fmt.Errorf("node (%g, %g) appears twice", n.lat, n.lon)
		}
		filled[k] = true
		grid.heights[k] = n.n
	}

	return &grid, nil
}

func sortedKeys(m map[float64]bool) []float64 {
	result := make([]float64, 0, len(m))
	for k := range m {
		result = append(result, k)
	}
	sort.Float64s(result)
	return result
}

// Height returns the geoid height interpolated from the four surrounding
// nodes.
func (g *GeoidGrid) Height(lat, lon float64) (float64, error) {
	fi := (lat - g.lat0) / g.dLat
	fj := (lon - g.lon0) / g.dLon
	if fi < 0 || fj < 0 || fi > float64(g.nLat-1) || fj > float64(g.nLon-1) {
		return 0, ErrOutsideGrid
	}

	i := int(math.Min(math.Floor(fi), float64(g.nLat-2)))
	j := int(math.Min(math.Floor(fj), float64(g.nLon-2)))
	u := fi - float64(i)
	v := fj - float64(j)

	n00 := g.heights[i*g.nLon+j]
	n01 := g.heights[i*g.nLon+j+1]
	n10 := g.heights[(i+1)*g.nLon+j]
	n11 := g.heights[(i+1)*g.nLon+j+1]

	return (1-u)*(1-v)*n00 + (1-u)*v*n01 + u*(1-v)*n10 + u*v*n11, nil
}
