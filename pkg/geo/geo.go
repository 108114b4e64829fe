// Package geo provides WGS84 coordinates and the grid quantization used to
// group nearby positions under one cache key.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidCoordinate is returned when a latitude or longitude is out of range.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// DefaultResolution is the default grid cell size in degrees (~1.1km at the equator).
const DefaultResolution = 0.01

// Coordinate represents a geographic point with latitude and longitude in degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

// NewCoordinate returns a validated coordinate.
func NewCoordinate(lat, lon float64) (Coordinate, error) {
	c := Coordinate{Lat: lat, Lon: lon}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// Validate checks that the coordinate lies within -90..90 / -180..180.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lon) {
		return fmt.Errorf("%w: NaN component", ErrInvalidCoordinate)
	}
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %.6f outside -90..90", ErrInvalidCoordinate, c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("%w: longitude %.6f outside -180..180", ErrInvalidCoordinate, c.Lon)
	}
	return nil
}

// String formats the coordinate with six decimals (~0.1m).
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Cell is a quantized coordinate. Points in the same cell share cached data.
type Cell struct {
	Lat int64
	Lon int64
}

// String returns a stable textual form, e.g. "3756:12697".
func (c Cell) String() string {
	return fmt.Sprintf("%d:%d", c.Lat, c.Lon)
}

// Grid quantizes coordinates into cells of Resolution degrees.
type Grid struct {
	Resolution float64
}

// NewGrid creates a grid. A non-positive resolution falls back to DefaultResolution.
func NewGrid(resolution float64) Grid {
	if resolution <= 0 || math.IsNaN(resolution) {
		resolution = DefaultResolution
	}
	return Grid{Resolution: resolution}
}

// Cell returns the grid cell containing c.
// The mapping is floor(degrees / resolution), so it is deterministic for a
// given input and resolution.
func (g Grid) Cell(c Coordinate) Cell {
	res := g.Resolution
	if res <= 0 {
		res = DefaultResolution
	}
	return Cell{
		Lat: int64(math.Floor(c.Lat / res)),
		Lon: int64(math.Floor(c.Lon / res)),
	}
}

// Center returns the center point of a cell.
func (g Grid) Center(cell Cell) Coordinate {
	res := g.Resolution
	if res <= 0 {
		res = DefaultResolution
	}
	return Coordinate{
		Lat: (float64(cell.Lat) + 0.5) * res,
		Lon: (float64(cell.Lon) + 0.5) * res,
	}
}
