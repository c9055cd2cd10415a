// Package geocell buckets coordinates into fixed-precision string
// keys by interleaved binary subdivision of the lat/lon ranges.
// Cells sharing a long prefix are close, with boundary effects near
// cell edges; callers searching around a point must always take the
// center cell plus its 8 neighbors, never a single cell.
package geocell

import (
	"fmt"
	"math"
	"strings"
)

const alphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

const (
	MinPrecision = 1
	MaxPrecision = 12

	// DefaultPickupPrecision is the key length used for pickup
	// search when no radius-derived precision applies.
	DefaultPickupPrecision = 7
)

var decodeMap [256]int8

func init() {
	for i := range decodeMap {
		decodeMap[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		decodeMap[alphabet[i]] = int8(i)
	}
}

// DecodeError reports the first invalid character in a malformed key.
type DecodeError struct {
	Key  string
	Char byte
	Pos  int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("geocell: invalid character %q at position %d in key %q", e.Char, e.Pos, e.Key)
}

// Box is the bounding region a cell decodes to. Decoded coordinates
// are a region, not a point.
type Box struct {
	Lat    float64 // center latitude
	Lon    float64 // center longitude
	LatErr float64 // half the cell height in degrees
	LonErr float64 // half the cell width in degrees
}

// Contains reports whether the point lies inside the box.
func (b Box) Contains(lat, lon float64) bool {
	return lat >= b.Lat-b.LatErr && lat <= b.Lat+b.LatErr &&
		lon >= b.Lon-b.LonErr && lon <= b.Lon+b.LonErr
}

// Encode produces the cell key for a coordinate at the given
// precision (key length). Even bit positions consume longitude,
// odd positions latitude.
func Encode(lat, lon float64, precision int) (string, error) {
	if lat < -90 || lat > 90 || math.IsNaN(lat) {
		return "", fmt.Errorf("geocell: latitude %v out of range", lat)
	}
	if lon < -180 || lon > 180 || math.IsNaN(lon) {
		return "", fmt.Errorf("geocell: longitude %v out of range", lon)
	}
	if precision < MinPrecision || precision > MaxPrecision {
		return "", fmt.Errorf("geocell: precision %d out of range [%d,%d]", precision, MinPrecision, MaxPrecision)
	}

	latLo, latHi := -90.0, 90.0
	lonLo, lonHi := -180.0, 180.0
	var sb strings.Builder
	sb.Grow(precision)

	idx := 0
	bit := 0
	evenBit := true
	for sb.Len() < precision {
		if evenBit {
			mid := (lonLo + lonHi) / 2
			if lon >= mid {
				idx = idx<<1 | 1
				lonLo = mid
			} else {
				idx <<= 1
				lonHi = mid
			}
		} else {
			mid := (latLo + latHi) / 2
			if lat >= mid {
				idx = idx<<1 | 1
				latLo = mid
			} else {
				idx <<= 1
				latHi = mid
			}
		}
		evenBit = !evenBit
		bit++
		if bit == 5 {
			sb.WriteByte(alphabet[idx])
			bit, idx = 0, 0
		}
	}
	return sb.String(), nil
}

// Decode returns the bounding box for a cell key. A malformed key
// yields a *DecodeError naming the offending character.
func Decode(cell string) (Box, error) {
	if cell == "" {
		return Box{}, &DecodeError{Key: cell}
	}
	if len(cell) > MaxPrecision {
		return Box{}, fmt.Errorf("geocell: key %q longer than max precision %d", cell, MaxPrecision)
	}

	latLo, latHi := -90.0, 90.0
	lonLo, lonHi := -180.0, 180.0
	evenBit := true
	for i := 0; i < len(cell); i++ {
		v := decodeMap[cell[i]]
		if v < 0 {
			return Box{}, &DecodeError{Key: cell, Char: cell[i], Pos: i}
		}
		for b := 4; b >= 0; b-- {
			set := (v>>uint(b))&1 == 1
			if evenBit {
				mid := (lonLo + lonHi) / 2
				if set {
					lonLo = mid
				} else {
					lonHi = mid
				}
			} else {
				mid := (latLo + latHi) / 2
				if set {
					latLo = mid
				} else {
					latHi = mid
				}
			}
			evenBit = !evenBit
		}
	}
	return Box{
		Lat:    (latLo + latHi) / 2,
		Lon:    (lonLo + lonHi) / 2,
		LatErr: (latHi - latLo) / 2,
		LonErr: (lonHi - lonLo) / 2,
	}, nil
}

// Neighbors returns the 8 cells adjacent to the given cell, clockwise
// from north. At the poles the out-of-range rows collapse onto the
// clamped latitude, so fewer than 8 distinct cells may come back.
func Neighbors(cell string) ([]string, error) {
	box, err := Decode(cell)
	if err != nil {
		return nil, err
	}
	dLat := box.LatErr * 2
	dLon := box.LonErr * 2

	offsets := [8][2]float64{
		{dLat, 0}, {dLat, dLon}, {0, dLon}, {-dLat, dLon},
		{-dLat, 0}, {-dLat, -dLon}, {0, -dLon}, {dLat, -dLon},
	}
	out := make([]string, 0, 8)
	seen := map[string]struct{}{cell: {}}
	for _, off := range offsets {
		lat := clampLat(box.Lat + off[0])
		lon := wrapLon(box.Lon + off[1])
		n, err := Encode(lat, lon, len(cell))
		if err != nil {
			return nil, err
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}

// PrecisionForRadius picks the finest precision whose cell is still
// at least radiusKm wide in both dimensions, so that the center cell
// plus its neighbor ring covers the full search disc.
func PrecisionForRadius(radiusKm float64) int {
	if radiusKm <= 0 {
		return MaxPrecision
	}
	for p := MaxPrecision; p > MinPrecision; p-- {
		h, w := cellDimsKm(p)
		if h >= radiusKm && w >= radiusKm {
			return p
		}
	}
	return MinPrecision
}

// Cover returns the candidate cells for a radius search around a
// center: the center cell and its 8 neighbors. precision <= 0 derives
// the precision from the radius.
func Cover(lat, lon, radiusKm float64, precision int) ([]string, error) {
	if precision <= 0 {
		precision = PrecisionForRadius(radiusKm)
	}
	center, err := Encode(lat, lon, precision)
	if err != nil {
		return nil, err
	}
	nbs, err := Neighbors(center)
	if err != nil {
		return nil, err
	}
	return append([]string{center}, nbs...), nil
}

// cellDimsKm returns the cell height and equatorial width in km for
// a precision. Longitude width shrinks away from the equator, which
// only makes the neighbor cover wider relative to the radius.
func cellDimsKm(precision int) (heightKm, widthKm float64) {
	const kmPerDeg = 111.32
	bits := 5 * precision
	lonBits := (bits + 1) / 2
	latBits := bits / 2
	heightKm = 180.0 / math.Pow(2, float64(latBits)) * kmPerDeg
	widthKm = 360.0 / math.Pow(2, float64(lonBits)) * kmPerDeg
	return heightKm, widthKm
}

func clampLat(lat float64) float64 {
	// stay strictly inside the poles so re-encoding is valid
	return math.Max(-89.999999, math.Min(89.999999, lat))
}

func wrapLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

// HaversineKm is the great-circle distance between two points.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
