package geocell

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTripContainsPoint(t *testing.T) {
	pts := [][2]float64{
		{12.90, 77.60},
		{-33.8688, 151.2093},
		{51.5074, -0.1278},
		{0, 0},
	}
	for _, pt := range pts {
		for p := 1; p <= MaxPrecision; p++ {
			cell, err := Encode(pt[0], pt[1], p)
			if err != nil {
				t.Fatalf("encode(%v, p=%d): %v", pt, p, err)
			}
			if len(cell) != p {
				t.Fatalf("expected key length %d, got %q", p, cell)
			}
			box, err := Decode(cell)
			if err != nil {
				t.Fatalf("decode(%q): %v", cell, err)
			}
			if !box.Contains(pt[0], pt[1]) {
				t.Fatalf("box %+v does not contain %v at p=%d", box, pt, p)
			}
		}
	}
}

func TestDecodeErrorShrinksWithPrecision(t *testing.T) {
	lat, lon := 12.90, 77.60
	prevLat, prevLon := 181.0, 361.0
	for p := 1; p <= MaxPrecision; p++ {
		cell, _ := Encode(lat, lon, p)
		box, err := Decode(cell)
		if err != nil {
			t.Fatal(err)
		}
		if box.LatErr >= prevLat || box.LonErr > prevLon {
			t.Fatalf("error did not shrink at p=%d: lat %v->%v lon %v->%v", p, prevLat, box.LatErr, prevLon, box.LonErr)
		}
		prevLat, prevLon = box.LatErr, box.LonErr
	}
}

func TestDecodeInvalidCharacter(t *testing.T) {
	_, err := Decode("tdr1a") // 'a' is not in the alphabet
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if de.Char != 'a' || de.Pos != 4 {
		t.Fatalf("expected char 'a' at pos 4, got %q at %d", de.Char, de.Pos)
	}
	if !strings.Contains(de.Error(), "'a'") {
		t.Fatalf("error should name the invalid character: %s", de.Error())
	}
}

func TestDecodeEmpty(t *testing.T) {
	if _, err := Decode(""); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestEncodeRejectsOutOfRange(t *testing.T) {
	if _, err := Encode(91, 0, 7); err == nil {
		t.Fatal("expected latitude error")
	}
	if _, err := Encode(0, 181, 7); err == nil {
		t.Fatal("expected longitude error")
	}
	if _, err := Encode(0, 0, 0); err == nil {
		t.Fatal("expected precision error")
	}
}

func TestNeighborsAdjacent(t *testing.T) {
	cell, _ := Encode(12.90, 77.60, 6)
	nbs, err := Neighbors(cell)
	if err != nil {
		t.Fatal(err)
	}
	if len(nbs) != 8 {
		t.Fatalf("expected 8 neighbors away from poles, got %d", len(nbs))
	}
	box, _ := Decode(cell)
	for _, n := range nbs {
		if n == cell {
			t.Fatal("neighbor equals center")
		}
		nb, err := Decode(n)
		if err != nil {
			t.Fatalf("decode neighbor %q: %v", n, err)
		}
		// centers of adjacent cells are at most one cell apart
		if dLat := abs(nb.Lat - box.Lat); dLat > 2*box.LatErr+1e-9 {
			t.Fatalf("neighbor %q too far in lat: %v", n, dLat)
		}
	}
}

func TestPrecisionForRadiusCoversRadius(t *testing.T) {
	for _, radius := range []float64{0.5, 1, 5, 10, 50} {
		p := PrecisionForRadius(radius)
		h, w := cellDimsKm(p)
		if h < radius || w < radius {
			t.Fatalf("radius %v km: precision %d cell %vx%v km does not cover", radius, p, h, w)
		}
		if p < MaxPrecision {
			fh, fw := cellDimsKm(p + 1)
			if fh >= radius && fw >= radius {
				t.Fatalf("radius %v km: a finer precision %d would still cover", radius, p+1)
			}
		}
	}
}

func TestPrecisionForRadiusShrinksWithRadius(t *testing.T) {
	if PrecisionForRadius(0.1) <= PrecisionForRadius(100) {
		t.Fatal("smaller radius should map to finer precision")
	}
}

func TestCoverIncludesCenterCell(t *testing.T) {
	cells, err := Cover(12.90, 77.60, 5.0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(cells) != 9 {
		t.Fatalf("expected 9 cells, got %d", len(cells))
	}
	p := PrecisionForRadius(5.0)
	center, _ := Encode(12.90, 77.60, p)
	if cells[0] != center {
		t.Fatalf("first cell should be the center, got %q want %q", cells[0], center)
	}
}

func TestSharedPrefixMeansClose(t *testing.T) {
	a, _ := Encode(12.9000, 77.6000, 8)
	b, _ := Encode(12.9001, 77.6001, 8)
	c, _ := Encode(-33.8688, 151.2093, 8)
	if !strings.HasPrefix(b, a[:5]) {
		t.Fatalf("nearby points should share a prefix: %q vs %q", a, b)
	}
	if strings.HasPrefix(c, a[:2]) {
		t.Fatalf("distant points should not share a long prefix: %q vs %q", a, c)
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Bangalore MG Road to Whitefield, roughly 13-15 km
	d := HaversineKm(12.9758, 77.6096, 12.9698, 77.7500)
	if d < 13 || d > 17 {
		t.Fatalf("unexpected distance %v km", d)
	}
	if HaversineKm(1, 2, 1, 2) != 0 {
		t.Fatal("distance to self should be 0")
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
