package geom

import (
	"math"
	"testing"

	"github.com/banshee-data/detection.pipeline/internal/testutil"
)

func TestBBoxCornersAxisAligned(t *testing.T) {
	corners := BBoxCorners([][7]float64{{0, 0, 0, 2, 4, 6, 0}})
	want := [8][3]float64{
		{1, 2, 3},
		{-1, 2, 3},
		{-1, -2, 3},
		{1, -2, 3},
		{1, 2, -3},
		{-1, 2, -3},
		{-1, -2, -3},
		{1, -2, -3},
	}
	for i := range want {
		testutil.AssertNearSlice(t, corners[0][i][:], want[i][:], tol)
	}
}

func TestBBoxCornersRotatedAndTranslated(t *testing.T) {
	corners := BBoxCorners([][7]float64{{10, 20, 5, 2, 4, 6, math.Pi / 2}})
	// The (+x, +y) template corner (1, 2, 3) rotates to (-2, 1, 3) and then
	// translates to the center.
	testutil.AssertNearSlice(t, corners[0][0][:], []float64{8, 21, 8}, tol)
}

func TestIsWithinBBox(t *testing.T) {
	// Unit square, corners in counter-clockwise order.
	box := [4][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	points := [][2]float64{
		{0.5, 0.5}, // interior
		{0, 0.5},   // on an edge
		{0, 0},     // on a corner
		{1.5, 0.5}, // outside
		{-0.1, 0},  // just outside
	}
	got := IsWithinBBox(points, [][4][2]float64{box})
	want := []bool{true, true, true, false, false}
	for i := range want {
		if got[i][0] != want[i] {
			t.Errorf("point %v inside = %v, want %v", points[i], got[i][0], want[i])
		}
	}
}

func TestIsWithinBBoxClockwisePanics(t *testing.T) {
	cw := [4][2]float64{{0, 0}, {0, 1}, {1, 1}, {1, 0}}
	testutil.AssertPanics(t, func() {
		IsWithinBBox([][2]float64{{0.5, 0.5}}, [][4][2]float64{cw})
	})
}

func TestIsWithinBBoxDegenerateBoxAllowed(t *testing.T) {
	// All-zero corners are degenerate, not clockwise: padded boxes must not
	// panic. Every edge test is vacuously on-or-left for a zero box, so it
	// reports containment for any point; callers mask padded boxes out.
	zero := [4][2]float64{}
	got := IsWithinBBox([][2]float64{{0, 0}, {1, 1}}, [][4][2]float64{zero})
	if !got[0][0] || !got[1][0] {
		t.Errorf("degenerate zero box containment = %v %v, want vacuous true", got[0][0], got[1][0])
	}
}

func TestIsWithinBBox3D(t *testing.T) {
	boxes := [][7]float64{
		{0, 0, 0, 2, 2, 2, 0},
		{0, 0, 0, 2, 2, 2, math.Pi / 4},
	}
	points := [][3]float64{
		{0, 0, 0},     // center: inside both
		{0, 0, 1},     // on the top face: inside both
		{0, 0, 1.1},   // above both
		{1.2, 0, 0},   // outside axis-aligned, inside the rotated box
		{0.9, 0.9, 0}, // inside axis-aligned, outside the rotated box
	}
	got := IsWithinBBox3D(points, boxes)
	want := [][]bool{
		{true, true},
		{true, true},
		{false, false},
		{false, true},
		{true, false},
	}
	for pi := range want {
		for bi := range want[pi] {
			if got[pi][bi] != want[pi][bi] {
				t.Errorf("point %v box %d inside = %v, want %v",
					points[pi], bi, got[pi][bi], want[pi][bi])
			}
		}
	}
}

func TestTransform4x4Invert(t *testing.T) {
	translate := Transform4x4{
		1, 0, 0, 5,
		0, 1, 0, -2,
		0, 0, 1, 3,
		0, 0, 0, 1,
	}
	inv, err := translate.Invert()
	testutil.AssertNoError(t, err)
	testutil.AssertNear(t, inv[3], -5, tol)
	testutil.AssertNear(t, inv[7], 2, tol)
	testutil.AssertNear(t, inv[11], -3, tol)
}

func TestTransform4x4InvertSingular(t *testing.T) {
	var zero Transform4x4
	if _, err := zero.Invert(); err == nil {
		t.Error("expected error inverting the zero transform")
	}
}

func TestRangeImageToCartesianNoPoses(t *testing.T) {
	pts := [][3]float64{{1, 2, 3}}
	out, err := RangeImageToCartesian(pts, nil, nil)
	testutil.AssertNoError(t, err)
	testutil.AssertNearSlice(t, out[0][:], pts[0][:], tol)
}

func TestRangeImageToCartesianComposition(t *testing.T) {
	// Pixel pose moves the point +1 in x (into the world frame); the inverse
	// frame pose then moves it -3 in x (world to vehicle). Order matters.
	pixel := Transform4x4{
		1, 0, 0, 1,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
	frame := Transform4x4{
		1, 0, 0, 3,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
	out, err := RangeImageToCartesian([][3]float64{{0, 0, 0}}, []Transform4x4{pixel}, &frame)
	testutil.AssertNoError(t, err)
	testutil.AssertNearSlice(t, out[0][:], []float64{-2, 0, 0}, tol)
}

func TestRangeImageToCartesianErrors(t *testing.T) {
	pixel := Transform4x4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
	// Pixel poses without a frame pose.
	_, err := RangeImageToCartesian([][3]float64{{0, 0, 0}}, []Transform4x4{pixel}, nil)
	testutil.AssertError(t, err)

	// Pose count disagrees with point count.
	frame := pixel
	_, err = RangeImageToCartesian([][3]float64{{0, 0, 0}, {1, 1, 1}}, []Transform4x4{pixel}, &frame)
	testutil.AssertError(t, err)
}
