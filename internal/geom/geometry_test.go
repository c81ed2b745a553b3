package geom

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/detection.pipeline/internal/testutil"
)

const tol = 1e-9

func TestCoordinateTransformIdentity(t *testing.T) {
	pts := [][3]float64{{1, 2, 3}, {-4, 0, 2.5}}
	out := CoordinateTransform(pts, Pose{})
	for i := range pts {
		testutil.AssertNearSlice(t, out[i][:], pts[i][:], tol)
	}
}

func TestCoordinateTransformTranslationOnly(t *testing.T) {
	pts := [][3]float64{{1, 1, 1}}
	out := CoordinateTransform(pts, Pose{Tx: 10, Ty: -2, Tz: 0.5})
	testutil.AssertNearSlice(t, out[0][:], []float64{11, -1, 1.5}, tol)
}

func TestCoordinateTransformYaw(t *testing.T) {
	// Right-multiplying a row vector by Rz(pi/2) maps +x to -y.
	pts := [][3]float64{{1, 0, 0}, {0, 1, 0}}
	out := CoordinateTransform(pts, Pose{Yaw: math.Pi / 2})
	testutil.AssertNearSlice(t, out[0][:], []float64{0, -1, 0}, tol)
	testutil.AssertNearSlice(t, out[1][:], []float64{1, 0, 0}, tol)
}

func TestCoordinateTransformComposition(t *testing.T) {
	// Translation applies before rotation: (p + t) @ R.
	pts := [][3]float64{{0, 0, 0}}
	out := CoordinateTransform(pts, Pose{Tx: 1, Yaw: math.Pi / 2})
	testutil.AssertNearSlice(t, out[0][:], []float64{0, -1, 0}, tol)
}

func TestXYWHToBBoxes(t *testing.T) {
	out := XYWHToBBoxes([][4]float64{{1, 2, 4, 6}})
	// (cx=1, cy=2, w=4, h=6) -> (ymin=-1, xmin=-1, ymax=5, xmax=3)
	testutil.AssertNearSlice(t, out[0][:], []float64{-1, -1, 5, 3}, tol)
}

func TestBBoxesToXYWH(t *testing.T) {
	out := BBoxesToXYWH([][4]float64{{-1, -1, 5, 3}})
	testutil.AssertNearSlice(t, out[0][:], []float64{1, 2, 4, 6}, tol)
}

func TestXYWHBBoxesRoundTrip(t *testing.T) {
	boxes := [][4]float64{
		{0, 0, 1, 1},
		{-3.5, 7.25, 2, 0.5},
		{100, -100, 40, 60},
	}
	back := BBoxesToXYWH(XYWHToBBoxes(boxes))
	for i := range boxes {
		testutil.AssertNearSlice(t, back[i][:], boxes[i][:], tol)
	}
}

func TestBBoxesCentroid(t *testing.T) {
	out := BBoxesCentroid([][4]float64{{-1, -1, 5, 3}, {0, 0, 2, 4}})
	testutil.AssertNearSlice(t, out[0][:], []float64{1, 2}, tol)
	testutil.AssertNearSlice(t, out[1][:], []float64{2, 1}, tol)
}

func TestEmptyBoxSlices(t *testing.T) {
	if got := XYWHToBBoxes(nil); len(got) != 0 {
		t.Errorf("XYWHToBBoxes(nil) = %v, want empty", got)
	}
	if got := BBoxesCentroid(nil); len(got) != 0 {
		t.Errorf("BBoxesCentroid(nil) = %v, want empty", got)
	}
	if got := ReorderIndicesByPhi([2]float64{1, 0}, nil); len(got) != 0 {
		t.Errorf("ReorderIndicesByPhi(nil) = %v, want empty", got)
	}
}

func TestPointsToImagePlane(t *testing.T) {
	// A bare projection matrix performs only the perspective divide.
	cam := mat.NewDense(3, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	})
	out, err := PointsToImagePlane([][3]float64{{2, 4, 2}, {3, -6, 3}}, cam)
	testutil.AssertNoError(t, err)
	testutil.AssertNearSlice(t, out[0][:], []float64{1, 2}, tol)
	testutil.AssertNearSlice(t, out[1][:], []float64{1, -2}, tol)
}

func TestPointsToImagePlaneBadMatrix(t *testing.T) {
	cam := mat.NewDense(4, 4, nil)
	_, err := PointsToImagePlane([][3]float64{{1, 1, 1}}, cam)
	testutil.AssertError(t, err)
}

func TestReorderIndicesByPhi(t *testing.T) {
	// Centroids at 45, -45 and -135 degrees around the +x anchor ray.
	// Clockwise-side centroids sort first by descending closeness, then the
	// counter-clockwise side.
	boxes := [][4]float64{
		{0.5, 0.5, 1.5, 1.5},   // centroid (1, 1), ccw side
		{-1.5, 0.5, -0.5, 1.5}, // centroid (1, -1), cw side near
		{-1.5, -1.5, -0.5, -0.5}, // centroid (-1, -1), cw side far
	}
	got := ReorderIndicesByPhi([2]float64{1, 0}, boxes)
	want := []int{1, 2, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestReorderIndicesByPhiZeroNorm(t *testing.T) {
	// A centroid at the origin must not produce NaN ordering.
	boxes := [][4]float64{
		{-0.5, -0.5, 0.5, 0.5}, // centroid (0, 0)
		{0.5, 0.5, 1.5, 1.5},   // centroid (1, 1)
	}
	got := ReorderIndicesByPhi([2]float64{1, 0}, boxes)
	if len(got) != 2 {
		t.Fatalf("got %d indices, want 2", len(got))
	}
	seen := map[int]bool{}
	for _, i := range got {
		seen[i] = true
	}
	if !seen[0] || !seen[1] {
		t.Errorf("result %v is not a permutation", got)
	}
}

func TestSmoothL1Norm(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{0.5, 0.125},
		{-0.5, 0.125},
		{1, 0.5},
		{2, 1.5},
		{-3, 2.5},
	}
	for _, tt := range tests {
		testutil.AssertNear(t, SmoothL1Norm(tt.in), tt.want, tol)
	}
}

func TestDistanceBetweenCentroids(t *testing.T) {
	u := [][4]float64{{1, 1, 2, 2}, {0, 0, 1, 1}}
	v := [][4]float64{{1, 1, 2, 2}, {0.5, 0, 1, 1}}
	masks := []float64{1, 1}
	out, err := DistanceBetweenCentroids(u, v, masks)
	testutil.AssertNoError(t, err)
	testutil.AssertNear(t, out[0], 0, tol)
	testutil.AssertNear(t, out[1], 0.125, tol)

	// Mask zeroes the contribution entirely.
	out, err = DistanceBetweenCentroids(u, v, []float64{0, 0})
	testutil.AssertNoError(t, err)
	testutil.AssertNear(t, out[1], 0, tol)

	_, err = DistanceBetweenCentroids(u, v, []float64{1})
	testutil.AssertError(t, err)
}

func TestDistanceFastAndFuriousExactMatch(t *testing.T) {
	// A centroid-form prediction equal to the ground truth scores zero.
	gtCorners := XYWHToBBoxes([][4]float64{{1, 2, 4, 6}})
	out, err := DistanceBetweenCentroidsAndBBoxesFastAndFurious(
		[][4]float64{{1, 2, 4, 6}}, gtCorners, []float64{1})
	testutil.AssertNoError(t, err)
	testutil.AssertNear(t, out[0], 0, tol)
}

func TestDistanceFastAndFuriousMasked(t *testing.T) {
	gtCorners := XYWHToBBoxes([][4]float64{{1, 2, 4, 6}})
	out, err := DistanceBetweenCentroidsAndBBoxesFastAndFurious(
		[][4]float64{{50, 50, 1, 1}}, gtCorners, []float64{0})
	testutil.AssertNoError(t, err)
	testutil.AssertNear(t, out[0], 0, tol)
}

func TestSphericalCoordinatesTransform(t *testing.T) {
	out := SphericalCoordinatesTransform([][3]float64{
		{1, 1, 1},
		{0, 0, 5},
		{0, 0, 0},
	})

	d := math.Sqrt(3)
	testutil.AssertNearSlice(t, out[0][:], []float64{d, math.Acos(1 / d), math.Pi / 4}, tol)
	testutil.AssertNearSlice(t, out[1][:], []float64{5, 0, 0}, tol)
	// The origin maps through the clamped denominator without NaN.
	testutil.AssertNearSlice(t, out[2][:], []float64{0, math.Pi / 2, 0}, tol)
}
