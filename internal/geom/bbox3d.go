package geom

import (
	"fmt"

	"math"

	"gonum.org/v1/gonum/mat"
)

// unitCubeCorners is the corner template in the normalized box frame (a unit
// cube centered at the origin). The ordering is a fixed contract: the first
// four corners are the top face in counter-clockwise order starting from
// (+x, +y), the last four are the bottom face in the same order. The 3D
// containment test depends on this ordering.
var unitCubeCorners = [8][3]float64{
	{0.5, 0.5, 0.5},
	{-0.5, 0.5, 0.5},
	{-0.5, -0.5, 0.5},
	{0.5, -0.5, 0.5},
	{0.5, 0.5, -0.5},
	{-0.5, 0.5, -0.5},
	{-0.5, -0.5, -0.5},
	{0.5, -0.5, -0.5},
}

// BBoxCorners expands each 7-DOF box (x, y, z, dx, dy, dz, phi) into its 8
// corner points: the template corners are scaled by the box dimensions,
// rotated about Z by the heading, and translated to the box center.
func BBoxCorners(bboxes [][7]float64) [][8][3]float64 {
	out := make([][8][3]float64, len(bboxes))
	for i, b := range bboxes {
		cx, cy, cz := b[0], b[1], b[2]
		dx, dy, dz := b[3], b[4], b[5]
		cos, sin := math.Cos(b[6]), math.Sin(b[6])
		for j, c := range unitCubeCorners {
			// Scale by dimensions.
			x := c[0] * dx
			y := c[1] * dy
			z := c[2] * dz
			// Rotate about Z by phi, then translate to center.
			out[i][j] = [3]float64{
				cos*x - sin*y + cx,
				sin*x + cos*y + cy,
				z + cz,
			}
		}
	}
	return out
}

// isCounterClockwise reports whether the path v1 -> v2 -> v3 turns
// counter-clockwise (or is degenerate, which counts as true so padded
// zero corners pass).
func isCounterClockwise(v1, v2, v3 [2]float64) bool {
	d1 := (v3[1] - v1[1]) * (v2[0] - v1[0])
	d2 := (v3[0] - v1[0]) * (v2[1] - v1[1])
	return d1-d2 >= 0
}

// isOnLeftHandSideOrOn reports whether the point lies on, or to the left of,
// the directed edge v1 -> v2.
func isOnLeftHandSideOrOn(p, v1, v2 [2]float64) bool {
	d1 := (p[1] - v1[1]) * (v2[0] - v1[0])
	d2 := (p[0] - v1[0]) * (v2[1] - v1[1])
	return d1-d2 >= 0
}

// IsWithinBBox tests points against convex quadrilaterals. Each box is given
// as its 4 corners in strict counter-clockwise order; a point exactly on an
// edge counts as inside. The function panics if any box's corners are not in
// counter-clockwise order — that is a caller bug, not a recoverable input.
// The result is indexed [point][box].
func IsWithinBBox(points [][2]float64, bboxes [][4][2]float64) [][]bool {
	for i, b := range bboxes {
		if !isCounterClockwise(b[0], b[1], b[2]) ||
			!isCounterClockwise(b[1], b[2], b[3]) ||
			!isCounterClockwise(b[2], b[3], b[0]) ||
			!isCounterClockwise(b[3], b[0], b[1]) {
			panic(fmt.Sprintf("geom: bbox %d corners are not in counter-clockwise order: %v", i, b))
		}
	}
	out := make([][]bool, len(points))
	for pi, p := range points {
		row := make([]bool, len(bboxes))
		for bi, b := range bboxes {
			row[bi] = isOnLeftHandSideOrOn(p, b[0], b[1]) &&
				isOnLeftHandSideOrOn(p, b[1], b[2]) &&
				isOnLeftHandSideOrOn(p, b[2], b[3]) &&
				isOnLeftHandSideOrOn(p, b[3], b[0])
		}
		out[pi] = row
	}
	return out
}

// IsWithinBBox3D tests 3D points against 7-DOF boxes. The test splits into a
// 2D polygon containment on the box's top face (projected to the xy plane)
// intersected with a z-interval containment. The result is indexed
// [point][box].
func IsWithinBBox3D(points [][3]float64, bboxes [][7]float64) [][]bool {
	corners := BBoxCorners(bboxes)

	// The top face corners are already counter-clockwise per the corner
	// template contract.
	faces := make([][4][2]float64, len(bboxes))
	for i, c := range corners {
		faces[i] = [4][2]float64{
			{c[0][0], c[0][1]},
			{c[1][0], c[1][1]},
			{c[2][0], c[2][1]},
			{c[3][0], c[3][1]},
		}
	}

	points2d := make([][2]float64, len(points))
	for i, p := range points {
		points2d[i] = [2]float64{p[0], p[1]}
	}
	inside2d := IsWithinBBox(points2d, faces)

	out := make([][]bool, len(points))
	for pi, p := range points {
		row := make([]bool, len(bboxes))
		for bi, b := range bboxes {
			z0 := b[2] - b[5]/2
			z1 := b[2] + b[5]/2
			row[bi] = inside2d[pi][bi] && p[2] >= z0 && p[2] <= z1
		}
		out[pi] = row
	}
	return out
}

// Transform4x4 is a homogeneous rigid transform in row-major order.
type Transform4x4 [16]float64

// apply transforms a point by the rotation and translation parts of t.
func (t Transform4x4) apply(p [3]float64) [3]float64 {
	return [3]float64{
		t[0]*p[0] + t[1]*p[1] + t[2]*p[2] + t[3],
		t[4]*p[0] + t[5]*p[1] + t[6]*p[2] + t[7],
		t[8]*p[0] + t[9]*p[1] + t[10]*p[2] + t[11],
	}
}

// Invert returns the inverse transform.
func (t Transform4x4) Invert() (Transform4x4, error) {
	m := mat.NewDense(4, 4, t[:])
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return Transform4x4{}, fmt.Errorf("geom: transform is not invertible: %w", err)
	}
	var out Transform4x4
	copy(out[:], inv.RawMatrix().Data)
	return out, nil
}

// RangeImageToCartesian converts range-image points in the sensor frame to
// the vehicle frame. When per-pixel poses are present, the composition order
// is fixed and must be reproduced exactly: each point is first transformed by
// its pixel pose (into the world frame), and only then by the inverse of the
// frame pose (world to vehicle). pixelPoses must be nil or have one entry per
// point; a non-nil pixelPoses with a nil framePose is a configuration error.
func RangeImageToCartesian(points [][3]float64, pixelPoses []Transform4x4, framePose *Transform4x4) ([][3]float64, error) {
	if pixelPoses == nil {
		out := make([][3]float64, len(points))
		copy(out, points)
		return out, nil
	}
	if len(pixelPoses) != len(points) {
		return nil, fmt.Errorf("geom: %d pixel poses for %d points", len(pixelPoses), len(points))
	}
	if framePose == nil {
		return nil, fmt.Errorf("geom: frame pose must be set when pixel poses are set")
	}
	worldToVehicle, err := framePose.Invert()
	if err != nil {
		return nil, err
	}

	out := make([][3]float64, len(points))
	for i, p := range points {
		// Pixel pose first (sensor pixel -> world), then world -> vehicle.
		out[i] = worldToVehicle.apply(pixelPoses[i].apply(p))
	}
	return out, nil
}
