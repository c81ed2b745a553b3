// Package geom provides pure geometric routines for bounding boxes and point
// clouds: pose transforms, 2D bbox encoding conversions, camera-plane
// projection, angular reordering, containment tests and smooth-L1 box
// distances.
//
// 2D bboxes use two interchangeable encodings: corner form
// (ymin, xmin, ymax, xmax) and centroid form (cx, cy, w, h). The conversions
// between them are fixed linear maps; the coefficient matrices below are an
// exact contract and round-trip bit-for-bit up to float rounding.
//
// 3D bboxes are 7-DOF: (x, y, z, dx, dy, dz, phi) where (x, y, z) is the box
// center, (dx, dy, dz) are length/width/height and phi is the heading about
// the z axis.
//
// All functions are stateless and safe for concurrent use.
package geom

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Pose is a rigid transform: a translation followed by a rotation composed
// as yaw about Z, then roll about X, then pitch about Y. Angles are radians.
type Pose struct {
	Tx, Ty, Tz       float64
	Yaw, Roll, Pitch float64
}

// unitX returns the rotation matrix about the x axis.
func unitX(angle float64) *mat.Dense {
	c, s := math.Cos(angle), math.Sin(angle)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	})
}

// unitY returns the rotation matrix about the y axis.
func unitY(angle float64) *mat.Dense {
	c, s := math.Cos(angle), math.Sin(angle)
	return mat.NewDense(3, 3, []float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	})
}

// unitZ returns the rotation matrix about the z axis.
func unitZ(angle float64) *mat.Dense {
	c, s := math.Cos(angle), math.Sin(angle)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

// CoordinateTransform translates points by the pose's translation and then
// rotates them by the pose's composed rotation. The composition order is
// fixed: yaw about Z, roll about X, pitch about Y, and points are
// right-multiplied by the composed matrix:
//
//	points' = (points + t) @ R,  R = Rz(yaw) Rx(roll) Ry(pitch)
//
// Swapping the composition order silently changes results, so callers must
// not re-derive it.
func CoordinateTransform(points [][3]float64, pose Pose) [][3]float64 {
	var zr, rot mat.Dense
	zr.Mul(unitZ(pose.Yaw), unitX(pose.Roll))
	rot.Mul(&zr, unitY(pose.Pitch))

	out := make([][3]float64, len(points))
	for i, p := range points {
		x := p[0] + pose.Tx
		y := p[1] + pose.Ty
		z := p[2] + pose.Tz
		// Row vector times matrix.
		out[i] = [3]float64{
			x*rot.At(0, 0) + y*rot.At(1, 0) + z*rot.At(2, 0),
			x*rot.At(0, 1) + y*rot.At(1, 1) + z*rot.At(2, 1),
			x*rot.At(0, 2) + y*rot.At(1, 2) + z*rot.At(2, 2),
		}
	}
	return out
}

// xywhToBBoxesMatrix maps (cx, cy, w, h) row vectors to
// (ymin, xmin, ymax, xmax). Each output row i is input @ row i of this
// matrix's transpose; coefficients are the exact conversion contract.
var xywhToBBoxesMatrix = mat.NewDense(4, 4, []float64{
	// cx   cy    w     h
	0.0, 1.0, 0.0, -0.5, // ymin
	1.0, 0.0, -0.5, 0.0, // xmin
	0.0, 1.0, 0.0, 0.5, // ymax
	1.0, 0.0, 0.5, 0.0, // xmax
})

// bboxesToXYWHMatrix is the inverse map from (ymin, xmin, ymax, xmax) to
// (cx, cy, w, h).
var bboxesToXYWHMatrix = mat.NewDense(4, 4, []float64{
	// ymin xmin  ymax  xmax
	0.0, 0.5, 0.0, 0.5, // cx
	0.5, 0.0, 0.5, 0.0, // cy
	0.0, -1.0, 0.0, 1.0, // w
	-1.0, 0.0, 1.0, 0.0, // h
})

// bboxesCentroidMatrix maps corner-form boxes to their (cx, cy) centroids.
var bboxesCentroidMatrix = mat.NewDense(2, 4, []float64{
	// ymin xmin  ymax  xmax
	0.0, 0.5, 0.0, 0.5, // cx
	0.5, 0.0, 0.5, 0.0, // cy
})

// applyRowMap multiplies each input row vector by m's transpose, producing
// rows of length equal to m's row count.
func applyRowMap(m *mat.Dense, in [][4]float64) *mat.Dense {
	rows, _ := m.Dims()
	x := mat.NewDense(len(in), 4, nil)
	for i, v := range in {
		x.SetRow(i, v[:])
	}
	out := mat.NewDense(len(in), rows, nil)
	if len(in) > 0 {
		out.Mul(x, m.T())
	}
	return out
}

// XYWHToBBoxes converts centroid-form boxes (cx, cy, w, h) to corner form
// (ymin, xmin, ymax, xmax).
func XYWHToBBoxes(xywh [][4]float64) [][4]float64 {
	out := applyRowMap(xywhToBBoxesMatrix, xywh)
	res := make([][4]float64, len(xywh))
	for i := range res {
		copy(res[i][:], out.RawRowView(i))
	}
	return res
}

// BBoxesToXYWH converts corner-form boxes to centroid form.
func BBoxesToXYWH(bboxes [][4]float64) [][4]float64 {
	out := applyRowMap(bboxesToXYWHMatrix, bboxes)
	res := make([][4]float64, len(bboxes))
	for i := range res {
		copy(res[i][:], out.RawRowView(i))
	}
	return res
}

// BBoxesCentroid returns the (cx, cy) centroid of each corner-form box.
func BBoxesCentroid(bboxes [][4]float64) [][2]float64 {
	out := applyRowMap(bboxesCentroidMatrix, bboxes)
	res := make([][2]float64, len(bboxes))
	for i := range res {
		copy(res[i][:], out.RawRowView(i))
	}
	return res
}

// PointsToImagePlane projects 3D points into the image plane through a 3x4
// camera matrix, then performs the perspective divide. No epsilon guard is
// applied to the divisor; points at or behind the camera plane are the
// caller's problem.
func PointsToImagePlane(points [][3]float64, veloToImagePlane *mat.Dense) ([][2]float64, error) {
	r, c := veloToImagePlane.Dims()
	if r != 3 || c != 4 {
		return nil, fmt.Errorf("geom: camera matrix must be 3x4, got %dx%d", r, c)
	}
	out := make([][2]float64, len(points))
	for i, p := range points {
		// Homogeneous coordinate appended as 1.
		h := [4]float64{p[0], p[1], p[2], 1}
		var img [3]float64
		for row := 0; row < 3; row++ {
			s := 0.0
			for col := 0; col < 4; col++ {
				s += veloToImagePlane.At(row, col) * h[col]
			}
			img[row] = s
		}
		out[i] = [2]float64{img[0] / img[2], img[1] / img[2]}
	}
	return out, nil
}

// ReorderIndicesByPhi sorts box centroids by signed angle relative to the
// anchor point, returning a permutation of indices. Centroids on the
// counter-clockwise side of the anchor ray sort before those on the
// clockwise side, matching the order a counter-clockwise spin visits them.
// Zero boxes yield an empty permutation; a zero-norm centroid or anchor
// contributes cosine 0 rather than dividing by zero.
func ReorderIndicesByPhi(anchor [2]float64, bboxes [][4]float64) []int {
	n := len(bboxes)
	if n == 0 {
		return []int{}
	}
	centroids := BBoxesCentroid(bboxes)
	anchorNorm := math.Hypot(anchor[0], anchor[1])

	scores := make([]float64, n)
	for i, c := range centroids {
		dot := c[0]*anchor[0] + c[1]*anchor[1]
		norm := anchorNorm * math.Hypot(c[0], c[1])
		cosine := 0.0
		if norm > 0 {
			cosine = dot / norm
		}
		// z component of anchor x centroid disambiguates the side.
		cross := anchor[0]*c[1] - anchor[1]*c[0]
		if cross > 0 {
			scores[i] = -1 - cosine
		} else {
			scores[i] = 1 + cosine
		}
	}

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	// Descending score; ties keep index order.
	sort.SliceStable(indices, func(a, b int) bool {
		return scores[indices[a]] > scores[indices[b]]
	})
	return indices
}

// SmoothL1Norm is the Huber-style norm: quadratic inside the unit interval,
// linear (offset by -0.5) outside it.
func SmoothL1Norm(a float64) float64 {
	if math.Abs(a) < 1 {
		return 0.5 * a * a
	}
	return math.Abs(a) - 0.5
}

func positive(x float64) float64 {
	return math.Max(1e-8, x)
}

// DistanceBetweenCentroidsAndBBoxesFastAndFurious computes the smooth-L1 box
// distance between predicted centroid-form boxes and ground-truth corner-form
// boxes. Positional residuals are normalized by the ground-truth width and
// height, size residuals use log ratios, and masked entries contribute zero.
func DistanceBetweenCentroidsAndBBoxesFastAndFurious(centroids, bboxes [][4]float64, masks []float64) ([]float64, error) {
	if len(centroids) != len(bboxes) || len(centroids) != len(masks) {
		return nil, fmt.Errorf("geom: mismatched lengths: %d centroids, %d bboxes, %d masks",
			len(centroids), len(bboxes), len(masks))
	}
	gt := BBoxesToXYWH(bboxes)
	out := make([]float64, len(centroids))
	for i, c := range centroids {
		m := masks[i]
		lx := m * (c[0] - gt[i][0]) / positive(gt[i][2])
		ly := m * (c[1] - gt[i][1]) / positive(gt[i][3])
		sw := m * math.Log(positive(c[2])/positive(gt[i][2]))
		sh := m * math.Log(positive(c[3])/positive(gt[i][3]))
		out[i] = SmoothL1Norm(lx) + SmoothL1Norm(ly) + SmoothL1Norm(sw) + SmoothL1Norm(sh)
	}
	return out, nil
}

// DistanceBetweenCentroids computes the masked elementwise smooth-L1 distance
// between two sets of centroid-form boxes.
func DistanceBetweenCentroids(u, v [][4]float64, masks []float64) ([]float64, error) {
	if len(u) != len(v) || len(u) != len(masks) {
		return nil, fmt.Errorf("geom: mismatched lengths: %d vs %d boxes, %d masks", len(u), len(v), len(masks))
	}
	out := make([]float64, len(u))
	for i := range u {
		s := 0.0
		for j := 0; j < 4; j++ {
			s += SmoothL1Norm(u[i][j] - v[i][j])
		}
		out[i] = masks[i] * s
	}
	return out, nil
}

// SphericalCoordinatesTransform converts cartesian points to
// (distance, theta, phi), where theta is the inclination from the +Z axis
// and phi is the azimuth from atan2(y, x). The inclination denominator is
// clamped away from zero so the origin maps without NaN.
func SphericalCoordinatesTransform(points [][3]float64) [][3]float64 {
	out := make([][3]float64, len(points))
	for i, p := range points {
		dist := math.Sqrt(p[0]*p[0] + p[1]*p[1] + p[2]*p[2])
		theta := math.Acos(p[2] / math.Max(dist, 1e-7))
		phi := math.Atan2(p[1], p[0])
		out[i] = [3]float64{dist, theta, phi}
	}
	return out
}
