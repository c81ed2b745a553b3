package extract

import (
	"fmt"

	"github.com/banshee-data/detection.pipeline/internal/geom"
	"github.com/banshee-data/detection.pipeline/internal/tensor"
)

// PointCloudExtractor reads a variable-length [n,3] point cloud from the
// "points" feature. Empty clouds and clouds larger than MaxPoints are
// force-dropped; otherwise the point count is the bucket key so the batcher
// can group clouds of similar size.
type PointCloudExtractor struct {
	// MaxPoints caps the cloud size. Zero means no cap.
	MaxPoints int
}

func (e *PointCloudExtractor) Name() string { return "pointcloud" }

func (e *PointCloudExtractor) FeatureMap() map[string]FeatureSpec {
	return map[string]FeatureSpec{
		"points": {DType: tensor.Float64},
	}
}

func (e *PointCloudExtractor) Extract(features tensor.NestedMap) (tensor.NestedMap, error) {
	pts, ok := features["points"]
	if !ok {
		return nil, fmt.Errorf("missing points feature")
	}
	// An empty cloud parses as a zero-element tensor of any rank.
	if pts.NumElements() == 0 {
		empty, err := tensor.NewFloat64([]int{0, 3}, nil)
		if err != nil {
			return nil, err
		}
		return tensor.NestedMap{
			"points":     empty,
			"num_points": tensor.ScalarInt64(0),
		}, nil
	}
	shape := pts.Shape()
	if len(shape) != 2 || shape[1] != 3 {
		return nil, fmt.Errorf("points must be [n,3], got %v", shape)
	}
	return tensor.NestedMap{
		"points":     pts,
		"num_points": tensor.ScalarInt64(int64(shape[0])),
	}, nil
}

func (e *PointCloudExtractor) Shape() map[string][]int {
	n := e.MaxPoints
	if n == 0 {
		n = -1
	}
	return map[string][]int{
		"points":     {n, 3},
		"num_points": {},
	}
}

func (e *PointCloudExtractor) DType() map[string]tensor.DType {
	return map[string]tensor.DType{
		"points":     tensor.Float64,
		"num_points": tensor.Int64,
	}
}

func (e *PointCloudExtractor) Filter(extracted tensor.NestedMap) int {
	n := int(extracted["num_points"].Int64s()[0])
	if n <= 0 {
		return 0
	}
	if e.MaxPoints > 0 && n > e.MaxPoints {
		return BucketUpperBound
	}
	return n
}

// LabelExtractor reads ground-truth boxes and class labels: "bboxes" is a
// variable-length [m,7] tensor (x, y, z, dx, dy, dz, heading) and "labels"
// is [m]. It never vetoes an example on its own.
type LabelExtractor struct {
	// MaxBoxes is the fixed per-example box count after batching.
	MaxBoxes int
}

func (e *LabelExtractor) Name() string { return "labels" }

func (e *LabelExtractor) FeatureMap() map[string]FeatureSpec {
	return map[string]FeatureSpec{
		"bboxes": {DType: tensor.Float64},
		"labels": {DType: tensor.Int64},
	}
}

func (e *LabelExtractor) Extract(features tensor.NestedMap) (tensor.NestedMap, error) {
	bboxes, ok := features["bboxes"]
	if !ok {
		return nil, fmt.Errorf("missing bboxes feature")
	}
	labels, ok := features["labels"]
	if !ok {
		return nil, fmt.Errorf("missing labels feature")
	}
	if bboxes.NumElements() == 0 {
		emptyBoxes, err := tensor.NewFloat64([]int{0, 7}, nil)
		if err != nil {
			return nil, err
		}
		emptyLabels, err := tensor.NewInt64([]int{0}, nil)
		if err != nil {
			return nil, err
		}
		return tensor.NestedMap{
			"bboxes_3d": emptyBoxes,
			"labels":    emptyLabels,
			"num_boxes": tensor.ScalarInt64(0),
		}, nil
	}
	bshape := bboxes.Shape()
	if len(bshape) != 2 || bshape[1] != 7 {
		return nil, fmt.Errorf("bboxes must be [m,7], got %v", bshape)
	}
	lshape := labels.Shape()
	if len(lshape) != 1 || lshape[0] != bshape[0] {
		return nil, fmt.Errorf("labels must be [%d], got %v", bshape[0], lshape)
	}
	return tensor.NestedMap{
		"bboxes_3d": bboxes,
		"labels":    labels,
		"num_boxes": tensor.ScalarInt64(int64(bshape[0])),
	}, nil
}

func (e *LabelExtractor) Shape() map[string][]int {
	return map[string][]int{
		"bboxes_3d": {e.MaxBoxes, 7},
		"labels":    {e.MaxBoxes},
		"num_boxes": {},
	}
}

func (e *LabelExtractor) DType() map[string]tensor.DType {
	return map[string]tensor.DType{
		"bboxes_3d": tensor.Float64,
		"labels":    tensor.Int64,
		"num_boxes": tensor.Int64,
	}
}

func (e *LabelExtractor) Filter(extracted tensor.NestedMap) int { return 1 }

// PoseTransform rigidly transforms the extracted point cloud into another
// frame. Shapes and dtypes are unchanged.
type PoseTransform struct {
	Pose geom.Pose
}

func (p *PoseTransform) Name() string { return "pose_transform" }

func (p *PoseTransform) TransformFeatures(m tensor.NestedMap) (tensor.NestedMap, error) {
	key := "pointcloud/points"
	t, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("missing %q", key)
	}
	pts := pointsFromTensor(t)
	out := geom.CoordinateTransform(pts, p.Pose)
	transformed, err := tensorFromPoints(out)
	if err != nil {
		return nil, err
	}
	res := m.Copy()
	res[key] = transformed
	return res, nil
}

func (p *PoseTransform) TransformShapes(shapes map[string][]int) map[string][]int { return shapes }

func (p *PoseTransform) TransformDTypes(dtypes map[string]tensor.DType) map[string]tensor.DType {
	return dtypes
}

// SphericalCoordinates derives a (dist, theta, phi) feature from the point
// cloud, adding "pointcloud/points_spherical" alongside the cartesian points.
type SphericalCoordinates struct{}

func (s *SphericalCoordinates) Name() string { return "spherical_coordinates" }

func (s *SphericalCoordinates) TransformFeatures(m tensor.NestedMap) (tensor.NestedMap, error) {
	t, ok := m["pointcloud/points"]
	if !ok {
		return nil, fmt.Errorf("missing %q", "pointcloud/points")
	}
	sph := geom.SphericalCoordinatesTransform(pointsFromTensor(t))
	sphT, err := tensorFromPoints(sph)
	if err != nil {
		return nil, err
	}
	res := m.Copy()
	res["pointcloud/points_spherical"] = sphT
	return res, nil
}

func (s *SphericalCoordinates) TransformShapes(shapes map[string][]int) map[string][]int {
	out := make(map[string][]int, len(shapes)+1)
	for k, v := range shapes {
		out[k] = v
	}
	out["pointcloud/points_spherical"] = shapes["pointcloud/points"]
	return out
}

func (s *SphericalCoordinates) TransformDTypes(dtypes map[string]tensor.DType) map[string]tensor.DType {
	out := make(map[string]tensor.DType, len(dtypes)+1)
	for k, v := range dtypes {
		out[k] = v
	}
	out["pointcloud/points_spherical"] = tensor.Float64
	return out
}

// BoxPointCounts counts the cloud points contained in each labeled 3D box,
// adding "labels/points_per_box". It requires both the point-cloud and label
// extractors upstream.
type BoxPointCounts struct{}

func (b *BoxPointCounts) Name() string { return "box_point_counts" }

func (b *BoxPointCounts) TransformFeatures(m tensor.NestedMap) (tensor.NestedMap, error) {
	ptsT, ok := m["pointcloud/points"]
	if !ok {
		return nil, fmt.Errorf("missing %q", "pointcloud/points")
	}
	boxT, ok := m["labels/bboxes_3d"]
	if !ok {
		return nil, fmt.Errorf("missing %q", "labels/bboxes_3d")
	}

	pts := pointsFromTensor(ptsT)
	nBoxes := boxT.Dim(0)
	boxes := make([][7]float64, nBoxes)
	vals := boxT.Float64s()
	for i := 0; i < nBoxes; i++ {
		copy(boxes[i][:], vals[i*7:i*7+7])
	}

	counts := make([]int64, nBoxes)
	inside := geom.IsWithinBBox3D(pts, boxes)
	for pi := range inside {
		for bi, in := range inside[pi] {
			if in {
				counts[bi]++
			}
		}
	}
	countT, err := tensor.NewInt64([]int{nBoxes}, counts)
	if err != nil {
		return nil, err
	}
	res := m.Copy()
	res["labels/points_per_box"] = countT
	return res, nil
}

func (b *BoxPointCounts) TransformShapes(shapes map[string][]int) map[string][]int {
	out := make(map[string][]int, len(shapes)+1)
	for k, v := range shapes {
		out[k] = v
	}
	if s, ok := shapes["labels/bboxes_3d"]; ok && len(s) == 2 {
		out["labels/points_per_box"] = []int{s[0]}
	}
	return out
}

func (b *BoxPointCounts) TransformDTypes(dtypes map[string]tensor.DType) map[string]tensor.DType {
	out := make(map[string]tensor.DType, len(dtypes)+1)
	for k, v := range dtypes {
		out[k] = v
	}
	out["labels/points_per_box"] = tensor.Int64
	return out
}

func pointsFromTensor(t *tensor.Tensor) [][3]float64 {
	vals := t.Float64s()
	n := t.Dim(0)
	pts := make([][3]float64, n)
	for i := 0; i < n; i++ {
		copy(pts[i][:], vals[i*3:i*3+3])
	}
	return pts
}

func tensorFromPoints(pts [][3]float64) (*tensor.Tensor, error) {
	flat := make([]float64, 0, len(pts)*3)
	for _, p := range pts {
		flat = append(flat, p[0], p[1], p[2])
	}
	return tensor.NewFloat64([]int{len(pts), 3}, flat)
}
