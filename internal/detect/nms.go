// Package detect implements the detection decode stage: converting raw
// per-box classification logits into fixed-capacity, per-class sets of
// surviving boxes via greedy non-max suppression, plus the persisted-record
// sink and run bookkeeping for decode outputs.
package detect

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/detection.pipeline/internal/geom"
)

// NMSConfig controls per-class greedy non-max suppression. IoU and score
// thresholds are either a single scalar broadcast to every class or an
// explicit per-class list; any other length is a fatal configuration error.
type NMSConfig struct {
	NumClasses int

	// IoUThreshold suppresses a candidate whose IoU with an accepted
	// higher-score box of the same class exceeds this value.
	IoUThreshold []float64

	// ScoreThreshold excludes boxes before NMS runs. Setting a non-active
	// class (like background) to 1 disables it entirely.
	ScoreThreshold []float64

	// MaxBoxesPerClass caps survivors per class; output slots beyond the
	// true count are zero-padded with a zero validity mask.
	MaxBoxesPerClass int

	// UseOrientedPerClassNMS selects the oriented (heading-aware) IoU. The
	// default axis-aligned variant ignores headings and compares the boxes'
	// axis-aligned birds-eye footprints.
	UseOrientedPerClassNMS bool
}

// Validate checks the NMS configuration at decode setup.
func (c *NMSConfig) Validate() error {
	if c.NumClasses < 1 {
		return fmt.Errorf("detect: NumClasses must be >= 1, got %d", c.NumClasses)
	}
	if c.MaxBoxesPerClass < 1 {
		return fmt.Errorf("detect: MaxBoxesPerClass must be >= 1, got %d", c.MaxBoxesPerClass)
	}
	if len(c.IoUThreshold) != 1 && len(c.IoUThreshold) != c.NumClasses {
		return fmt.Errorf("detect: IoUThreshold must have 1 or %d entries, got %d",
			c.NumClasses, len(c.IoUThreshold))
	}
	if len(c.ScoreThreshold) != 1 && len(c.ScoreThreshold) != c.NumClasses {
		return fmt.Errorf("detect: ScoreThreshold must have 1 or %d entries, got %d",
			c.NumClasses, len(c.ScoreThreshold))
	}
	return nil
}

func (c *NMSConfig) iouThreshold(class int) float64 {
	if len(c.IoUThreshold) == 1 {
		return c.IoUThreshold[0]
	}
	return c.IoUThreshold[class]
}

func (c *NMSConfig) scoreThreshold(class int) float64 {
	if len(c.ScoreThreshold) == 1 {
		return c.ScoreThreshold[0]
	}
	return c.ScoreThreshold[class]
}

// axisAlignedIoU computes IoU of the axis-aligned birds-eye footprints of
// two 7-DOF boxes, ignoring headings and z.
func axisAlignedIoU(a, b [7]float64) float64 {
	ax0, ax1 := a[0]-a[3]/2, a[0]+a[3]/2
	ay0, ay1 := a[1]-a[4]/2, a[1]+a[4]/2
	bx0, bx1 := b[0]-b[3]/2, b[0]+b[3]/2
	by0, by1 := b[1]-b[4]/2, b[1]+b[4]/2

	ix := math.Min(ax1, bx1) - math.Max(ax0, bx0)
	iy := math.Min(ay1, by1) - math.Max(ay0, by0)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := (ax1-ax0)*(ay1-ay0) + (bx1-bx0)*(by1-by0) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// polygonArea is the shoelace area of a polygon given counter-clockwise.
func polygonArea(poly [][2]float64) float64 {
	area := 0.0
	n := len(poly)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += poly[i][0]*poly[j][1] - poly[j][0]*poly[i][1]
	}
	return area / 2
}

// clipPolygon clips a convex polygon by the half-plane on the left of the
// directed edge a->b (Sutherland-Hodgman step).
func clipPolygon(poly [][2]float64, a, b [2]float64) [][2]float64 {
	if len(poly) == 0 {
		return poly
	}
	inside := func(p [2]float64) bool {
		return (b[0]-a[0])*(p[1]-a[1])-(b[1]-a[1])*(p[0]-a[0]) >= 0
	}
	intersect := func(p, q [2]float64) [2]float64 {
		// Line a->b crossed with segment p->q.
		a1 := b[1] - a[1]
		b1 := a[0] - b[0]
		c1 := a1*a[0] + b1*a[1]
		a2 := q[1] - p[1]
		b2 := p[0] - q[0]
		c2 := a2*p[0] + b2*p[1]
		det := a1*b2 - a2*b1
		if det == 0 {
			return p
		}
		return [2]float64{(b2*c1 - b1*c2) / det, (a1*c2 - a2*c1) / det}
	}

	var out [][2]float64
	for i := range poly {
		cur := poly[i]
		prev := poly[(i+len(poly)-1)%len(poly)]
		curIn, prevIn := inside(cur), inside(prev)
		switch {
		case curIn && prevIn:
			out = append(out, cur)
		case curIn && !prevIn:
			out = append(out, intersect(prev, cur), cur)
		case !curIn && prevIn:
			out = append(out, intersect(prev, cur))
		}
	}
	return out
}

// orientedIoU computes the IoU of the rotated birds-eye footprints of two
// 7-DOF boxes via convex polygon clipping.
func orientedIoU(a, b [7]float64) float64 {
	corners := geom.BBoxCorners([][7]float64{a, b})
	polyA := topFace(corners[0])
	polyB := topFace(corners[1])

	clipped := append([][2]float64(nil), polyA...)
	for i := 0; i < 4 && len(clipped) > 0; i++ {
		clipped = clipPolygon(clipped, polyB[i], polyB[(i+1)%4])
	}
	inter := math.Abs(polygonArea(clipped))
	if inter == 0 {
		return 0
	}
	union := math.Abs(polygonArea(polyA)) + math.Abs(polygonArea(polyB)) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func topFace(corners [8][3]float64) [][2]float64 {
	return [][2]float64{
		{corners[0][0], corners[0][1]},
		{corners[1][0], corners[1][1]},
		{corners[2][0], corners[2][1]},
		{corners[3][0], corners[3][1]},
	}
}

// DecodeWithNMS runs per-class greedy NMS over one batch of predicted boxes
// and per-class scores. Inputs are [batch][numBoxes][7] boxes and
// [batch][numBoxes][numClasses] scores (already in score space, not logits).
// Outputs are padded to MaxBoxesPerClass per class:
//
//	bboxes [batch][class][MaxBoxesPerClass][7]
//	scores [batch][class][MaxBoxesPerClass]
//	mask   [batch][class][MaxBoxesPerClass]  1 = real box, 0 = padding
//
// Boxes are considered in descending score order (ties broken by input
// order); a candidate is suppressed when its IoU with any accepted box of
// the same class exceeds the class's IoU threshold.
func DecodeWithNMS(predictedBBoxes [][][7]float64, classificationScores [][][]float64, cfg *NMSConfig) (
	bboxes [][][][7]float64, scores [][][]float64, mask [][][]float64, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, err
	}
	if len(predictedBBoxes) != len(classificationScores) {
		return nil, nil, nil, fmt.Errorf("detect: %d box batches vs %d score batches",
			len(predictedBBoxes), len(classificationScores))
	}

	iou := axisAlignedIoU
	if cfg.UseOrientedPerClassNMS {
		iou = orientedIoU
	}

	batch := len(predictedBBoxes)
	bboxes = make([][][][7]float64, batch)
	scores = make([][][]float64, batch)
	mask = make([][][]float64, batch)

	for bi := 0; bi < batch; bi++ {
		boxes := predictedBBoxes[bi]
		boxScores := classificationScores[bi]
		if len(boxes) != len(boxScores) {
			return nil, nil, nil, fmt.Errorf("detect: batch %d has %d boxes but %d score rows",
				bi, len(boxes), len(boxScores))
		}

		bboxes[bi] = make([][][7]float64, cfg.NumClasses)
		scores[bi] = make([][]float64, cfg.NumClasses)
		mask[bi] = make([][]float64, cfg.NumClasses)

		for ci := 0; ci < cfg.NumClasses; ci++ {
			selected, selScores := nmsOneClass(boxes, boxScores, ci, cfg, iou)

			outBoxes := make([][7]float64, cfg.MaxBoxesPerClass)
			outScores := make([]float64, cfg.MaxBoxesPerClass)
			outMask := make([]float64, cfg.MaxBoxesPerClass)
			for i, idx := range selected {
				outBoxes[i] = boxes[idx]
				outScores[i] = selScores[i]
				outMask[i] = 1
			}
			bboxes[bi][ci] = outBoxes
			scores[bi][ci] = outScores
			mask[bi][ci] = outMask
		}
	}
	return bboxes, scores, mask, nil
}

// nmsOneClass runs greedy suppression for a single class, returning the
// selected box indices in descending score order together with their scores.
func nmsOneClass(boxes [][7]float64, boxScores [][]float64, class int, cfg *NMSConfig, iou func(a, b [7]float64) float64) ([]int, []float64) {
	scoreThresh := cfg.scoreThreshold(class)
	iouThresh := cfg.iouThreshold(class)

	candidates := make([]int, 0, len(boxes))
	for i := range boxes {
		if boxScores[i][class] >= scoreThresh {
			candidates = append(candidates, i)
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return boxScores[candidates[a]][class] > boxScores[candidates[b]][class]
	})

	var selected []int
	var selScores []float64
	for _, cand := range candidates {
		if len(selected) >= cfg.MaxBoxesPerClass {
			break
		}
		keep := true
		for _, acc := range selected {
			if iou(boxes[cand], boxes[acc]) > iouThresh {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, cand)
			selScores = append(selScores, boxScores[cand][class])
		}
	}
	return selected, selScores
}
