package detect

import (
	"fmt"
	"math"
)

// DecodeOutputs is the decoder's fixed-shape result for one batch. Scores
// are already masked by validity, so padded slots read as zero score.
type DecodeOutputs struct {
	// PerClassBBoxes is [batch][class][MaxBoxesPerClass][7].
	PerClassBBoxes [][][][7]float64

	// PerClassScores is [batch][class][MaxBoxesPerClass], masked by validity.
	PerClassScores [][][]float64

	// PerClassValidMask marks real boxes (1) vs padding (0).
	PerClassValidMask [][][]float64

	// VisualizationWeights equals PerClassScores with entries below the
	// visualization threshold zeroed, for display filtering only.
	VisualizationWeights [][][]float64
}

// Decoder turns raw per-box classification logits into per-class padded
// detections. Stateless after construction; safe for concurrent use.
type Decoder struct {
	cfg NMSConfig

	// visualizationThreshold zeroes sub-threshold entries in the
	// visualization weights. It does not affect the decoded scores.
	visualizationThreshold float64
}

// NewDecoder validates the configuration and returns a Decoder. Threshold
// misconfiguration is fatal here, at decode setup.
func NewDecoder(cfg NMSConfig, visualizationThreshold float64) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Decoder{cfg: cfg, visualizationThreshold: visualizationThreshold}, nil
}

// Config returns the decoder's NMS configuration.
func (d *Decoder) Config() NMSConfig { return d.cfg }

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Decode maps predicted boxes [batch][numBoxes][7] and classification logits
// [batch][numBoxes][numClasses] through sigmoid scoring and per-class NMS.
func (d *Decoder) Decode(predictedBBoxes [][][7]float64, classificationLogits [][][]float64) (*DecodeOutputs, error) {
	if len(predictedBBoxes) != len(classificationLogits) {
		return nil, fmt.Errorf("detect: %d box batches vs %d logit batches",
			len(predictedBBoxes), len(classificationLogits))
	}

	scores := make([][][]float64, len(classificationLogits))
	for bi, rows := range classificationLogits {
		scores[bi] = make([][]float64, len(rows))
		for i, row := range rows {
			if len(row) != d.cfg.NumClasses {
				return nil, fmt.Errorf("detect: batch %d box %d has %d logits, want %d",
					bi, i, len(row), d.cfg.NumClasses)
			}
			s := make([]float64, len(row))
			for j, v := range row {
				s[j] = sigmoid(v)
			}
			scores[bi][i] = s
		}
	}

	bboxes, nmsScores, mask, err := DecodeWithNMS(predictedBBoxes, scores, &d.cfg)
	if err != nil {
		return nil, err
	}

	// Mask scores so padded slots read as zero, then derive visualization
	// weights from the masked scores.
	vis := make([][][]float64, len(nmsScores))
	for bi := range nmsScores {
		vis[bi] = make([][]float64, len(nmsScores[bi]))
		for ci := range nmsScores[bi] {
			v := make([]float64, len(nmsScores[bi][ci]))
			for i := range nmsScores[bi][ci] {
				nmsScores[bi][ci][i] *= mask[bi][ci][i]
				if nmsScores[bi][ci][i] >= d.visualizationThreshold {
					v[i] = nmsScores[bi][ci][i]
				}
			}
			vis[bi][ci] = v
		}
	}

	return &DecodeOutputs{
		PerClassBBoxes:       bboxes,
		PerClassScores:       nmsScores,
		PerClassValidMask:    mask,
		VisualizationWeights: vis,
	}, nil
}
