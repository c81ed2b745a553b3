// Command decode runs the detection decoder over a file of predicted boxes
// and classification logits, writing per-class decoded detections to a new
// record file and registering the run in the bookkeeping database.
//
// Input records are JSON objects of the form:
//
//	{"bboxes": [[x,y,z,dx,dy,dz,heading], ...], "logits": [[...], ...]}
//
// with one example per record.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/banshee-data/detection.pipeline/internal/config"
	"github.com/banshee-data/detection.pipeline/internal/db"
	"github.com/banshee-data/detection.pipeline/internal/detect"
	"github.com/banshee-data/detection.pipeline/internal/recordio"
)

type predictionRecord struct {
	BBoxes [][7]float64 `json:"bboxes"`
	Logits [][]float64  `json:"logits"`
}

func main() {
	var (
		inputPath  = flag.String("input", "", "record file of predictions (required)")
		outputPath = flag.String("output", "", "record file for decoded detections (required)")
		configPath = flag.String("config", "", "pipeline config JSON (optional)")
		dbPath     = flag.String("db", "", "bookkeeping database path (overrides config)")
		runID      = flag.String("run-id", "", "decode run ID (default: generated)")
		batchSize  = flag.Int("batch-size", 16, "examples decoded per batch")
	)
	flag.Parse()

	if *inputPath == "" || *outputPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *runID == "" {
		*runID = uuid.New().String()
	}

	cfg := config.EmptyPipelineConfig()
	if *configPath != "" {
		loaded, err := config.LoadPipelineConfig(*configPath)
		if err != nil {
			log.Fatalf("[Decode] load config: %v", err)
		}
		cfg = loaded
	}
	if *dbPath == "" {
		*dbPath = cfg.GetDatabasePath()
	}

	nmsCfg := detect.NMSConfig{
		NumClasses:             cfg.GetNumClasses(),
		IoUThreshold:           cfg.GetNMSIoUThreshold(),
		ScoreThreshold:         cfg.GetNMSScoreThreshold(),
		MaxBoxesPerClass:       cfg.GetMaxBoxesPerClass(),
		UseOrientedPerClassNMS: cfg.GetUseOrientedPerClassNMS(),
	}
	decoder, err := detect.NewDecoder(nmsCfg, cfg.GetVisualizationThreshold())
	if err != nil {
		log.Fatalf("[Decode] decoder setup: %v", err)
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("[Decode] open database: %v", err)
	}
	defer database.Close()
	store := detect.NewRunStore(database.DB)

	examples, boxes, err := decodeFile(*inputPath, *outputPath, decoder, *runID, *batchSize)
	if err != nil {
		log.Fatalf("[Decode] %v", err)
	}

	params, _ := json.Marshal(nmsCfg)
	run := &detect.DecodeRun{
		RunID:           *runID,
		SourcePath:      *inputPath,
		OutputPath:      *outputPath,
		NumClasses:      nmsCfg.NumClasses,
		NumExamples:     examples,
		NumBoxesEmitted: boxes,
		ParamsJSON:      params,
	}
	if err := store.Insert(run); err != nil {
		log.Fatalf("[Decode] record run: %v", err)
	}

	log.Printf("[Decode] run %s: %d examples, %d boxes -> %s",
		run.RunID, examples, boxes, *outputPath)
}

// decodeFile streams predictions through the decoder in batches and returns
// the example and emitted-box counts.
func decodeFile(inputPath, outputPath string, decoder *detect.Decoder, runID string, batchSize int) (int, int, error) {
	reader, err := recordio.Open(inputPath)
	if err != nil {
		return 0, 0, fmt.Errorf("open input: %w", err)
	}
	defer reader.Close()

	sink, err := detect.NewSink(outputPath)
	if err != nil {
		return 0, 0, fmt.Errorf("open output: %w", err)
	}
	defer sink.Close()

	var (
		bboxes    [][][7]float64
		logits    [][][]float64
		examples  int
		boxCount  int
		batchBase int
	)
	flush := func() error {
		if len(bboxes) == 0 {
			return nil
		}
		out, err := decoder.Decode(bboxes, logits)
		if err != nil {
			return fmt.Errorf("decode batch at example %d: %w", batchBase, err)
		}
		for _, ex := range detect.ExamplesFromOutputs(runID, batchBase, out) {
			for _, cls := range ex.Classes {
				boxCount += len(cls.BBoxes)
			}
			if err := sink.Write(ex); err != nil {
				return fmt.Errorf("write example %d: %w", ex.ExampleIndex, err)
			}
		}
		batchBase += len(bboxes)
		bboxes, logits = bboxes[:0], logits[:0]
		return nil
	}

	for {
		payload, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, 0, fmt.Errorf("read example %d: %w", examples, err)
		}
		var rec predictionRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return 0, 0, fmt.Errorf("parse example %d: %w", examples, err)
		}
		if len(rec.BBoxes) != len(rec.Logits) {
			return 0, 0, fmt.Errorf("example %d: %d boxes vs %d logit rows",
				examples, len(rec.BBoxes), len(rec.Logits))
		}
		bboxes = append(bboxes, rec.BBoxes)
		logits = append(logits, rec.Logits)
		examples++
		if len(bboxes) >= batchSize {
			if err := flush(); err != nil {
				return 0, 0, err
			}
		}
	}
	if err := flush(); err != nil {
		return 0, 0, err
	}
	if err := sink.Close(); err != nil {
		return 0, 0, fmt.Errorf("close output: %w", err)
	}
	return examples, boxCount, nil
}
