// Package extract runs classifiers over labeled loaders: it scores pretrained
// models and collects penultimate features, outputs, and probabilities for
// persistence. Everything runs on the calling goroutine.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"penultimate/internal/dataset"
	"penultimate/internal/features"
	"penultimate/internal/metrics"
	"penultimate/internal/model"
	"penultimate/internal/tensor"
)

// Options tunes a sweep.
type Options struct {
	// DevRun stops evaluation after one batch and extraction after two.
	DevRun bool
	// LogEvery emits a throughput line every N batches; 0 disables it.
	LogEvery int
}

// Named pairs a loader with the name its products are saved under.
type Named struct {
	Name   string
	Loader dataset.Loader
}

// SaveFunc persists one extracted dataset.
type SaveFunc func(ds *features.Dataset, outDir, name string) error

// Evaluate scores clf on train then test, logging one line per dataset.
// Loss is the cross-entropy summed over every processed example.
func Evaluate(ctx context.Context, clf model.Classifier, train, test dataset.Loader, opts Options) ([]metrics.Score, error) {
	scores := make([]metrics.Score, 0, 2)
	for _, n := range []Named{{Name: "trainset", Loader: train}, {Name: "testset", Loader: test}} {
		score, err := evaluate(ctx, clf, n, opts)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", n.Name, err)
		}
		log.Printf("Pretrained model: %s [Acc Error Loss]=[%.2f%% %.2f%% %.3f]",
			n.Name, 100*score.Accuracy(), 100*score.ErrorRate(), score.MeanLoss())
		scores = append(scores, score)
	}
	return scores, nil
}

func evaluate(ctx context.Context, clf model.Classifier, n Named, opts Options) (metrics.Score, error) {
	score := metrics.Score{Dataset: n.Name, Total: n.Loader.Len()}
	it := n.Loader.Batches()
	defer it.Close()
	for {
		if err := ctx.Err(); err != nil {
			return score, err
		}
		batch, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return score, err
		}
		outputs, err := clf.Classify(batch.Images)
		if err != nil {
			return score, err
		}
		if outputs.Len() != len(batch.Labels) {
			return score, fmt.Errorf("classifier returned %d rows for %d labels", outputs.Len(), len(batch.Labels))
		}
		loss, err := crossEntropySum(outputs, batch.Labels)
		if err != nil {
			return score, err
		}
		score.Add(len(batch.Labels), countCorrect(outputs, batch.Labels), loss)
		if opts.DevRun {
			break
		}
	}
	return score, nil
}

// crossEntropySum returns sum_i -log softmax(outputs_i)[labels_i].
func crossEntropySum(outputs tensor.Tensor, labels []int) (float64, error) {
	total := 0.0
	for i, label := range labels {
		row := outputs.Row(i)
		if label < 0 || label >= len(row) {
			return 0, fmt.Errorf("label %d outside %d classes", label, len(row))
		}
		maxLogit := float64(row[0])
		for _, v := range row {
			maxLogit = math.Max(maxLogit, float64(v))
		}
		sum := 0.0
		for _, v := range row {
			sum += math.Exp(float64(v) - maxLogit)
		}
		total += maxLogit + math.Log(sum) - float64(row[label])
	}
	return total, nil
}

func countCorrect(outputs tensor.Tensor, labels []int) int {
	correct := 0
	for i, label := range labels {
		if tensor.Argmax(outputs.Row(i)) == label {
			correct++
		}
	}
	return correct
}

// Features runs loader through clf and collects, per batch, the features,
// labels, raw outputs, and softmax probabilities, plus the Gram matrices of
// classifiers that record them. Accelerator memory is released on every
// return path when clf supports it.
func Features(ctx context.Context, clf model.Classifier, loader dataset.Loader, opts Options) (*features.Dataset, error) {
	if r, ok := clf.(model.Releaser); ok {
		defer r.Release()
	}
	it := loader.Batches()
	defer it.Close()

	recorder, _ := clf.(model.GramRecorder)
	var feats, labels, outputs, probs []tensor.Tensor
	var grams [][]tensor.Tensor
	var window metrics.Window
	for batchNum := 0; ; batchNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		startData := time.Now()
		batch, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		out, err := clf.Classify(batch.Images)
		if err != nil {
			return nil, fmt.Errorf("batch %d: %w", batchNum, err)
		}
		// The feature slot belongs to this batch only until the next Classify.
		f := clf.LastFeatures().Clone()
		var g []tensor.Tensor
		if recorder != nil {
			g = cloneAll(recorder.LastGram())
		}
		computeTime := time.Since(startCompute)

		if f.Len() != len(batch.Labels) || out.Len() != len(batch.Labels) {
			return nil, fmt.Errorf("batch %d: %d labels but %d feature rows and %d output rows",
				batchNum, len(batch.Labels), f.Len(), out.Len())
		}
		feats = append(feats, f)
		labels = append(labels, tensor.FromLabels(batch.Labels))
		outputs = append(outputs, out.Clone())
		probs = append(probs, tensor.Softmax(out))
		if len(g) > 0 {
			grams = append(grams, g)
		}

		window.Record(len(batch.Labels), dataTime, computeTime)
		if opts.LogEvery > 0 && (batchNum+1)%opts.LogEvery == 0 {
			snap := window.Snapshot()
			log.Printf("batch=%d images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f",
				batchNum+1, snap.ImagesPerSec, snap.AvgDataMS, snap.AvgComputeMS)
		}

		if opts.DevRun && batchNum >= 1 {
			break
		}
	}
	if len(grams) > 0 && len(grams) != len(feats) {
		return nil, fmt.Errorf("gram matrices recorded for %d of %d batches", len(grams), len(feats))
	}
	return features.NewWithGrams(feats, labels, outputs, probs, grams, features.IdentityTransform)
}

func cloneAll(ts []tensor.Tensor) []tensor.Tensor {
	if len(ts) == 0 {
		return nil
	}
	out := make([]tensor.Tensor, len(ts))
	for i, t := range ts {
		out[i] = t.Clone()
	}
	return out
}

// Baseline extracts and saves every loader in order. The first failure
// aborts the sweep.
func Baseline(ctx context.Context, clf model.Classifier, loaders []Named, outDir string, save SaveFunc, opts Options) error {
	for _, n := range loaders {
		log.Printf("Feature extraction for %s", n.Name)
		ds, err := Features(ctx, clf, n.Loader, opts)
		if err != nil {
			return fmt.Errorf("extract %s: %w", n.Name, err)
		}
		if err := save(ds, outDir, n.Name); err != nil {
			return fmt.Errorf("save %s: %w", n.Name, err)
		}
		log.Print("")
	}
	return nil
}
