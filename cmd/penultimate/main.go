package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"penultimate/internal/config"
	"penultimate/internal/dataset"
	"penultimate/internal/extract"
	"penultimate/internal/logging"
	"penultimate/internal/model"
	"penultimate/internal/products"
)

func main() {
	cfgPath := flag.String("config", "configs/run.yaml", "Path to YAML or TOML config")
	modelName := flag.String("model", "", "Override architecture (densenet, resnet, wideresnet)")
	trainset := flag.String("trainset", "", "Override training set the checkpoint was fit on")
	gram := flag.Bool("gram", false, "Use the Gram variant of the architecture")
	modelsDir := flag.String("models-dir", "", "Override checkpoint directory")
	outDir := flag.String("out-dir", "", "Override products directory")
	dev := flag.String("device", "", "Override device (auto, cpu, gpu)")
	devRun := flag.Bool("dev-run", false, "Process only the first batches of every dataset")
	evaluate := flag.Bool("evaluate", false, "Score the model before extracting")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	logEvery := flag.Int("log-every", 0, "Log throughput every N batches")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		Model:     *modelName,
		Trainset:  *trainset,
		Gram:      *gram,
		ModelsDir: *modelsDir,
		OutDir:    *outDir,
		Device:    *dev,
		DevRun:    *devRun,
		Evaluate:  *evaluate,
		BatchSize: *batchSize,
		LogEvery:  *logEvery,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	closer, err := logging.Setup(cfg.LogFile)
	if err != nil {
		log.Fatalf("open log file: %v", err)
	}
	defer closer.Close()

	registry := model.NewRegistry(cfg.ModelsDir, cfg.DeviceConfig())
	clf, err := registry.Get(cfg.Model, cfg.Trainset, cfg.Gram)
	if err != nil {
		log.Fatalf("load model: %v", err)
	}
	defer clf.Release()

	norm := dataset.Identity
	if cfg.Normalization == config.NormalizeTrainset {
		if norm, err = dataset.NormalizationFor(cfg.Trainset); err != nil {
			log.Fatalf("normalization: %v", err)
		}
	}

	loaders := make([]extract.Named, 0, len(cfg.Datasets))
	byName := make(map[string]dataset.Loader, len(cfg.Datasets))
	for _, d := range cfg.Datasets {
		loader, err := dataset.NewShardLoader(d.Root, dataset.ShardOptions{
			BatchSize:     cfg.BatchSize,
			Normalization: norm,
		})
		if err != nil {
			log.Fatalf("dataset %s: %v", d.Name, err)
		}
		log.Printf("dataset=%s root=%s shards=%d examples=%d", d.Name, d.Root, len(loader.Shards()), loader.Len())
		loaders = append(loaders, extract.Named{Name: d.Name, Loader: loader})
		byName[d.Name] = loader
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := extract.Options{DevRun: cfg.DevRun, LogEvery: cfg.LogEvery}

	if cfg.Evaluate {
		if _, err := extract.Evaluate(ctx, clf, byName[cfg.EvalTrain], byName[cfg.EvalTest], opts); err != nil {
			log.Fatalf("evaluation failed: %v", err)
		}
	}

	saver := products.NewSaver()
	log.Printf("run_id=%s out_dir=%s", saver.RunID, cfg.OutDir)
	if err := extract.Baseline(ctx, clf, loaders, cfg.OutDir, saver.Save, opts); err != nil {
		log.Fatalf("extraction failed: %v", err)
	}
}
