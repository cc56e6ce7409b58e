package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nova-ml/internal/artifact"
	"nova-ml/internal/dataset"
	"nova-ml/internal/schema"
	"nova-ml/internal/train"
)

func main() {
	dataPath := flag.String("data", "", "path to the training CSV (headered)")
	target := flag.String("target", "", "target column name")
	task := flag.String("task", "classification", "task type: classification or regression")
	backend := flag.String("backend", "lightgbm", "boosting engine: lightgbm or xgboost")
	modelsDir := flag.String("out", "model_output", "model registry directory")
	version := flag.String("version", "1.0.0", "version stamp for the trained bundle")
	validation := flag.Float64("validation", 0.2, "holdout fraction for evaluation")
	seed := flag.Int64("seed", 42, "split shuffle seed")
	standardize := flag.Bool("standardize", false, "standardize features to zero mean, unit variance")
	activate := flag.Bool("activate", true, "activate the new version after training")

	iterations := flag.Int("iterations", 0, "boosting rounds (0 = engine default)")
	learningRate := flag.Float64("learning-rate", 0, "shrinkage rate (0 = engine default)")
	numLeaves := flag.Int("num-leaves", 0, "lightgbm leaves per tree (0 = default)")
	maxDepth := flag.Int("max-depth", 0, "xgboost tree depth (0 = default)")

	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	setupLogging(*logLevel)

	if *dataPath == "" || *target == "" {
		log.Fatal().Msg("-data and -target are required")
	}

	cfg := train.DefaultConfig()
	cfg.Target = *target
	cfg.Task = schema.TaskType(*task)
	cfg.Backend = schema.BackendID(*backend)
	cfg.ValidationRatio = *validation
	cfg.Seed = *seed
	cfg.Standardize = *standardize
	cfg.ModelVersion = *version
	if *iterations > 0 {
		cfg.LightGBM.NumIterations = *iterations
		cfg.XGBoost.NumRound = *iterations
	}
	if *learningRate > 0 {
		cfg.LightGBM.LearningRate = *learningRate
		cfg.XGBoost.Eta = *learningRate
	}
	if *numLeaves > 0 {
		cfg.LightGBM.NumLeaves = *numLeaves
	}
	if *maxDepth > 0 {
		cfg.LightGBM.MaxDepth = *maxDepth
		cfg.XGBoost.MaxDepth = *maxDepth
	}

	frame, err := dataset.LoadCSV(*dataPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *dataPath).Msg("failed to load dataset")
	}
	log.Info().Int("rows", frame.NumRows()).Int("columns", len(frame.Headers())).Msg("dataset loaded")

	result, err := train.Run(frame, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("training failed")
	}

	registry, err := artifact.OpenRegistry(*modelsDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", *modelsDir).Msg("failed to open model registry")
	}
	v, err := registry.Add(result.Bundle)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to save bundle")
	}
	if *activate {
		if err := registry.Activate(v.Version); err != nil {
			log.Fatal().Err(err).Msg("failed to activate version")
		}
	}

	log.Info().
		Str("version", v.Version).
		Str("path", v.Path).
		Bool("active", *activate).
		Msg("bundle packaged")
}

func setupLogging(levelName string) {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
