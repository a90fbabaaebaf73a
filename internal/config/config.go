package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	OnnxRuntimeLib string
	Threads        int
	BatchSize      int
	CUDADevice     int
	LogDirectory   string
}

// Load reads envFile (if present) into the environment without overriding
// variables that are already set, then builds the Config.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		OnnxRuntimeLib: getEnv("ONNXRUNTIME_LIB", "onnxruntime.so"),
		Threads:        getEnvAsInt("SEGVIZ_THREADS", 0),
		BatchSize:      getEnvAsInt("SEGVIZ_BATCH_SIZE", 2),
		CUDADevice:     getEnvAsInt("SEGVIZ_CUDA_DEVICE", 0),
		LogDirectory:   getEnv("SEGVIZ_LOG_DIR", ""),
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("SEGVIZ_BATCH_SIZE must be positive, got %d", cfg.BatchSize)
	}
	if cfg.Threads < 0 {
		return nil, fmt.Errorf("SEGVIZ_THREADS must not be negative, got %d", cfg.Threads)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
