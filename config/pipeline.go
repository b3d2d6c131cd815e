package config

import (
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	pipelineOnce   sync.Once
	pipelineConfig *PipelineConfig
)

// PipelineConfig holds every tunable of the extraction pipeline. All values
// are externally supplied (env vars, optionally overlaid by a YAML file named
// in PIPELINE_CONFIG_FILE) so they can change without redeploying logic.
type PipelineConfig struct {
	MaxFileSize     int64         `yaml:"maxFileSize"`     // upload ceiling per file, bytes
	MaxPDFPages     int           `yaml:"maxPdfPages"`     // pages beyond this are silently dropped
	RasterScale     float64       `yaml:"rasterScale"`     // render scale, 1.0 = 72 DPI
	ThumbnailScale  float64       `yaml:"thumbnailScale"`  // preview render scale
	JPEGQuality     int           `yaml:"jpegQuality"`     // page image encode quality
	ThumbQuality    int           `yaml:"thumbQuality"`    // thumbnail encode quality
	RateWindow      time.Duration `yaml:"rateWindow"`      // sliding rate-limit window
	RateCeiling     int           `yaml:"rateCeiling"`     // admitted requests per window per client
	EngineTimeout   time.Duration `yaml:"engineTimeout"`   // per recognition call
	MaxPayloadBytes int64         `yaml:"maxPayloadBytes"` // primary backend payload bound
	ResultTTL       time.Duration `yaml:"resultTTL"`       // retention of transient status/result records
}

// GetPipelineConfig returns the process-wide pipeline configuration.
func GetPipelineConfig() *PipelineConfig {
	pipelineOnce.Do(func() {
		loadDotEnv()

		cfg := &PipelineConfig{
			MaxFileSize:     8 * 1024 * 1024,
			MaxPDFPages:     10,
			RasterScale:     2.0,
			ThumbnailScale:  1.0,
			JPEGQuality:     80,
			ThumbQuality:    70,
			RateWindow:      time.Minute,
			RateCeiling:     10,
			EngineTimeout:   45 * time.Second,
			MaxPayloadBytes: 50 * 1024 * 1024,
			ResultTTL:       time.Hour,
		}

		cfg.MaxFileSize = envInt64("PIPELINE_MAX_FILE_SIZE", cfg.MaxFileSize)
		cfg.MaxPDFPages = envInt("PIPELINE_MAX_PDF_PAGES", cfg.MaxPDFPages)
		cfg.RasterScale = envFloat("PIPELINE_RASTER_SCALE", cfg.RasterScale)
		cfg.ThumbnailScale = envFloat("PIPELINE_THUMBNAIL_SCALE", cfg.ThumbnailScale)
		cfg.JPEGQuality = envInt("PIPELINE_JPEG_QUALITY", cfg.JPEGQuality)
		cfg.ThumbQuality = envInt("PIPELINE_THUMB_QUALITY", cfg.ThumbQuality)
		cfg.RateWindow = envDuration("PIPELINE_RATE_WINDOW", cfg.RateWindow)
		cfg.RateCeiling = envInt("PIPELINE_RATE_CEILING", cfg.RateCeiling)
		cfg.EngineTimeout = envDuration("PIPELINE_ENGINE_TIMEOUT", cfg.EngineTimeout)
		cfg.MaxPayloadBytes = envInt64("PIPELINE_MAX_PAYLOAD_BYTES", cfg.MaxPayloadBytes)
		cfg.ResultTTL = envDuration("PIPELINE_RESULT_TTL", cfg.ResultTTL)

		if path := os.Getenv("PIPELINE_CONFIG_FILE"); path != "" {
			if err := overlayYAML(path, cfg); err != nil {
				log.Printf("Warning: failed to load %s: %v", path, err)
			}
		}

		pipelineConfig = cfg
	})
	return pipelineConfig
}

func overlayYAML(path string, cfg *PipelineConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

var dotEnvOnce sync.Once

func loadDotEnv() {
	dotEnvOnce.Do(func() {
		_, filename, _, _ := runtime.Caller(0)
		rootDir := filepath.Dir(filepath.Dir(filename))
		envPath := filepath.Join(rootDir, ".env")

		if err := godotenv.Load(envPath); err != nil {
			log.Printf("Warning: .env file not found at %s, falling back to environment variables", envPath)
		}
	})
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
