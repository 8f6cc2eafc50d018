package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/DK-com2/GPV-gif/internal/grid"
	"github.com/DK-com2/GPV-gif/internal/render"
)

// AppConfig holds everything the pipeline consumes. The core never reads
// the environment itself; it only sees this parsed object.
type AppConfig struct {
	// Archive access.
	BaseURL   string
	UserAgent string

	// Run resolution.
	RunHours      []int
	DataDelay     time.Duration
	FallbackDepth int

	// Download behaviour.
	DownloadTimeout time.Duration
	MaxRetries      int
	RetryDelay      time.Duration // flat delay; the archive rate limits

	// Storage.
	RawDataDir     string
	ImagesDir      string
	LogDir         string
	AttemptHistory int // in-memory attempt records kept for the API

	// Decoding and rendering.
	Bounds        grid.Bounds
	ExpectedSteps int // 0 = accept whatever the file carries
	StepInterval  time.Duration
	FrameWidth    int
	FrameHeight   int
	Peaks         []render.Peak

	// Animation.
	FrameDuration time.Duration

	// Scheduling and serving.
	RefreshInterval time.Duration
	Port            string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{
		BaseURL:   getenvDefault("GPV_BASE_URL", "http://database.rish.kyoto-u.ac.jp/arch/jmadata/data/gpv/netcdf/MSM-S/"),
		UserAgent: getenvDefault("GPV_USER_AGENT", "gpv-gif/1.0"),

		FallbackDepth: getenvInt("GPV_FALLBACK_DEPTH", 4),
		MaxRetries:    getenvInt("GPV_MAX_RETRIES", 3),

		RawDataDir:     getenvDefault("GPV_RAW_DATA_DIR", "data/raw"),
		ImagesDir:      getenvDefault("GPV_IMAGES_DIR", "static/images"),
		LogDir:         getenvDefault("GPV_LOG_DIR", "logs"),
		AttemptHistory: getenvInt("GPV_ATTEMPT_HISTORY", 200),

		ExpectedSteps: getenvInt("GPV_EXPECTED_STEPS", 0),
		FrameWidth:    getenvInt("GPV_FRAME_WIDTH", 560),
		FrameHeight:   getenvInt("GPV_FRAME_HEIGHT", 420),

		Port: getenvDefault("PORT", "8080"),
	}

	var err error
	if cfg.RunHours, err = parseHours(getenvDefault("GPV_FORECAST_HOURS", "0,3,6,9,12,15,18,21")); err != nil {
		return nil, fmt.Errorf("invalid GPV_FORECAST_HOURS: %w", err)
	}
	if cfg.DataDelay, err = getenvDuration("GPV_DATA_DELAY", "2h"); err != nil {
		return nil, err
	}
	if cfg.DownloadTimeout, err = getenvDuration("GPV_DOWNLOAD_TIMEOUT", "120s"); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = getenvDuration("GPV_RETRY_DELAY", "10s"); err != nil {
		return nil, err
	}
	if cfg.StepInterval, err = getenvDuration("GPV_STEP_INTERVAL", "1h"); err != nil {
		return nil, err
	}
	if cfg.FrameDuration, err = getenvDuration("GPV_FRAME_DURATION", "500ms"); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval, err = getenvDuration("GPV_REFRESH_INTERVAL", "1h"); err != nil {
		return nil, err
	}

	cfg.Bounds = grid.Bounds{
		LatMin: getenvFloat("GPV_LAT_MIN", 33.5),
		LatMax: getenvFloat("GPV_LAT_MAX", 37.5),
		LonMin: getenvFloat("GPV_LON_MIN", 135.5),
		LonMax: getenvFloat("GPV_LON_MAX", 140),
	}
	if cfg.Bounds.LatMin >= cfg.Bounds.LatMax || cfg.Bounds.LonMin >= cfg.Bounds.LonMax {
		return nil, fmt.Errorf("invalid bounding box %+v", cfg.Bounds)
	}

	if cfg.Peaks, err = parsePeaks(os.Getenv("GPV_PEAKS")); err != nil {
		return nil, fmt.Errorf("invalid GPV_PEAKS: %w", err)
	}
	if len(cfg.Peaks) == 0 {
		cfg.Peaks = DefaultPeaks()
	}

	return cfg, nil
}

// DefaultPeaks lists the landmark summits drawn on the basemap when no
// override is configured.
func DefaultPeaks() []render.Peak {
	return []render.Peak{
		{Name: "Fuji", Lat: 35.3606, Lon: 138.7274},
		{Name: "Yari", Lat: 36.3421, Lon: 137.6477},
		{Name: "Hotaka", Lat: 36.2892, Lon: 137.6480},
		{Name: "Tateyama", Lat: 36.5786, Lon: 137.6212},
		{Name: "Hakuba", Lat: 36.7586, Lon: 137.7580},
		{Name: "Norikura", Lat: 36.1064, Lon: 137.5539},
		{Name: "Ontake", Lat: 35.8939, Lon: 137.4803},
		{Name: "Kiso-Komagatake", Lat: 35.7892, Lon: 137.8122},
		{Name: "Yatsugatake", Lat: 35.9708, Lon: 138.3685},
		{Name: "Kita", Lat: 35.6744, Lon: 138.2388},
		{Name: "Senjo", Lat: 35.7214, Lon: 138.1831},
		{Name: "Kai-Komagatake", Lat: 35.7522, Lon: 138.2367},
		{Name: "Myoko", Lat: 36.8886, Lon: 138.1136},
		{Name: "Haku", Lat: 36.1550, Lon: 136.7663},
		{Name: "Ibuki", Lat: 35.4175, Lon: 136.4061},
	}
}

// parseHours parses a comma-separated ascending hour set like "0,3,6,9".
func parseHours(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	hours := make([]int, 0, len(parts))
	prev := -1
	for _, p := range parts {
		h, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		if h < 0 || h > 23 {
			return nil, fmt.Errorf("hour %d out of range", h)
		}
		if h <= prev {
			return nil, fmt.Errorf("hours must be strictly ascending, got %s", s)
		}
		hours = append(hours, h)
		prev = h
	}
	if len(hours) == 0 {
		return nil, fmt.Errorf("empty hour set")
	}
	return hours, nil
}

// parsePeaks parses "Name:lat:lon,Name:lat:lon". Empty input yields nil.
func parsePeaks(s string) ([]render.Peak, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var peaks []render.Peak
	for _, item := range strings.Split(s, ",") {
		fields := strings.Split(strings.TrimSpace(item), ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("peak %q must be name:lat:lon", item)
		}
		lat, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, err
		}
		lon, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, err
		}
		peaks = append(peaks, render.Peak{Name: fields[0], Lat: lat, Lon: lon})
	}
	return peaks, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	v := getenvDefault(key, def)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
