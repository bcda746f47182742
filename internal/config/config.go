package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Transport.
	TransportTimeout time.Duration
	CleanupGrace     time.Duration
	UserAgent        string

	// Location.
	LocationProvider string
	WatchInterval    time.Duration
	Sensor           *SensorConfig

	// Geocoding credentials and tuning.
	GeonamesUsername   string
	FlickrAPIKey       string
	MapboxToken        string
	GoogleMapsAPIKey   string
	NominatimRateLimit float64
	CacheSize          int
	CacheH3Resolution  int

	// Per-provider overrides read from PROVIDERS_FILE.
	Providers map[string]ProviderOverride

	// Enrichment pipeline.
	KafkaEnabled       bool
	KafkaBrokers       []string
	KafkaSourceTopic   string
	KafkaSinkTopic     string
	KafkaGroupID       string
	BatchSize          int
	BatchFlushInterval time.Duration
	EnrichConcurrency  int
}

// SensorConfig is the fixed fix reported by the static sensor.
type SensorConfig struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// ProviderOverride adjusts one registered provider.
type ProviderOverride struct {
	URL       string  `yaml:"url"`
	Disabled  bool    `yaml:"disabled"`
	RateLimit float64 `yaml:"rate_limit"`
}

type providersFile struct {
	Providers map[string]ProviderOverride `yaml:"providers"`
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	transportTimeout, err := parseDuration("TRANSPORT_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	cleanupGrace, err := parseDuration("TRANSPORT_CLEANUP_GRACE", "120s")
	if err != nil {
		return nil, err
	}
	if cleanupGrace <= transportTimeout {
		return nil, errors.New("TRANSPORT_CLEANUP_GRACE must exceed TRANSPORT_TIMEOUT")
	}
	watchInterval, err := parseDuration("WATCH_INTERVAL", "1s")
	if err != nil {
		return nil, err
	}
	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}
	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}
	concurrency, err := parseInt("ENRICH_CONCURRENCY", 8, 1, 256)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parseInt("GEOCODE_CACHE_SIZE", 1000, 0, 1_000_000)
	if err != nil {
		return nil, err
	}
	resolution, err := parseInt("GEOCODE_CACHE_H3_RESOLUTION", 12, 1, 15)
	if err != nil {
		return nil, err
	}
	nominatimRate, err := parseFloat("NOMINATIM_RATE_LIMIT", 1)
	if err != nil {
		return nil, err
	}
	sensor, err := parseSensor()
	if err != nil {
		return nil, err
	}
	providers, err := loadProviders(os.Getenv("PROVIDERS_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		TransportTimeout: transportTimeout,
		CleanupGrace:     cleanupGrace,
		UserAgent:        sharedcfg.EnvOrDefault("USER_AGENT", "geoposition-service/1.0"),

		LocationProvider: os.Getenv("LOCATION_PROVIDER"),
		WatchInterval:    watchInterval,
		Sensor:           sensor,

		GeonamesUsername:   sharedcfg.EnvOrDefault("GEONAMES_USERNAME", "demo"),
		FlickrAPIKey:       os.Getenv("FLICKR_API_KEY"),
		MapboxToken:        os.Getenv("MAPBOX_TOKEN"),
		GoogleMapsAPIKey:   os.Getenv("GOOGLE_MAPS_API_KEY"),
		NominatimRateLimit: nominatimRate,
		CacheSize:          cacheSize,
		CacheH3Resolution:  resolution,

		Providers: providers,

		KafkaEnabled:       os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "position-requests"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "enriched-positions"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "geoposition-service"),
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
		EnrichConcurrency:  concurrency,
	}

	if cfg.KafkaEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaSourceTopic == "" {
			return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
		}
		if cfg.KafkaSinkTopic == "" {
			return nil, errors.New("KAFKA_SINK_TOPIC is required")
		}
	}

	return cfg, nil
}

// Provider returns the override for name, or the zero value.
func (c *Config) Provider(name string) ProviderOverride {
	return c.Providers[name]
}

// Enabled reports whether name was not disabled in PROVIDERS_FILE.
func (c *Config) Enabled(name string) bool {
	return !c.Providers[name].Disabled
}

func parseSensor() (*SensorConfig, error) {
	lat, lon := os.Getenv("SENSOR_LATITUDE"), os.Getenv("SENSOR_LONGITUDE")
	if lat == "" && lon == "" {
		return nil, nil
	}
	if lat == "" || lon == "" {
		return nil, errors.New("SENSOR_LATITUDE and SENSOR_LONGITUDE must be set together")
	}

	s := &SensorConfig{}
	var err error
	if s.Latitude, err = strconv.ParseFloat(lat, 64); err != nil || s.Latitude < -90 || s.Latitude > 90 {
		return nil, errors.New("invalid SENSOR_LATITUDE")
	}
	if s.Longitude, err = strconv.ParseFloat(lon, 64); err != nil || s.Longitude < -180 || s.Longitude > 180 {
		return nil, errors.New("invalid SENSOR_LONGITUDE")
	}
	if s.Accuracy, err = parseFloat("SENSOR_ACCURACY", 0); err != nil {
		return nil, err
	}
	return s, nil
}

func loadProviders(path string) (map[string]ProviderOverride, error) {
	if path == "" {
		return map[string]ProviderOverride{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read PROVIDERS_FILE: %w", err)
	}
	var f providersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse PROVIDERS_FILE: %w", err)
	}
	if f.Providers == nil {
		f.Providers = map[string]ProviderOverride{}
	}
	for name, p := range f.Providers {
		if p.RateLimit < 0 {
			return nil, fmt.Errorf("PROVIDERS_FILE: negative rate_limit for %s", name)
		}
	}
	return f.Providers, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be between %d and %d", key, lo, hi)
	}
	return n, nil
}

func parseFloat(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return f, nil
}
