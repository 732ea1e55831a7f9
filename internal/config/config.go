// Package config loads service configuration from an optional .env file, an
// optional YAML file and environment variables, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseUrl"`
	DBMigrate   bool   `yaml:"dbMigrate"`
	RedisURL    string `yaml:"redisUrl"`

	Cache CacheConfig `yaml:"cache"`
	Geo   GeoConfig   `yaml:"geo"`

	Routing RoutingConfig `yaml:"routing"`
	Solver  SolverConfig  `yaml:"solver"`
}

type CacheConfig struct {
	// Backend is one of memory, redis, sqlite.
	Backend     string        `yaml:"backend"`
	SQLitePath  string        `yaml:"sqlitePath"`
	GeocodeTTL  time.Duration `yaml:"geocodeTtl"`
	DepotTTL    time.Duration `yaml:"depotTtl"`
	MatrixTTL   time.Duration `yaml:"matrixTtl"`
}

type GeoConfig struct {
	// Geocoder is ors or nominatim; MatrixProvider is ors, osrm or haversine.
	Geocoder         string        `yaml:"geocoder"`
	MatrixProvider   string        `yaml:"matrixProvider"`
	ORSAPIKey        string        `yaml:"orsApiKey"`
	ORSBaseURL       string        `yaml:"orsBaseUrl"`
	OSRMBaseURL      string        `yaml:"osrmBaseUrl"`
	NominatimBaseURL string        `yaml:"nominatimBaseUrl"`
	AverageSpeedKph  float64       `yaml:"averageSpeedKph"`
	Concurrency      int           `yaml:"geocodeConcurrency"`
	BatchDelay       time.Duration `yaml:"geocodeBatchDelay"`
}

type RoutingConfig struct {
	MaxBatchSize       int    `yaml:"maxBatchSize"`
	ServiceTimeMinutes int    `yaml:"serviceTimeMinutes"`
	MinWindowMinutes   int    `yaml:"minWindowMinutes"`
	DepotOpen          string `yaml:"depotOpen"`
	DepotClose         string `yaml:"depotClose"`
	DropUngeocodable   bool   `yaml:"dropUngeocodable"`
	EnrichETA          bool   `yaml:"enrichEta"`
	ClusterParallelism int    `yaml:"clusterParallelism"`
}

type SolverConfig struct {
	// Kind is alns (in-process) or exec (external command).
	Kind       string        `yaml:"kind"`
	Command    string        `yaml:"command"`
	Timeout    time.Duration `yaml:"timeout"`
	TimeBudget time.Duration `yaml:"timeBudget"`
	Iterations int           `yaml:"iterations"`
	MaxWait    time.Duration `yaml:"maxWait"`
	Retries    int           `yaml:"retries"`
	Seed       int64         `yaml:"seed"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:      "8080",
		DBMigrate: true,
		Cache: CacheConfig{
			Backend:    "memory",
			SQLitePath: "viasync-cache.db",
			GeocodeTTL: 30 * 24 * time.Hour,
			DepotTTL:   5 * time.Minute,
			MatrixTTL:  24 * time.Hour,
		},
		Geo: GeoConfig{
			Geocoder:         "nominatim",
			MatrixProvider:   "haversine",
			ORSBaseURL:       "https://api.openrouteservice.org",
			OSRMBaseURL:      "https://router.project-osrm.org",
			NominatimBaseURL: "https://nominatim.openstreetmap.org",
			AverageSpeedKph:  40,
			Concurrency:      10,
			BatchDelay:       time.Second,
		},
		Routing: RoutingConfig{
			MaxBatchSize:       24,
			ServiceTimeMinutes: 10,
			MinWindowMinutes:   30,
			DepotOpen:          "07:00",
			DepotClose:         "23:59",
			EnrichETA:          true,
			ClusterParallelism: 2,
		},
		Solver: SolverConfig{
			Kind:       "alns",
			Timeout:    30 * time.Second,
			TimeBudget: 2 * time.Second,
			MaxWait:    30 * time.Minute,
			Seed:       1,
		},
	}
}

// Load builds the configuration. A missing .env file is not an error.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: .env not loaded: %v", err)
	}
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	// ORS becomes the default provider once a key is present.
	if cfg.Geo.ORSAPIKey != "" {
		if os.Getenv("GEOCODER") == "" && cfg.Geo.Geocoder == "nominatim" {
			cfg.Geo.Geocoder = "ors"
		}
		if os.Getenv("MATRIX_PROVIDER") == "" && cfg.Geo.MatrixProvider == "haversine" {
			cfg.Geo.MatrixProvider = "ors"
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	flag("DB_MIGRATE", &c.DBMigrate)
	str("REDIS_URL", &c.RedisURL)

	str("CACHE_BACKEND", &c.Cache.Backend)
	str("SQLITE_PATH", &c.Cache.SQLitePath)
	dur("GEOCODE_CACHE_TTL", &c.Cache.GeocodeTTL)
	dur("DEPOT_CACHE_TTL", &c.Cache.DepotTTL)
	dur("MATRIX_CACHE_TTL", &c.Cache.MatrixTTL)

	str("GEOCODER", &c.Geo.Geocoder)
	str("MATRIX_PROVIDER", &c.Geo.MatrixProvider)
	str("ORS_API_KEY", &c.Geo.ORSAPIKey)
	str("ORS_BASE_URL", &c.Geo.ORSBaseURL)
	str("OSRM_BASE_URL", &c.Geo.OSRMBaseURL)
	str("NOMINATIM_BASE_URL", &c.Geo.NominatimBaseURL)
	if v := strings.TrimSpace(os.Getenv("AVERAGE_SPEED_KPH")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("AVERAGE_SPEED_KPH: %w", err))
		} else {
			c.Geo.AverageSpeedKph = f
		}
	}
	num("GEOCODE_CONCURRENCY", &c.Geo.Concurrency)
	dur("GEOCODE_BATCH_DELAY", &c.Geo.BatchDelay)

	num("MAX_BATCH_SIZE", &c.Routing.MaxBatchSize)
	num("SERVICE_TIME_MINUTES", &c.Routing.ServiceTimeMinutes)
	num("MIN_WINDOW_MINUTES", &c.Routing.MinWindowMinutes)
	str("DEPOT_OPEN", &c.Routing.DepotOpen)
	str("DEPOT_CLOSE", &c.Routing.DepotClose)
	flag("DROP_UNGEOCODABLE", &c.Routing.DropUngeocodable)
	flag("ENRICH_ETA", &c.Routing.EnrichETA)
	num("CLUSTER_PARALLELISM", &c.Routing.ClusterParallelism)

	str("SOLVER", &c.Solver.Kind)
	str("SOLVER_COMMAND", &c.Solver.Command)
	dur("SOLVER_TIMEOUT", &c.Solver.Timeout)
	dur("SOLVER_TIME_BUDGET", &c.Solver.TimeBudget)
	num("SOLVER_ITERATIONS", &c.Solver.Iterations)
	dur("SOLVER_MAX_WAIT", &c.Solver.MaxWait)
	num("SOLVER_RETRIES", &c.Solver.Retries)

	return errors.Join(errs...)
}

// MatrixPointLimit is the most points one matrix request to provider may
// carry, or 0 when it has no cap.
func MatrixPointLimit(provider string) int {
	switch provider {
	case "ors":
		return 50
	case "osrm":
		return 80
	}
	return 0
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	switch c.Cache.Backend {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.RedisURL == "" {
		return errors.New("config: cache backend redis requires REDIS_URL")
	}
	switch c.Geo.Geocoder {
	case "ors", "nominatim":
	default:
		return fmt.Errorf("config: unknown geocoder %q", c.Geo.Geocoder)
	}
	switch c.Geo.MatrixProvider {
	case "ors", "osrm", "haversine":
	default:
		return fmt.Errorf("config: unknown matrix provider %q", c.Geo.MatrixProvider)
	}
	if (c.Geo.Geocoder == "ors" || c.Geo.MatrixProvider == "ors") && c.Geo.ORSAPIKey == "" {
		return errors.New("config: ORS provider requires ORS_API_KEY")
	}
	if c.Geo.AverageSpeedKph <= 0 {
		return errors.New("config: averageSpeedKph must be > 0")
	}
	if c.Geo.Concurrency < 1 {
		return errors.New("config: geocodeConcurrency must be >= 1")
	}
	if c.Routing.MaxBatchSize < 1 {
		return errors.New("config: maxBatchSize must be >= 1")
	}
	if limit := MatrixPointLimit(c.Geo.MatrixProvider); limit > 0 && c.Routing.MaxBatchSize+1 > limit {
		return fmt.Errorf("config: maxBatchSize %d plus the depot exceeds the %s matrix cap of %d points", c.Routing.MaxBatchSize, c.Geo.MatrixProvider, limit)
	}
	if c.Routing.ServiceTimeMinutes < 0 || c.Routing.MinWindowMinutes < 0 {
		return errors.New("config: serviceTimeMinutes and minWindowMinutes must be >= 0")
	}
	for _, v := range []string{c.Routing.DepotOpen, c.Routing.DepotClose} {
		if _, err := time.Parse("15:04", v); err != nil {
			return fmt.Errorf("config: invalid depot time %q", v)
		}
	}
	if c.Routing.ClusterParallelism < 1 {
		return errors.New("config: clusterParallelism must be >= 1")
	}
	switch c.Solver.Kind {
	case "alns":
	case "exec":
		if strings.TrimSpace(c.Solver.Command) == "" {
			return errors.New("config: solver exec requires SOLVER_COMMAND")
		}
	default:
		return fmt.Errorf("config: unknown solver %q", c.Solver.Kind)
	}
	if c.Solver.Timeout <= 0 {
		return errors.New("config: solver timeout must be > 0")
	}
	if c.Solver.Retries < 0 || c.Solver.Iterations < 0 {
		return errors.New("config: solver retries and iterations must be >= 0")
	}
	return nil
}
