package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Index    IndexConfig    `yaml:"index"`
	Engine   EngineConfig   `yaml:"engine"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type IndexConfig struct {
	Dimension      int    `yaml:"dimension"`
	M              int    `yaml:"m"`
	EFConstruction int    `yaml:"ef_construction"`
	SnapshotPath   string `yaml:"snapshot_path"`
	WALDir         string `yaml:"wal_dir"`
}

type EngineConfig struct {
	ModelVersion         string  `yaml:"model_version"`
	CentroidAlgoVersion  int     `yaml:"centroid_algo_version"`
	PersonMatchThreshold float64 `yaml:"person_match_threshold"`
	AutoAssignThreshold  float64 `yaml:"auto_assign_threshold"`
	SuggestionThreshold  float64 `yaml:"suggestion_threshold"`
	CentroidScoreOffset  float64 `yaml:"centroid_score_offset"`
	MinClusterSize       int     `yaml:"min_cluster_size"`
	MinSamples           int     `yaml:"min_samples"`
	ClusterEpsilon       float64 `yaml:"cluster_epsilon"`
	CentroidTrimSmall    float64 `yaml:"centroid_trim_small"`
	CentroidTrimLarge    float64 `yaml:"centroid_trim_large"`
	MaxFacesPerRun       int     `yaml:"max_faces_per_cluster_run"`
	SuggestionMaxResults int     `yaml:"suggestion_max_results"`
	SuggestionBatchSize  int     `yaml:"suggestion_batch_size"`
	SuggestionWorkers    int     `yaml:"suggestion_workers"`
	MaxExemplars         int     `yaml:"max_exemplars"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Index.Dimension == 0 {
		cfg.Index.Dimension = 512
	}
	if cfg.Index.M == 0 {
		cfg.Index.M = 16
	}
	if cfg.Index.EFConstruction == 0 {
		cfg.Index.EFConstruction = 200
	}
	if cfg.Engine.ModelVersion == "" {
		cfg.Engine.ModelVersion = "w600k_r50"
	}
	if cfg.Engine.CentroidAlgoVersion == 0 {
		cfg.Engine.CentroidAlgoVersion = 1
	}
	if cfg.Engine.PersonMatchThreshold == 0 {
		cfg.Engine.PersonMatchThreshold = 0.70
	}
	if cfg.Engine.AutoAssignThreshold == 0 {
		cfg.Engine.AutoAssignThreshold = 0.83
	}
	if cfg.Engine.SuggestionThreshold == 0 {
		cfg.Engine.SuggestionThreshold = 0.62
	}
	if cfg.Engine.MinClusterSize == 0 {
		cfg.Engine.MinClusterSize = 3
	}
	if cfg.Engine.MinSamples == 0 {
		cfg.Engine.MinSamples = 2
	}
	if cfg.Engine.ClusterEpsilon == 0 {
		cfg.Engine.ClusterEpsilon = 0.30
	}
	if cfg.Engine.CentroidTrimSmall == 0 {
		cfg.Engine.CentroidTrimSmall = 0.05
	}
	if cfg.Engine.CentroidTrimLarge == 0 {
		cfg.Engine.CentroidTrimLarge = 0.10
	}
	if cfg.Engine.MaxFacesPerRun == 0 {
		cfg.Engine.MaxFacesPerRun = 20000
	}
	if cfg.Engine.SuggestionMaxResults == 0 {
		cfg.Engine.SuggestionMaxResults = 50
	}
	if cfg.Engine.SuggestionBatchSize == 0 {
		cfg.Engine.SuggestionBatchSize = 200
	}
	if cfg.Engine.SuggestionWorkers == 0 {
		cfg.Engine.SuggestionWorkers = 4
	}
	if cfg.Engine.MaxExemplars == 0 {
		cfg.Engine.MaxExemplars = 5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":8082"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FACEID_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FACEID_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FACEID_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FACEID_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FACEID_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FACEID_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FACEID_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FACEID_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FACEID_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FACEID_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FACEID_INDEX_SNAPSHOT"); v != "" {
		cfg.Index.SnapshotPath = v
	}
	if v := os.Getenv("FACEID_MODEL_VERSION"); v != "" {
		cfg.Engine.ModelVersion = v
	}
	if v := os.Getenv("FACEID_SUGGESTION_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.SuggestionWorkers = n
		}
	}
}
