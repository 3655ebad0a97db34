// Package config centralises environment-driven settings for the engine: a
// typed struct with os.Getenv-backed defaults, loaded once at startup.
package config

import (
	"os"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Settings holds every TITAN_* environment override plus its default. YAML
// tags let an operator seed the same fields from a file (see loadYAMLFile)
// for environments that prefer a checked-in config over exported env vars.
type Settings struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	TokenExpHours int    `yaml:"token_exp_hours"`
	JWTAlgorithm  string `yaml:"jwt_algorithm"`
	JWTIssuer     string `yaml:"jwt_issuer"`

	UvicornWorkers      int `yaml:"uvicorn_workers"`
	ThreadsPerWorker    int `yaml:"threads_per_worker"`
	SemaphoreMultiplier int `yaml:"semaphore_multiplier"`
	MaxQueueCapacity    int `yaml:"max_queue_capacity"`
	MintSlotTimeoutSec  int `yaml:"mint_slot_timeout_sec"`

	MaxChallenges      int `yaml:"max_challenges"`
	ChallengeTTL       int `yaml:"challenge_ttl_sec"`
	MintFlushThreshold int `yaml:"mint_flush_threshold"`

	Version  string `yaml:"version"`
	CADBPath string `yaml:"ca_db_path"`
}

const (
	defaultHost               = "0.0.0.0"
	defaultPort               = 8000
	defaultTokenExpHours      = 24
	defaultJWTAlgorithm       = "ES256"
	defaultJWTIssuer          = "titan-intra-service-auth-v6"
	defaultUvicornWorkers     = 1
	defaultThreadsPerWorker   = 32
	defaultSemaphoreMult      = 2
	defaultMaxQueueCapacity   = 20000
	defaultMintSlotTimeoutSec = 30
	defaultMaxChallenges      = 50000
	defaultChallengeTTLSec    = 60
	defaultMintFlushThreshold = 5
	defaultVersion            = "6.0.0-go"
	defaultCADBPath           = "data/ca_zkp.db"
)

// Load reads Settings from the documented hardcoded defaults, then a YAML
// file named by TITAN_CONFIG_FILE if set, then individual TITAN_* env vars
// — each layer overriding only the fields it sets, env vars winning last.
func Load() Settings {
	s := Settings{
		Host:                defaultHost,
		Port:                defaultPort,
		TokenExpHours:       defaultTokenExpHours,
		JWTAlgorithm:        defaultJWTAlgorithm,
		JWTIssuer:           defaultJWTIssuer,
		UvicornWorkers:      defaultUvicornWorkers,
		ThreadsPerWorker:    defaultThreadsPerWorker,
		SemaphoreMultiplier: defaultSemaphoreMult,
		MaxQueueCapacity:    defaultMaxQueueCapacity,
		MintSlotTimeoutSec:  defaultMintSlotTimeoutSec,
		MaxChallenges:       defaultMaxChallenges,
		ChallengeTTL:        defaultChallengeTTLSec,
		MintFlushThreshold:  defaultMintFlushThreshold,
		Version:             defaultVersion,
		CADBPath:            defaultCADBPath,
	}

	if path := os.Getenv("TITAN_CONFIG_FILE"); path != "" {
		loadYAMLFile(path, &s)
	}

	s.Host = getEnv("TITAN_HOST", s.Host)
	s.Port = getEnvInt("TITAN_PORT", s.Port)
	s.TokenExpHours = getEnvInt("TITAN_TOKEN_EXP_HOURS", s.TokenExpHours)
	s.JWTAlgorithm = getEnv("TITAN_JWT_ALGORITHM", s.JWTAlgorithm)
	s.UvicornWorkers = getEnvInt("TITAN_UVCORN_WORKERS", s.UvicornWorkers)
	s.ThreadsPerWorker = getEnvInt("TITAN_THREADS_PER_WORKER", s.ThreadsPerWorker)
	s.MaxQueueCapacity = getEnvInt("TITAN_MAX_QUEUE_CAPACITY", s.MaxQueueCapacity)
	s.Version = getEnv("TITAN_VERSION", s.Version)
	s.CADBPath = getEnv("TITAN_CA_DB_PATH", s.CADBPath)
	return s
}

// loadYAMLFile unmarshals path onto s, leaving s unchanged if the file is
// missing or malformed; config-file problems are not fatal since every
// field already carries a hardcoded default.
func loadYAMLFile(path string, s *Settings) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_ = yaml.Unmarshal(data, s)
}

// Slots returns the signing executor's total permit count:
// THREADS_PER_WORKER * SEMAPHORE_MULTIPLIER.
func (s Settings) Slots() int64 {
	return int64(s.ThreadsPerWorker * s.SemaphoreMultiplier)
}

// Backlog returns the platform-tuned accept backlog.
func Backlog() int {
	if runtime.GOOS == "windows" {
		return 2048
	}
	return 4096
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
