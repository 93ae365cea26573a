package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	MinBatchSize = 1
	MaxBatchSize = 100
)

// ServerConfig configures the branch reconciliation server.
type ServerConfig struct {
	Port                  string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	RabbitMQURL           string
	AuthSecret            string
	AccessTokenTTLMinutes int
	LedgerRetentionDays   int
	LogLevel              string
	LogFormat             string
}

// AgentConfig configures the terminal sync agent.
type AgentConfig struct {
	Port             string
	ServerURL        string
	TerminalID       string
	TerminalSecret   string
	BranchID         string
	DataDir          string
	BatchSize        int
	SyncIntervalSec  int
	ProbeIntervalSec int
	RequestTimeout   time.Duration
	QueueRetention   time.Duration
	BacklogCap       int
	RabbitMQURL      string
	LogLevel         string
	LogFormat        string
}

func LoadServer() ServerConfig {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 720)
	if tokenTTL < 1 {
		tokenTTL = 720
	}
	retention := getEnvInt("LEDGER_RETENTION_DAYS", 45)
	if retention < 30 {
		// The ledger must outlive the longest plausible offline window
		// plus replays from stale terminals.
		retention = 30
	}

	return ServerConfig{
		Port:                  getEnv("PORT", "8080"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		RabbitMQURL:           os.Getenv("RABBITMQ_URL"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		LedgerRetentionDays:   retention,
		LogLevel:              getEnv("LOG_LEVEL", "INFO"),
		LogFormat:             getEnv("LOG_FORMAT", "TEXT"),
	}
}

func LoadAgent() AgentConfig {
	_ = godotenv.Load()

	batchSize := getEnvInt("BATCH_SIZE", 10)
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	} else if batchSize < MinBatchSize {
		batchSize = MinBatchSize
	}

	syncInterval := getEnvInt("SYNC_INTERVAL_SEC", 30)
	if syncInterval < 1 {
		syncInterval = 30
	}
	probeInterval := getEnvInt("PROBE_INTERVAL_SEC", 10)
	if probeInterval < 1 {
		probeInterval = 10
	}
	timeout := getEnvInt("REQUEST_TIMEOUT_SEC", 30)
	if timeout < 1 {
		timeout = 30
	}
	retentionHours := getEnvInt("QUEUE_RETENTION_HOURS", 72)
	if retentionHours < 1 {
		retentionHours = 72
	}
	backlogCap := getEnvInt("BACKLOG_ALERT_CAP", 500)
	if backlogCap < 1 {
		backlogCap = 500
	}

	return AgentConfig{
		Port:             getEnv("AGENT_PORT", "8090"),
		ServerURL:        getEnv("SERVER_URL", "http://127.0.0.1:8080"),
		TerminalID:       getEnv("TERMINAL_ID", "till-1"),
		TerminalSecret:   os.Getenv("TERMINAL_SECRET"),
		BranchID:         getEnv("BRANCH_ID", "branch-1"),
		DataDir:          getEnv("DATA_DIR", "./data"),
		BatchSize:        batchSize,
		SyncIntervalSec:  syncInterval,
		ProbeIntervalSec: probeInterval,
		RequestTimeout:   time.Duration(timeout) * time.Second,
		QueueRetention:   time.Duration(retentionHours) * time.Hour,
		BacklogCap:       backlogCap,
		RabbitMQURL:      os.Getenv("RABBITMQ_URL"),
		LogLevel:         getEnv("LOG_LEVEL", "INFO"),
		LogFormat:        getEnv("LOG_FORMAT", "TEXT"),
	}
}

func (c ServerConfig) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c AgentConfig) Address() string {
	return fmt.Sprintf("127.0.0.1:%s", c.Port)
}

func getEnv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}
