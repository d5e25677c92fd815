package config

import "time"

// APIConfig holds runtime configuration for the analytics API service.
type APIConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	SnapshotInterval   time.Duration
	ActiveWindow       time.Duration
	EventBufferCap     int
	AlertListCap       int
	ErrorRateWarnPct   float64
	SystemLoadWarnPct  float64
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://pulse:pulse@db:5432/pulse?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		SnapshotInterval:   time.Duration(GetInt("SNAPSHOT_INTERVAL_MS", 2000)) * time.Millisecond,
		ActiveWindow:       time.Duration(GetInt("ACTIVE_WINDOW_SECONDS", 300)) * time.Second,
		EventBufferCap:     GetInt("EVENT_BUFFER_CAP", 1000),
		AlertListCap:       GetInt("ALERT_LIST_CAP", 20),
		ErrorRateWarnPct:   float64(GetInt("ERROR_RATE_WARN_PCT", 5)),
		SystemLoadWarnPct:  float64(GetInt("SYSTEM_LOAD_WARN_PCT", 90)),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}

// DashboardConfig holds configuration for the terminal dashboard consumer.
type DashboardConfig struct {
	APIBaseURL           string
	SocketURL            string
	Token                string
	PollInterval         time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	EnablePolling        bool
}

// LoadDashboardConfig constructs a DashboardConfig from environment variables.
func LoadDashboardConfig() DashboardConfig {
	return DashboardConfig{
		APIBaseURL:           GetString("PULSE_API_URL", "http://localhost:4000"),
		SocketURL:            GetString("PULSE_WS_URL", "ws://localhost:4000/ws/dashboard"),
		Token:                GetString("PULSE_TOKEN", ""),
		PollInterval:         time.Duration(GetInt("PULSE_POLL_SECONDS", 10)) * time.Second,
		ReconnectDelay:       time.Duration(GetInt("PULSE_RECONNECT_DELAY_MS", 3000)) * time.Millisecond,
		MaxReconnectAttempts: GetInt("PULSE_MAX_RECONNECT_ATTEMPTS", 5),
		EnablePolling:        GetBool("PULSE_ENABLE_POLLING", true),
	}
}
