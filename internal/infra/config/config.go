// internal/infra/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	BackendFirestore = "firestore"
	BackendMemory    = "memory"
)

// Config holds every environment-driven setting of the functions service.
type Config struct {
	Port                     string
	ProjectID                string
	FirestoreCredentialsFile string
	GCPCreds                 string
	StoreBackend             string
	BlobBucket               string

	LogLevel  string
	LogFormat string

	// Matchmaking
	PairSessionTTL   time.Duration
	QueueEntryTTL    time.Duration
	LimitedThrottle  time.Duration
	RequeueOnResolve bool
	CandidateLimit   int

	// Sweepers
	ExpiryPageSize  int
	CleanupPageSize int
	CleanupGrace    time.Duration
	SweepSchedule   string
	PurgeSchedule   string
	PurgeGrace      time.Duration

	HandlerTimeout time.Duration

	// Purchases
	PlayPackageName       string
	PlayCredentialsSecret string
	AllowTestPurchases    bool

	// Mail
	SendGridAPIKey       string
	SendGridAPIKeySecret string
	ModerationAlertFrom  string
	ModerationAlertTo    string
}

// Load reads the environment. Malformed numbers and durations fall back to
// their defaults; Validate reports what is structurally wrong.
func Load() *Config {
	defaultProject := firstNonEmpty(
		os.Getenv("FIRESTORE_PROJECT_ID"),
		os.Getenv("GCP_PROJECT_ID"),
		os.Getenv("GOOGLE_CLOUD_PROJECT"),
		os.Getenv("FIREBASE_PROJECT_ID"),
	)

	return &Config{
		Port:                     getenvDefault("PORT", "8080"),
		ProjectID:                defaultProject,
		FirestoreCredentialsFile: strings.TrimSpace(os.Getenv("FIRESTORE_CREDENTIALS_FILE")),
		GCPCreds:                 strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),
		StoreBackend:             strings.ToLower(getenvDefault("STORE_BACKEND", BackendFirestore)),
		BlobBucket:               strings.TrimSpace(os.Getenv("BLOB_BUCKET")),

		LogLevel:  getenvDefault("LOG_LEVEL", "info"),
		LogFormat: getenvDefault("LOG_FORMAT", "json"),

		PairSessionTTL:   getenvDuration("PAIR_SESSION_TTL", 10*time.Second),
		QueueEntryTTL:    getenvDuration("QUEUE_ENTRY_TTL", 5*time.Minute),
		LimitedThrottle:  getenvDuration("LIMITED_THROTTLE", 10*time.Minute),
		RequeueOnResolve: getenvBool("REQUEUE_ON_RESOLVE", true),
		CandidateLimit:   getenvInt("CANDIDATE_LIMIT", 20),

		ExpiryPageSize:  getenvInt("EXPIRY_PAGE_SIZE", 50),
		CleanupPageSize: getenvInt("CLEANUP_PAGE_SIZE", 200),
		CleanupGrace:    getenvDuration("CLEANUP_GRACE", 60*time.Second),
		SweepSchedule:   getenvDefault("SWEEP_SCHEDULE", "@every 1m"),
		PurgeSchedule:   getenvDefault("PURGE_SCHEDULE", "@every 6h"),
		PurgeGrace:      getenvDuration("PURGE_GRACE", 24*time.Hour),

		HandlerTimeout: getenvDuration("HANDLER_TIMEOUT", 60*time.Second),

		PlayPackageName:       strings.TrimSpace(os.Getenv("PLAY_PACKAGE_NAME")),
		PlayCredentialsSecret: strings.TrimSpace(os.Getenv("PLAY_CREDENTIALS_SECRET")),
		AllowTestPurchases:    getenvBool("ALLOW_TEST_PURCHASES", false),

		SendGridAPIKey:       strings.TrimSpace(os.Getenv("SENDGRID_API_KEY")),
		SendGridAPIKeySecret: strings.TrimSpace(os.Getenv("SENDGRID_API_KEY_SECRET")),
		ModerationAlertFrom:  strings.TrimSpace(os.Getenv("MODERATION_ALERT_FROM")),
		ModerationAlertTo:    strings.TrimSpace(os.Getenv("MODERATION_ALERT_TO")),
	}
}

// Validate fails fast on values that would make handlers misbehave.
// Optional integrations stay disabled when their settings are empty.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil")
	}
	switch c.StoreBackend {
	case BackendFirestore:
		if c.ProjectID == "" {
			return fmt.Errorf("config: project id is empty (set FIRESTORE_PROJECT_ID or GOOGLE_CLOUD_PROJECT)")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: STORE_BACKEND must be %q or %q (got %q)", BackendFirestore, BackendMemory, c.StoreBackend)
	}

	for name, d := range map[string]time.Duration{
		"PAIR_SESSION_TTL": c.PairSessionTTL,
		"QUEUE_ENTRY_TTL":  c.QueueEntryTTL,
		"LIMITED_THROTTLE": c.LimitedThrottle,
		"CLEANUP_GRACE":    c.CleanupGrace,
		"PURGE_GRACE":      c.PurgeGrace,
		"HANDLER_TIMEOUT":  c.HandlerTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive (got %s)", name, d)
		}
	}
	for name, n := range map[string]int{
		"CANDIDATE_LIMIT":   c.CandidateLimit,
		"EXPIRY_PAGE_SIZE":  c.ExpiryPageSize,
		"CLEANUP_PAGE_SIZE": c.CleanupPageSize,
	} {
		if n <= 0 || n > 500 {
			return fmt.Errorf("config: %s must be in 1..500 (got %d)", name, n)
		}
	}

	if (c.ModerationAlertFrom == "") != (c.ModerationAlertTo == "") {
		return fmt.Errorf("config: MODERATION_ALERT_FROM and MODERATION_ALERT_TO must be set together")
	}
	if strings.ContainsAny(c.BlobBucket, " \t\r\n") {
		return fmt.Errorf("config: BLOB_BUCKET contains whitespace (got %q)", c.BlobBucket)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
