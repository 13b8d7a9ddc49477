// Package config loads and validates the enumerated configuration surface
// of SPEC_FULL §6, generalizing the teacher's flat Config-struct-plus-getEnv
// pattern to the chat core's larger surface.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// StoreKind selects the StateStore/Transport backing.
type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreRedis  StoreKind = "redis"
)

// Config holds every enumerated configuration value from §6 (namespace,
// historyMaxMessages, useRawErrorObjects, the three feature gates,
// closeTimeout, store/transport selection), this expansion's three
// additions (enablePushNotifications, busAckTimeout, attachmentsMaxBytes),
// and the ambient values (addresses, auth secret) carried over from the
// teacher's deployment surface.
type Config struct {
	Namespace             string
	HistoryMaxMessages    int
	UseRawErrorObjects    bool
	EnableUserlistUpdates bool
	EnableRoomsManagement bool
	EnableDirectMessages  bool
	CloseTimeout          time.Duration

	EnablePushNotifications bool
	BusAckTimeout           time.Duration
	AttachmentsMaxBytes     int64

	// AuthMode selects the onConnect AuthHook: "query" (default, §6's
	// handshake "user" query parameter) or "credentials" (password+TOTP,
	// internal/authhook.CredentialHook).
	AuthMode string

	Store     StoreKind
	RedisAddr string

	ListenAddr string
	AdminAddr  string
	BaseURL    string

	UploadsPath string
	AuthSecret  string
	TokenExpiry time.Duration

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string
}

// Load reads configuration from the environment, applying the spec's
// defaults for anything unset. cliMode relaxes AuthSecret's requirement,
// matching the teacher's "add-user" CLI bypass.
func Load(cliMode bool) (*Config, error) {
	closeTimeout, err := time.ParseDuration(getEnv("CLOSE_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("CLOSE_TIMEOUT: %w", err)
	}
	busAckTimeout, err := time.ParseDuration(getEnv("BUS_ACK_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("BUS_ACK_TIMEOUT: %w", err)
	}
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, fmt.Errorf("TOKEN_EXPIRY: %w", err)
	}
	attachmentsMaxBytes, err := strconv.ParseInt(getEnv("ATTACHMENTS_MAX_BYTES", "5242880"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ATTACHMENTS_MAX_BYTES: %w", err)
	}
	historyMax, err := strconv.Atoi(getEnv("HISTORY_MAX_MESSAGES", "100"))
	if err != nil {
		return nil, fmt.Errorf("HISTORY_MAX_MESSAGES: %w", err)
	}

	cfg := &Config{
		Namespace:             getEnv("NAMESPACE", "/chat-service"),
		HistoryMaxMessages:    historyMax,
		UseRawErrorObjects:    getBool("USE_RAW_ERROR_OBJECTS", false),
		EnableUserlistUpdates: getBool("ENABLE_USERLIST_UPDATES", false),
		EnableRoomsManagement: getBool("ENABLE_ROOMS_MANAGEMENT", false),
		EnableDirectMessages:  getBool("ENABLE_DIRECT_MESSAGES", false),
		CloseTimeout:          closeTimeout,

		EnablePushNotifications: getBool("ENABLE_PUSH_NOTIFICATIONS", false),
		BusAckTimeout:           busAckTimeout,
		AttachmentsMaxBytes:     attachmentsMaxBytes,
		AuthMode:                getEnv("AUTH_MODE", "query"),

		Store:     StoreKind(getEnv("STORE", string(StoreMemory))),
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),

		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
		AdminAddr:  getEnv("ADMIN_ADDR", "localhost:8081"),
		BaseURL:    getEnv("BASE_URL", "http://localhost:8080"),

		UploadsPath: getEnv("UPLOADS_PATH", "uploads"),
		AuthSecret:  os.Getenv("AUTH_SECRET"),
		TokenExpiry: tokenExpiry,

		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubscriber: getEnv("VAPID_SUBSCRIBER", "mailto:admin@example.com"),
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration for internal consistency.
func (c *Config) Validate(cliMode bool) error {
	if c.AuthSecret == "" && !cliMode {
		return fmt.Errorf("AUTH_SECRET is required")
	}
	if c.Store != StoreMemory && c.Store != StoreRedis {
		return fmt.Errorf("STORE must be %q or %q, got %q", StoreMemory, StoreRedis, c.Store)
	}
	if c.AuthMode != "query" && c.AuthMode != "credentials" {
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", "query", "credentials", c.AuthMode)
	}
	if c.CloseTimeout <= 0 {
		return fmt.Errorf("CLOSE_TIMEOUT must be greater than 0")
	}
	if c.BusAckTimeout <= 0 {
		return fmt.Errorf("BUS_ACK_TIMEOUT must be greater than 0")
	}
	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}
	if c.HistoryMaxMessages <= 0 {
		return fmt.Errorf("HISTORY_MAX_MESSAGES must be greater than 0")
	}
	if c.AttachmentsMaxBytes <= 0 {
		return fmt.Errorf("ATTACHMENTS_MAX_BYTES must be greater than 0")
	}
	if c.EnablePushNotifications && (c.VAPIDPublicKey == "" || c.VAPIDPrivateKey == "") {
		return fmt.Errorf("ENABLE_PUSH_NOTIFICATIONS requires VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
