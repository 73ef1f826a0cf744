package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration for our application
type Config struct {
	Port                      string
	Origin                    string
	Environment               string
	JWTSecret                 string
	JWTRefreshSecret          string
	Database                  DatabaseConfig
	Compliance                ComplianceConfig
	JWTExpirationHours        int
	JWTRefreshExpirationHours int
}

// DatabaseConfig holds database connection details
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Name     string
	SSLMode  string
	DSN      string
}

// ComplianceConfig holds the over-compliance review thresholds. These are
// product policy, not derived from the data model, so they stay configurable.
type ComplianceConfig struct {
	WarnPct  float64 // above this, flag as over-compliance warning
	ErrorPct float64 // above this, flag as likely data-entry error
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load database configuration
	dbConfig := DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		Username: getEnv("DB_USERNAME", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "ctms"),
		SSLMode:  getEnv("DB_SSLMODE", "require"),
	}

	// Build DSN (Data Source Name) for the Postgres connection
	dbConfig.DSN = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		dbConfig.Host, dbConfig.Username, dbConfig.Password, dbConfig.Name, dbConfig.Port, dbConfig.SSLMode)

	jwtExpHours, err := strconv.Atoi(getEnv("JWT_EXPIRATION_HOURS", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRATION_HOURS: %w", err)
	}

	jwtRefreshExpHours, err := strconv.Atoi(getEnv("JWT_REFRESH_EXPIRATION_HOURS", "168")) // 7 days
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_REFRESH_EXPIRATION_HOURS: %w", err)
	}

	warnPct, err := strconv.ParseFloat(getEnv("COMPLIANCE_WARN_PCT", "120"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid COMPLIANCE_WARN_PCT: %w", err)
	}

	errorPct, err := strconv.ParseFloat(getEnv("COMPLIANCE_ERROR_PCT", "200"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid COMPLIANCE_ERROR_PCT: %w", err)
	}

	// Return complete configuration
	return &Config{
		Port:                      getEnv("PORT", "3001"),
		Origin:                    getEnv("ORIGIN", "http://localhost:4200"),
		Environment:               getEnv("APP_ENV", "development"),
		JWTSecret:                 getEnv("JWT_SECRET", "default_jwt_secret"),
		JWTRefreshSecret:          getEnv("JWT_REFRESH_SECRET", "default_refresh_secret"),
		Database:                  dbConfig,
		Compliance:                ComplianceConfig{WarnPct: warnPct, ErrorPct: errorPct},
		JWTExpirationHours:        jwtExpHours,
		JWTRefreshExpirationHours: jwtRefreshExpHours,
	}, nil
}

// Helper function to get environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
