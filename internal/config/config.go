package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	DatabaseURL    string
	UseMemoryQueue bool
	WorkerCount    int

	// Dispatch queue + retry policy
	DispatchQueueURL  string
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RequeueInterval   time.Duration
	ProviderTimeout   time.Duration

	// WhatsApp
	WhatsAppEnable     bool
	WhatsAppProvider   string
	CountryCallingCode string
	MetaPhoneNumberID  string
	MetaAccessToken    string
	MetaAppSecret      string
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioWhatsAppFrom string

	// Email
	EmailEnable       bool
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESFromName       string

	// AWS (SQS queue, SES email)
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	AdminJWTSecret string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),

		DispatchQueueURL:  getEnv("DISPATCH_QUEUE_URL", ""),
		RetryMaxAttempts:  getEnvAsInt("RETRY_MAX_ATTEMPTS", 5),
		RetryInitialDelay: getEnvAsDuration("RETRY_INITIAL_DELAY", time.Second),
		RetryMaxDelay:     getEnvAsDuration("RETRY_MAX_DELAY", 10*time.Minute),
		RequeueInterval:   getEnvAsDuration("REQUEUE_INTERVAL", 30*time.Second),
		ProviderTimeout:   getEnvAsDuration("PROVIDER_TIMEOUT", 20*time.Second),

		WhatsAppEnable:     getEnvAsBool("WABA_ENABLE", false),
		WhatsAppProvider:   strings.ToLower(strings.TrimSpace(getEnv("WABA_PROVIDER", "meta"))),
		CountryCallingCode: getEnv("COUNTRY_CALLING_CODE", "91"),
		MetaPhoneNumberID:  getEnv("WABA_PHONE_NUMBER_ID", ""),
		MetaAccessToken:    getEnv("WABA_TOKEN", ""),
		MetaAppSecret:      getEnv("WABA_APP_SECRET", ""),
		TwilioAccountSID:   getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:    getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioWhatsAppFrom: getEnv("TWILIO_WHATSAPP_FROM", "whatsapp:+14155238886"),

		EmailEnable:       getEnvAsBool("EMAIL_ENABLE", false),
		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "sendgrid"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "DocShare"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "DocShare"),

		AWSRegion:           getEnv("AWS_REGION", "ap-south-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
