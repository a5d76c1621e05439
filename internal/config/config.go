package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const (
	ProviderGroq   = "groq"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

type Config struct {
	HTTPPort  string
	LogLevel  string
	LogFormat string

	DatabaseURL string

	LLMProvider   string
	LLMModel      string
	GroqAPIKey    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string

	GoogleClientID     string
	GoogleClientSecret string
	OAuthRedirectURL   string

	SessionSecret string
	SessionMaxAge int
	CookieSecure  bool

	CatalogPath    string
	UploadDir      string
	MaxUploadBytes int64

	CORSOrigins []string
}

var AppConfig Config

var defaultCORSOrigins = []string{
	"http://localhost",
	"http://localhost:8000",
	"http://localhost:8500",
	"http://127.0.0.1:8500",
}

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = FromEnv()

	if err := AppConfig.Validate(); err != nil {
		log.Fatal(err)
	}
	if AppConfig.LLMAPIKey() == "" {
		log.Warnf("No API key configured for LLM provider %q; chat replies will report technical difficulties", AppConfig.LLMProvider)
	}
}

// FromEnv builds a Config from the process environment without validating it.
func FromEnv() Config {
	return Config{
		HTTPPort:  getEnv("HTTP_PORT", getEnv("PORT", "8080")),
		LogLevel:  getEnv("LOG_LEVEL", "INFO"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DatabaseURL: getEnv("DATABASE_URL", "car_diagnostics.db"),

		LLMProvider:   strings.ToLower(getEnv("LLM_PROVIDER", ProviderGroq)),
		LLMModel:      getEnv("LLM_MODEL", ""),
		GroqAPIKey:    getEnv("GROQ_API_KEY", ""),
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		OAuthRedirectURL:   getEnv("OAUTH_REDIRECT_URL", "http://localhost:8080/api/auth/callback"),

		SessionSecret: getEnv("SESSION_SECRET_KEY", ""),
		SessionMaxAge: getEnvAsInt("SESSION_MAX_AGE", 3600),
		CookieSecure:  getEnvAsBool("COOKIE_SECURE", false),

		CatalogPath:    getEnv("CATALOG_PATH", "data/pakwheels_products.csv"),
		UploadDir:      getEnv("UPLOAD_DIR", "static/uploads"),
		MaxUploadBytes: int64(getEnvAsInt("MAX_UPLOAD_BYTES", 5<<20)),

		CORSOrigins: getEnvAsList("CORS_ORIGINS", defaultCORSOrigins),
	}
}

func (c Config) Validate() error {
	if c.SessionSecret == "" {
		return errMissing("SESSION_SECRET_KEY")
	}
	if c.GoogleClientID == "" || c.GoogleClientSecret == "" {
		return errMissing("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET")
	}
	switch c.LLMProvider {
	case ProviderGroq, ProviderOpenAI, ProviderGemini:
	default:
		return &configError{msg: "unsupported LLM_PROVIDER " + strconv.Quote(c.LLMProvider)}
	}
	return nil
}

// LLMAPIKey returns the API key of the selected completion provider.
func (c Config) LLMAPIKey() string {
	switch c.LLMProvider {
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	case ProviderGemini:
		return c.GeminiAPIKey
	default:
		return c.GroqAPIKey
	}
}

type configError struct{ msg string }

func (e *configError) Error() string { return e.msg }

func errMissing(what string) error {
	return &configError{msg: what + " environment variable is required"}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
