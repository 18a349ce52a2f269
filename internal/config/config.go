package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the meeting agent
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL used only for logging the stream endpoint
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Cartesia TTS API configuration
	CartesiaAPIKey     string `envconfig:"CARTESIA_API_KEY" required:"true"`
	CartesiaVoiceID    string `envconfig:"CARTESIA_VOICE_ID" default:"a0e99841-438c-4a64-b679-ae501e7d6091"`
	CartesiaModelID    string `envconfig:"CARTESIA_MODEL_ID" default:"sonic-english"`
	CartesiaSampleRate int    `envconfig:"CARTESIA_SAMPLE_RATE" default:"24000"`

	// LLM completion configuration (openai = any OpenAI compatible endpoint, vertex = Gemini on Vertex AI)
	LLMProvider    string  `envconfig:"LLM_PROVIDER" default:"openai"`
	LLMAPIKey      string  `envconfig:"LLM_API_KEY" default:""`
	LLMBaseURL     string  `envconfig:"LLM_BASE_URL" default:"https://api.groq.com/openai/v1"`
	LLMModel       string  `envconfig:"LLM_MODEL" default:"llama-3.1-70b-versatile"`
	LLMTemperature float32 `envconfig:"LLM_TEMPERATURE" default:"0.2"`
	VertexProject  string  `envconfig:"VERTEX_PROJECT" default:""`
	VertexLocation string  `envconfig:"VERTEX_LOCATION" default:"us-central1"`
	VertexModel    string  `envconfig:"VERTEX_MODEL" default:"gemini-1.5-flash"`

	// Intent classifier backend: llm (in-process prompt) or grpc (remote classifier service)
	ClassifierBackend    string `envconfig:"CLASSIFIER_BACKEND" default:"llm"`
	ClassifierURL        string `envconfig:"CLASSIFIER_URL" default:"localhost:50051"`
	ClassifierTLSEnabled bool   `envconfig:"CLASSIFIER_TLS_ENABLED" default:"false"`
	ClassifierTimeout    int    `envconfig:"CLASSIFIER_TIMEOUT" default:"15"` // seconds

	// Wake phrase detection
	WakePhrases      []string `envconfig:"WAKE_PHRASES" default:"hey eleven labs,hey 11 labs,hey eleven laps,hey 11 laps"`
	TranscriptWindow int      `envconfig:"TRANSCRIPT_WINDOW" default:"10"` // Committed utterances searched for the wake phrase

	// Coordinator timing
	PollInterval        int `envconfig:"POLL_INTERVAL" default:"50"`         // milliseconds
	EchoSuppressWindow  int `envconfig:"ECHO_SUPPRESS_WINDOW" default:"500"` // milliseconds after playback
	ShutdownTaskTimeout int `envconfig:"SHUTDOWN_TASK_TIMEOUT" default:"30"` // seconds to wait for background actions
	ActiveTimeout       int `envconfig:"ACTIVE_TIMEOUT" default:"30"`        // seconds addressed without a command; 0 never expires

	// Audio ingress configuration
	AudioSampleRate int `envconfig:"AUDIO_SAMPLE_RATE" default:"16000"`
	AudioChannels   int `envconfig:"AUDIO_CHANNELS" default:"1"`
	AudioChunkSize  int `envconfig:"AUDIO_CHUNK_SIZE" default:"3200"` // bytes per chunk sent to STT (100ms at 16kHz mono)

	// Action integrations (each optional; a missing integration leaves its action unregistered)
	GoogleCredentialsFile string `envconfig:"GOOGLE_CREDENTIALS_FILE" default:""`
	GoogleSender          string `envconfig:"GOOGLE_SENDER" default:"me"`
	PostgresDSN           string `envconfig:"POSTGRES_DSN" default:""`
	RedisAddr             string `envconfig:"REDIS_ADDR" default:""`
	RedisPassword         string `envconfig:"REDIS_PASSWORD" default:""`
	OrderStream           string `envconfig:"ORDER_STREAM" default:"orders:requests"`
	LinearAPIKey          string `envconfig:"LINEAR_API_KEY" default:""`
	LinearTeamID          string `envconfig:"LINEAR_TEAM_ID" default:""`
	PerplexityAPIKey      string `envconfig:"PERPLEXITY_API_KEY" default:""`
	PerplexityModel       string `envconfig:"PERPLEXITY_MODEL" default:"sonar"`
	ContactsFile          string `envconfig:"CONTACTS_FILE" default:""`

	// Post-session report
	SummaryRecipients []string `envconfig:"SUMMARY_RECIPIENTS" default:""`
	ArchiveBucket     string   `envconfig:"ARCHIVE_BUCKET" default:""`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables.
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports the configuration errors that must abort startup
func (c *Config) Validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if c.CartesiaAPIKey == "" {
		return fmt.Errorf("CARTESIA_API_KEY is required")
	}

	switch c.LLMProvider {
	case "openai":
		if c.LLMAPIKey == "" {
			return fmt.Errorf("LLM_API_KEY is required when LLM_PROVIDER=openai")
		}
	case "vertex":
		if c.VertexProject == "" {
			return fmt.Errorf("VERTEX_PROJECT is required when LLM_PROVIDER=vertex")
		}
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q (want openai or vertex)", c.LLMProvider)
	}

	switch c.ClassifierBackend {
	case "llm", "grpc":
	default:
		return fmt.Errorf("unsupported CLASSIFIER_BACKEND %q (want llm or grpc)", c.ClassifierBackend)
	}

	c.WakePhrases = trimEmpty(c.WakePhrases)
	if len(c.WakePhrases) == 0 {
		return fmt.Errorf("WAKE_PHRASES must contain at least one phrase")
	}
	if c.TranscriptWindow <= 0 {
		return fmt.Errorf("TRANSCRIPT_WINDOW must be positive")
	}
	if c.AudioSampleRate <= 0 || c.AudioChannels <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE and AUDIO_CHANNELS must be positive")
	}

	c.SummaryRecipients = trimEmpty(c.SummaryRecipients)
	return nil
}

// PollEvery returns the coordinator poll interval
func (c *Config) PollEvery() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// EchoWindow returns how long transcripts are ignored after playback ends
func (c *Config) EchoWindow() time.Duration {
	return time.Duration(c.EchoSuppressWindow) * time.Millisecond
}

// ActiveWindow returns how long the assistant stays addressed without a command
func (c *Config) ActiveWindow() time.Duration {
	return time.Duration(c.ActiveTimeout) * time.Second
}

// TaskTimeout returns the teardown bound for outstanding background actions
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.ShutdownTaskTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func trimEmpty(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
