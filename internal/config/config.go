package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Provider names accepted by the *_PROVIDER variables.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderWhisper    = "whisper"
	ProviderDeepgram   = "deepgram"
	ProviderElevenLabs = "elevenlabs"
	ProviderLocal      = "local"
	ProviderNone       = "none"
)

// Config holds application configuration
type Config struct {
	Port     string
	LogLevel string

	// Extraction
	LLMProvider     string
	LLMFallback     string
	LLMTemperature  float64
	NLUTimeout      time.Duration
	QuestionPolicy  string
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	AnthropicModel  string

	// Speech
	STTProvider       string
	TTSProvider       string
	DeepgramAPIKey    string
	DeepgramVoice     string
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	LocalTTSCommand   string

	// Data
	FormsFile  string
	ArchiveDSN string
}

// Load reads .env (when present) and then configuration from environment variables.
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from the process environment only.
func FromEnv() *Config {
	return &Config{
		Port:              getEnv("PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LLMProvider:       strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", ProviderOpenAI))),
		LLMFallback:       strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK", ""))),
		LLMTemperature:    getEnvAsFloat("LLM_TEMPERATURE", 0.7),
		NLUTimeout:        getEnvAsDuration("NLU_TIMEOUT", 30*time.Second),
		QuestionPolicy:    strings.ToLower(strings.TrimSpace(getEnv("QUESTION_POLICY", "local"))),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", "gpt-4o"),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:    getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		STTProvider:       strings.ToLower(strings.TrimSpace(getEnv("STT_PROVIDER", ProviderWhisper))),
		TTSProvider:       strings.ToLower(strings.TrimSpace(getEnv("TTS_PROVIDER", ProviderElevenLabs))),
		DeepgramAPIKey:    getEnv("DEEPGRAM_API_KEY", ""),
		DeepgramVoice:     getEnv("DEEPGRAM_VOICE", "aura-2-julius-de"),
		ElevenLabsAPIKey:  getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID: getEnv("ELEVENLABS_VOICE_ID", "pNInz6obpgDQGcFmaJgB"),
		LocalTTSCommand:   getEnv("LOCAL_TTS_COMMAND", "espeak-ng -v de"),
		FormsFile:         getEnv("FORMS_FILE", ""),
		ArchiveDSN:        getEnv("ARCHIVE_DSN", ""),
	}
}

// Validate reports missing credentials for the selected providers.
func (c *Config) Validate() error {
	var errs []error
	need := func(provider, key, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s requires %s", provider, key))
		}
	}

	for _, p := range []string{c.LLMProvider, c.LLMFallback} {
		switch p {
		case "":
		case ProviderOpenAI:
			need(p, "OPENAI_API_KEY", c.OpenAIAPIKey)
		case ProviderAnthropic:
			need(p, "ANTHROPIC_API_KEY", c.AnthropicAPIKey)
		default:
			errs = append(errs, fmt.Errorf("unknown LLM provider %q", p))
		}
	}
	if c.LLMProvider == "" {
		errs = append(errs, errors.New("LLM_PROVIDER must be set"))
	}

	switch c.STTProvider {
	case ProviderWhisper:
		need(c.STTProvider, "OPENAI_API_KEY", c.OpenAIAPIKey)
	case ProviderDeepgram:
		need(c.STTProvider, "DEEPGRAM_API_KEY", c.DeepgramAPIKey)
	default:
		errs = append(errs, fmt.Errorf("unknown STT provider %q", c.STTProvider))
	}

	switch c.TTSProvider {
	case ProviderElevenLabs, ProviderDeepgram, ProviderLocal, ProviderNone:
		// missing keys downgrade to the local speaker at wiring time
	default:
		errs = append(errs, fmt.Errorf("unknown TTS provider %q", c.TTSProvider))
	}

	switch c.QuestionPolicy {
	case "local", "extractor":
	default:
		errs = append(errs, fmt.Errorf("unknown QUESTION_POLICY %q", c.QuestionPolicy))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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
