package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress    string
	BackendURL     string
	HealthInterval time.Duration
	RequestTimeout time.Duration

	HistoryBackend string
	HistoryDir     string
	HistoryKey     string

	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	AssemblyAIKey     string
	RecognitionLocale string

	SynthesisProvider string
	DeepgramKey       string
	DeepgramModel     string
	VoicePreferences  []string

	SpeechEnabled    bool
	AutoSend         bool
	AutosaveInterval time.Duration
	RandomSeed       uint64
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file loaded")
	}

	cfg := Config{
		HTTPAddress:    envString("HTTP_ADDRESS", ":8080"),
		BackendURL:     strings.TrimRight(envString("BACKEND_URL", "http://localhost:8000"), "/"),
		HealthInterval: envDuration("HEALTH_INTERVAL", 30*time.Second),
		RequestTimeout: envDuration("REQUEST_TIMEOUT", 130*time.Second),

		HistoryBackend: strings.ToLower(envString("HISTORY_BACKEND", "badger")),
		HistoryDir:     envString("HISTORY_DIR", "data/history"),
		HistoryKey:     envString("HISTORY_KEY", "historia-chat-history"),

		SupabaseURL:    os.Getenv("SUPABASE_URL"),
		SupabaseKey:    os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket: envString("SUPABASE_BUCKET", "historia"),

		AssemblyAIKey:     os.Getenv("ASSEMBLYAI_API_KEY"),
		RecognitionLocale: envString("RECOGNITION_LOCALE", "en-US"),

		SynthesisProvider: strings.ToLower(envString("SYNTHESIS_PROVIDER", "backend")),
		DeepgramKey:       os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:     os.Getenv("DEEPGRAM_MODEL"),
		VoicePreferences:  envList("VOICE_PREFERENCES", []string{"Google", "Microsoft", "Female", "en-US"}),

		SpeechEnabled:    envBool("SPEECH_ENABLED", true),
		AutoSend:         envBool("AUTO_SEND", false),
		AutosaveInterval: envDuration("AUTOSAVE_INTERVAL", 15*time.Second),
		RandomSeed:       envUint("RANDOM_SEED", 0),
	}

	switch cfg.HistoryBackend {
	case "badger", "memory":
	case "supabase":
		if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
			log.Println("Warning: HISTORY_BACKEND=supabase but SUPABASE_URL or SUPABASE_SERVICE_ROLE_KEY not set - history will not persist")
		}
	default:
		log.Printf("Warning: unknown HISTORY_BACKEND %q - using badger", cfg.HistoryBackend)
		cfg.HistoryBackend = "badger"
	}

	if cfg.AssemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - using manual capture with backend transcription")
	}

	switch cfg.SynthesisProvider {
	case "backend":
	case "deepgram":
		if cfg.DeepgramKey == "" {
			log.Println("Warning: SYNTHESIS_PROVIDER=deepgram but DEEPGRAM_API_KEY not set - remote speech will not work")
		}
	default:
		log.Printf("Warning: unknown SYNTHESIS_PROVIDER %q - using backend", cfg.SynthesisProvider)
		cfg.SynthesisProvider = "backend"
	}

	log.Printf("config: HTTP_ADDRESS=%s BACKEND_URL=%s HISTORY_BACKEND=%s", cfg.HTTPAddress, cfg.BackendURL, cfg.HistoryBackend)
	return cfg
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("Warning: invalid %s=%q - using %s", key, v, def)
		return def
	}
	return d
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("Warning: invalid %s=%q - using %t", key, v, def)
		return def
	}
	return b
}

func envUint(key string, def uint64) uint64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		log.Printf("Warning: invalid %s=%q - using %d", key, v, def)
		return def
	}
	return n
}

func envList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
