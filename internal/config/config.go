package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

const (
	defaultConfigPath = "/etc/ai-things/audio.ini"
	configPathEnv     = "AI_THINGS_CONFIG"
	envFileEnv        = "AUDIO_ENV_FILE"
)

// envPrefix lets AUDIO_<SECTION>_<KEY> override any ini value.
const envPrefix = "AUDIO_"

type Config struct {
	Hostname    string
	AppEnv      string
	ScratchRoot string

	ServerListen string
	MaxBodyBytes int64
	RateLimit    string
	// RateLimitTrustForwardHeader keys the limiter on X-Forwarded-For / X-Real-IP.
	RateLimitTrustForwardHeader bool

	WellSaidURL            string
	WellSaidSpeakerID      int
	WellSaidModel          string
	WellSaidUsageCeiling   int
	WellSaidChunkMaxLength int

	MiniMaxURL     string
	MiniMaxGroupID string
	MiniMaxAPIKey  string
	MiniMaxModel   string

	ElevenLabsURL          string
	ElevenLabsAPIKey       string
	ElevenLabsModel        string
	ElevenLabsOutputFormat string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	FishAudioURL    string
	FishAudioAPIKey string
	FishAudioModel  string

	GoogleCredentialsFile string
	GoogleEnabled         bool

	Pipeline Pipeline

	FFmpegBin     string
	FFprobeBin    string
	FFmpegTimeout time.Duration

	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageUseSSL    bool
	StoragePublicURL string

	DBURL      string
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	RabbitMQEnabled     bool
	RabbitMQHost        string
	RabbitMQPort        int
	RabbitMQUser        string
	RabbitMQPassword    string
	RabbitMQVHost       string
	RabbitMQEventsQueue string
	RabbitMQJobsQueue   string

	SweepSchedule string
	SweepMaxAge   time.Duration
}

// Pipeline holds the retry and batching knobs shared by every audio operation.
type Pipeline struct {
	MaxRetries               int
	BaseDelay                time.Duration
	Multiplier               float64
	MaxDelay                 time.Duration
	BatchSize                int
	BatchDelay               time.Duration
	FishAudioBatchSize       int
	FishAudioBatchDelay      time.Duration
	ChunkMaxLength           int
	ElevenLabsChunkMaxLength int
	ConcatRetries            int
	RequestTimeout           time.Duration
}

func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	configPath := os.Getenv(configPathEnv)
	if configPath == "" {
		configPath = defaultConfigPath
	}

	ini, err := readINI(configPath)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", configPath, err)
	}
	return fromINI(ini)
}

// loadEnvFile overlays AUDIO_ENV_FILE (or ./.env) onto the process environment. Variables that
// are already set win.
func loadEnvFile() error {
	path := os.Getenv(envFileEnv)
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func fromINI(ini iniData) (Config, error) {
	cfg := Config{}
	cfg.Hostname = ini.get("app", "hostname")
	if cfg.Hostname == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Hostname = host
		}
	}
	cfg.AppEnv = ini.getDefault("app", "env", "production")
	cfg.ScratchRoot = ini.getDefault("app", "scratch_root", os.TempDir())

	cfg.ServerListen = ini.getDefault("server", "listen", ":8090")
	cfg.MaxBodyBytes = int64(ini.getIntDefault("server", "max_body_bytes", 8<<20))
	cfg.RateLimit = ini.getDefault("server", "rate_limit", "120-M")
	cfg.RateLimitTrustForwardHeader = ini.getBoolDefault("server", "trust_forward_header", false)

	cfg.WellSaidURL = ini.getDefault("wellsaid", "api_url", "https://api.wellsaidlabs.com/v1/tts/stream")
	cfg.WellSaidSpeakerID = ini.getIntDefault("wellsaid", "speaker_id", 3)
	cfg.WellSaidModel = ini.getDefault("wellsaid", "model", "caruso")
	cfg.WellSaidUsageCeiling = ini.getIntDefault("wellsaid", "usage_ceiling", 50)
	cfg.WellSaidChunkMaxLength = ini.getIntDefault("wellsaid", "chunk_max_length", 950)

	cfg.MiniMaxURL = ini.getDefault("minimax", "api_url", "https://api.minimaxi.chat/v1/t2a_v2")
	cfg.MiniMaxGroupID = ini.get("minimax", "group_id")
	cfg.MiniMaxAPIKey = ini.get("minimax", "api_key")
	cfg.MiniMaxModel = ini.getDefault("minimax", "model", "speech-02-hd")

	cfg.ElevenLabsURL = ini.getDefault("elevenlabs", "api_url", "https://api.elevenlabs.io")
	cfg.ElevenLabsAPIKey = ini.get("elevenlabs", "api_key")
	cfg.ElevenLabsModel = ini.getDefault("elevenlabs", "model", "eleven_multilingual_v2")
	cfg.ElevenLabsOutputFormat = ini.getDefault("elevenlabs", "output_format", "mp3_44100_128")

	cfg.OpenAIAPIKey = firstNonEmpty(ini.get("openai", "api_key"), os.Getenv("OPENAI_API_KEY"))
	cfg.OpenAIModel = ini.getDefault("openai", "model", "tts-1")
	cfg.OpenAIBaseURL = ini.get("openai", "base_url")

	cfg.FishAudioURL = ini.getDefault("fishaudio", "api_url", "https://api.fish.audio/v1/tts")
	cfg.FishAudioAPIKey = ini.get("fishaudio", "api_key")
	cfg.FishAudioModel = ini.getDefault("fishaudio", "model", "speech-1.6")

	cfg.GoogleCredentialsFile = firstNonEmpty(ini.get("google", "credentials_file"), os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	cfg.GoogleEnabled = ini.getBoolDefault("google", "enabled", cfg.GoogleCredentialsFile != "")

	cfg.Pipeline = Pipeline{
		MaxRetries:               ini.getIntDefault("pipeline", "max_retries", 3),
		BaseDelay:                ini.getDurationDefault("pipeline", "base_delay", time.Second),
		Multiplier:               ini.getFloatDefault("pipeline", "multiplier", 2),
		MaxDelay:                 ini.getDurationDefault("pipeline", "max_delay", 30*time.Second),
		BatchSize:                ini.getIntDefault("pipeline", "batch_size", 5),
		BatchDelay:               ini.getDurationDefault("pipeline", "batch_delay", 66*time.Second),
		FishAudioBatchSize:       ini.getIntDefault("pipeline", "fishaudio_batch_size", 3),
		FishAudioBatchDelay:      ini.getDurationDefault("pipeline", "fishaudio_batch_delay", 60*time.Second),
		ChunkMaxLength:           ini.getIntDefault("pipeline", "chunk_max_length", 2800),
		ElevenLabsChunkMaxLength: ini.getIntDefault("pipeline", "elevenlabs_chunk_max_length", 1000),
		ConcatRetries:            ini.getIntDefault("pipeline", "concat_retries", 1),
		RequestTimeout:           ini.getDurationDefault("pipeline", "request_timeout", 120*time.Second),
	}

	cfg.FFmpegBin = ini.getDefault("ffmpeg", "ffmpeg_bin", "ffmpeg")
	cfg.FFprobeBin = ini.getDefault("ffmpeg", "ffprobe_bin", "ffprobe")
	cfg.FFmpegTimeout = ini.getDurationDefault("ffmpeg", "timeout", 10*time.Minute)

	cfg.StorageEndpoint = ini.get("storage", "endpoint")
	cfg.StorageAccessKey = ini.get("storage", "access_key")
	cfg.StorageSecretKey = ini.get("storage", "secret_key")
	cfg.StorageBucket = ini.getDefault("storage", "bucket", "audio")
	cfg.StorageUseSSL = ini.getBoolDefault("storage", "use_ssl", false)
	cfg.StoragePublicURL = ini.get("storage", "public_base_url")

	cfg.DBURL = firstNonEmpty(ini.get("db", "url"), ini.get("db", "database_url"))
	cfg.DBHost = ini.getDefault("db", "host", "127.0.0.1")
	cfg.DBPort = ini.getIntDefault("db", "port", 5432)
	cfg.DBName = ini.getDefault("db", "name", "audio")
	cfg.DBUser = ini.getDefault("db", "user", "postgres")
	cfg.DBPassword = ini.get("db", "password")
	cfg.DBSSLMode = ini.getDefault("db", "sslmode", "prefer")

	cfg.RabbitMQEnabled = ini.getBoolDefault("rabbitmq", "enabled", false)
	cfg.RabbitMQHost = ini.getDefault("rabbitmq", "host", "127.0.0.1")
	cfg.RabbitMQPort = ini.getIntDefault("rabbitmq", "port", 5672)
	cfg.RabbitMQUser = ini.getDefault("rabbitmq", "user", "guest")
	cfg.RabbitMQPassword = ini.getDefault("rabbitmq", "password", "guest")
	cfg.RabbitMQVHost = ini.getDefault("rabbitmq", "vhost", "/")
	cfg.RabbitMQEventsQueue = ini.getDefault("rabbitmq", "events_queue", "audio_ready")
	cfg.RabbitMQJobsQueue = ini.getDefault("rabbitmq", "jobs_queue", "narration_requested")

	cfg.SweepSchedule = ini.getDefault("sweep", "schedule", "@every 30m")
	cfg.SweepMaxAge = ini.getDurationDefault("sweep", "max_age", 6*time.Hour)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	p := c.Pipeline
	var errs []error
	if p.MaxRetries < 0 {
		errs = append(errs, errors.New("pipeline.max_retries must be >= 0"))
	}
	if p.BaseDelay <= 0 || p.MaxDelay <= 0 {
		errs = append(errs, errors.New("pipeline.base_delay and pipeline.max_delay must be positive"))
	}
	if p.Multiplier < 1 {
		errs = append(errs, errors.New("pipeline.multiplier must be >= 1"))
	}
	if p.BatchSize < 1 || p.FishAudioBatchSize < 1 {
		errs = append(errs, errors.New("pipeline batch sizes must be positive"))
	}
	if p.ChunkMaxLength < 1 || p.ElevenLabsChunkMaxLength < 1 || c.WellSaidChunkMaxLength < 1 {
		errs = append(errs, errors.New("chunk_max_length values must be positive"))
	}
	if c.WellSaidUsageCeiling < 1 {
		errs = append(errs, errors.New("wellsaid.usage_ceiling must be positive"))
	}
	if c.StorageEndpoint != "" && c.StorageBucket == "" {
		errs = append(errs, errors.New("storage.bucket is required when storage.endpoint is set"))
	}
	return errors.Join(errs...)
}

func (c Config) DBConnString() string {
	if c.DBURL != "" {
		return c.DBURL
	}
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBUser,
		c.DBPassword,
		c.DBSSLMode,
	)
}

func (c Config) RabbitMQURL() string {
	vhost := strings.TrimPrefix(c.RabbitMQVHost, "/")
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d/%s",
		url.QueryEscape(c.RabbitMQUser),
		url.QueryEscape(c.RabbitMQPassword),
		c.RabbitMQHost,
		c.RabbitMQPort,
		url.PathEscape(vhost),
	)
}

type iniData struct {
	sections map[string]map[string]string
}

func readINI(path string) (iniData, error) {
	file, err := os.Open(path)
	if err != nil {
		return iniData{}, err
	}
	defer file.Close()

	data := iniData{sections: map[string]map[string]string{}}
	section := "default"
	data.sections[section] = map[string]string{}

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			if section == "" {
				return iniData{}, fmt.Errorf("invalid section header at line %d", lineNo)
			}
			if _, ok := data.sections[section]; !ok {
				data.sections[section] = map[string]string{}
			}
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return iniData{}, fmt.Errorf("invalid line %d: %q", lineNo, line)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return iniData{}, fmt.Errorf("empty key at line %d", lineNo)
		}
		data.sections[section][key] = trimQuotes(strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return iniData{}, err
	}
	return data, nil
}

func trimQuotes(value string) string {
	if len(value) < 2 {
		return value
	}
	if value[0] == '"' && value[len(value)-1] == '"' {
		return value[1 : len(value)-1]
	}
	if value[0] == '\'' && value[len(value)-1] == '\'' {
		return value[1 : len(value)-1]
	}
	return value
}

func envName(section, key string) string {
	return envPrefix + strings.ToUpper(section) + "_" + strings.ToUpper(key)
}

// get prefers AUDIO_<SECTION>_<KEY> from the environment over the file.
func (ini iniData) get(section, key string) string {
	section = strings.ToLower(section)
	key = strings.ToLower(key)
	if section == "" {
		section = "default"
	}
	if v, ok := os.LookupEnv(envName(section, key)); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if values, ok := ini.sections[section]; ok {
		return values[key]
	}
	return ""
}

func (ini iniData) getDefault(section, key, fallback string) string {
	value := ini.get(section, key)
	if value == "" {
		return fallback
	}
	return value
}

func (ini iniData) getIntDefault(section, key string, fallback int) int {
	value := ini.get(section, key)
	if value == "" {
		return fallback
	}
	parsed, err := cast.ToIntE(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (ini iniData) getFloatDefault(section, key string, fallback float64) float64 {
	value := ini.get(section, key)
	if value == "" {
		return fallback
	}
	parsed, err := cast.ToFloat64E(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (ini iniData) getBoolDefault(section, key string, fallback bool) bool {
	value := ini.get(section, key)
	if value == "" {
		return fallback
	}
	parsed, err := cast.ToBoolE(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getDurationDefault accepts Go durations ("66s", "1m30s"); a bare number is seconds.
func (ini iniData) getDurationDefault(section, key string, fallback time.Duration) time.Duration {
	value := ini.get(section, key)
	if value == "" {
		return fallback
	}
	if secs, err := cast.ToFloat64E(value); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	parsed, err := cast.ToDurationE(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
