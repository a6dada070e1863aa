package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderTone      = "tone"
	ProviderYandex    = "yandex"
	ProviderDashScope = "dashscope"
)

type Config struct {
	Provider string
	Voice    string
	Speed    float64
	// MP3 requests MP3 from the provider and decodes it locally.
	MP3 bool

	Yandex    YandexConfig
	DashScope DashScopeConfig
	Audio     AudioConfig
	Buffer    BufferConfig

	LogLevel string
}

type YandexConfig struct {
	IamToken string
	FolderID string
	Endpoint string
}

type DashScopeConfig struct {
	ApiKey    string
	Model     string
	Endpoint  string
	Workspace string
}

type AudioConfig struct {
	Output          string
	SampleRate      int
	FramesPerBuffer int
	OutputChannels  int
}

type BufferConfig struct {
	TargetSeconds      float64
	CleanupSeconds     float64
	FetchMaxAttempts   int
	FetchBackoff       time.Duration
	TimeUpdateInterval time.Duration
}

// LoadConfig loads the given .env files (".env" when none are given) into the
// process environment and reads the configuration from it. Missing files are
// skipped. Defaults are applied by Validate.
func LoadConfig(paths ...string) (*Config, error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	cfg := &Config{
		Provider: os.Getenv("TTS_PROVIDER"),
		Voice:    os.Getenv("VOICE"),
		LogLevel: os.Getenv("LOG_LEVEL"),
		Yandex: YandexConfig{
			IamToken: firstNonEmpty(os.Getenv("IAM_TOKEN"), os.Getenv("YANDEX_API_KEY")),
			FolderID: os.Getenv("FOLDER_ID"),
			Endpoint: os.Getenv("YANDEX_ENDPOINT"),
		},
		DashScope: DashScopeConfig{
			ApiKey:    os.Getenv("DASHSCOPE_API_KEY"),
			Model:     os.Getenv("DASHSCOPE_MODEL"),
			Endpoint:  os.Getenv("DASHSCOPE_ENDPOINT"),
			Workspace: os.Getenv("DASHSCOPE_WORKSPACE"),
		},
		Audio: AudioConfig{
			Output: os.Getenv("AUDIO_OUTPUT"),
		},
	}

	var err error
	if cfg.Speed, err = floatEnv("SPEECH_SPEED"); err != nil {
		return nil, err
	}
	if cfg.MP3, err = boolEnv("TTS_MP3"); err != nil {
		return nil, err
	}
	if cfg.Audio.SampleRate, err = intEnv("SAMPLE_RATE"); err != nil {
		return nil, err
	}
	if cfg.Audio.FramesPerBuffer, err = intEnv("FRAMES_PER_BUFFER"); err != nil {
		return nil, err
	}
	if cfg.Audio.OutputChannels, err = intEnv("OUTPUT_CHANNELS"); err != nil {
		return nil, err
	}
	if cfg.Buffer.TargetSeconds, err = floatEnv("BUFFER_TARGET_SECONDS"); err != nil {
		return nil, err
	}
	if cfg.Buffer.CleanupSeconds, err = floatEnv("BUFFER_CLEANUP_SECONDS"); err != nil {
		return nil, err
	}
	if cfg.Buffer.FetchMaxAttempts, err = intEnv("FETCH_MAX_ATTEMPTS"); err != nil {
		return nil, err
	}
	if cfg.Buffer.FetchBackoff, err = durationEnv("FETCH_BACKOFF"); err != nil {
		return nil, err
	}
	if cfg.Buffer.TimeUpdateInterval, err = durationEnv("TIMEUPDATE_INTERVAL"); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

// Validate fills unset values with defaults and rejects invalid ones.
func (c *Config) Validate() error {
	if c.Provider == "" {
		c.Provider = ProviderTone
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Speed == 0 {
		c.Speed = 1.0
	}
	if c.Audio.Output == "" {
		c.Audio.Output = "portaudio"
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 22050
	}
	if c.Audio.FramesPerBuffer == 0 {
		c.Audio.FramesPerBuffer = 1024
	}
	if c.Audio.OutputChannels == 0 {
		c.Audio.OutputChannels = 1
	}
	if c.Buffer.TargetSeconds == 0 {
		c.Buffer.TargetSeconds = 20
	}
	if c.Buffer.CleanupSeconds == 0 {
		c.Buffer.CleanupSeconds = 20
	}
	if c.Buffer.FetchMaxAttempts == 0 {
		c.Buffer.FetchMaxAttempts = 4
	}
	if c.Buffer.FetchBackoff == 0 {
		c.Buffer.FetchBackoff = 200 * time.Millisecond
	}
	if c.Buffer.TimeUpdateInterval == 0 {
		c.Buffer.TimeUpdateInterval = 250 * time.Millisecond
	}

	switch c.Provider {
	case ProviderTone:
		if c.MP3 {
			return errors.New("tone provider produces pcm only, unset TTS_MP3")
		}
	case ProviderYandex:
		if c.Yandex.IamToken == "" || c.Yandex.FolderID == "" {
			return errors.New("IAM_TOKEN and FOLDER_ID must be set for the yandex provider")
		}
	case ProviderDashScope:
		if c.DashScope.ApiKey == "" {
			return errors.New("DASHSCOPE_API_KEY must be set for the dashscope provider")
		}
	default:
		return fmt.Errorf("unknown TTS_PROVIDER %q", c.Provider)
	}

	switch c.Audio.Output {
	case "portaudio", "beep":
	default:
		return fmt.Errorf("unknown AUDIO_OUTPUT %q", c.Audio.Output)
	}

	if c.Speed < 0 {
		return fmt.Errorf("SPEECH_SPEED must be positive, got %v", c.Speed)
	}
	if c.Audio.SampleRate < 0 || c.Audio.FramesPerBuffer < 0 {
		return errors.New("SAMPLE_RATE and FRAMES_PER_BUFFER must be positive")
	}
	if c.Audio.OutputChannels < 0 || c.Audio.OutputChannels > 2 {
		return fmt.Errorf("OUTPUT_CHANNELS must be 1 or 2, got %d", c.Audio.OutputChannels)
	}
	if c.Buffer.TargetSeconds < 0 || c.Buffer.CleanupSeconds < 0 {
		return errors.New("buffer windows must not be negative")
	}
	if c.Buffer.FetchMaxAttempts < 0 || c.Buffer.FetchBackoff < 0 || c.Buffer.TimeUpdateInterval < 0 {
		return errors.New("fetch and time update settings must not be negative")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func intEnv(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func boolEnv(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func durationEnv(key string) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
