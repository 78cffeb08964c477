package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Application config structure
type AppConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogPath  string `mapstructure:"log_path"`

	SessionRunner SessionRunnerConfig `mapstructure:"session_runner" validate:"required"`
	Recorder      RecorderConfig      `mapstructure:"recorder" validate:"required"`
	Transport     TransportConfig     `mapstructure:"transport" validate:"required"`
	Analysis      AnalysisConfig      `mapstructure:"analysis" validate:"required"`
	Backend       BackendConfig       `mapstructure:"backend" validate:"required"`
	Storage       StorageConfig       `mapstructure:"storage" validate:"required"`
}

type SessionRunnerConfig struct {
	AutoSave           bool `mapstructure:"auto_save"`
	AutoSaveDebounceMs int  `mapstructure:"auto_save_debounce_ms" validate:"gte=0"`
	AutoAdvanceMs      int  `mapstructure:"auto_advance_ms" validate:"gte=0"`
	MaxTextLength      int  `mapstructure:"max_text_length" validate:"gt=0"`
}

type RecorderConfig struct {
	ChunkIntervalMs  int    `mapstructure:"chunk_interval_ms" validate:"gt=0"`
	EchoCancellation bool   `mapstructure:"echo_cancellation"`
	NoiseSuppression bool   `mapstructure:"noise_suppression"`
	AutoGain         bool   `mapstructure:"auto_gain"`
	SampleRate       int    `mapstructure:"sample_rate" validate:"gte=8000,lte=192000"`
	Channels         int    `mapstructure:"channels" validate:"oneof=1 2"`
	Encoding         string `mapstructure:"encoding" validate:"oneof=linear16 mulaw alaw"`
	MaxDurationS     int    `mapstructure:"max_duration_s" validate:"gte=0"`
}

type TransportConfig struct {
	HeartbeatIntervalMs  int   `mapstructure:"heartbeat_interval_ms" validate:"gt=0"`
	ConnectTimeoutMs     int   `mapstructure:"connect_timeout_ms" validate:"gt=0"`
	PingTimeoutMs        int   `mapstructure:"ping_timeout_ms" validate:"gt=0"`
	RetryDelays          []int `mapstructure:"retry_delays" validate:"required,min=1,dive,gte=0"`
	MaxReconnectAttempts int   `mapstructure:"max_reconnect_attempts" validate:"gte=0"`
	MaxQueueSize         int   `mapstructure:"max_queue_size" validate:"gte=2"`
}

type AnalysisConfig struct {
	EvaluationTimeoutMs int  `mapstructure:"evaluation_timeout_ms" validate:"gt=0"`
	StartFacial         bool `mapstructure:"start_facial"`
	StartAudio          bool `mapstructure:"start_audio"`
	StartText           bool `mapstructure:"start_text"`
}

type BackendConfig struct {
	BaseURL          string `mapstructure:"base_url" validate:"required,url"`
	WebsocketURL     string `mapstructure:"websocket_url" validate:"required,url"`
	RequestTimeoutMs int    `mapstructure:"request_timeout_ms" validate:"gt=0"`
}

type StorageConfig struct {
	Driver     string `mapstructure:"driver" validate:"oneof=memory redis sqlite"`
	RedisAddr  string `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	SqlitePath string `mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
}

func (c SessionRunnerConfig) AutoAdvance() time.Duration {
	return time.Duration(c.AutoAdvanceMs) * time.Millisecond
}

func (c SessionRunnerConfig) AutoSaveDebounce() time.Duration {
	return time.Duration(c.AutoSaveDebounceMs) * time.Millisecond
}

func (c RecorderConfig) ChunkInterval() time.Duration {
	return time.Duration(c.ChunkIntervalMs) * time.Millisecond
}

func (c RecorderConfig) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationS) * time.Second
}

func (c TransportConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

func (c TransportConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

func (c TransportConfig) PingTimeout() time.Duration {
	return time.Duration(c.PingTimeoutMs) * time.Millisecond
}

// RetryDelayTable converts transport.retry_delays into durations.
func (c TransportConfig) RetryDelayTable() []time.Duration {
	out := make([]time.Duration, 0, len(c.RetryDelays))
	for _, ms := range c.RetryDelays {
		out = append(out, time.Duration(ms)*time.Millisecond)
	}
	return out
}

func (c AnalysisConfig) EvaluationTimeout() time.Duration {
	return time.Duration(c.EvaluationTimeoutMs) * time.Millisecond
}

func (c BackendConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// reading config and intializing configs for application
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))
	vConfig.SetEnvPrefix("INTERVIEWX")
	vConfig.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vConfig.AutomaticEnv()
	setDefault(vConfig)

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		return vConfig, nil
	}
	log.Printf("config path %v", path)
	vConfig.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
		vConfig.SetConfigType(ext)
	} else {
		vConfig.SetConfigType("env")
	}
	if err := vConfig.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		log.Printf("config file %s not found, reading from env variables", path)
	}
	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "interviewx-client")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PATH", "")

	v.SetDefault("SESSION_RUNNER__AUTO_SAVE", true)
	v.SetDefault("SESSION_RUNNER__AUTO_SAVE_DEBOUNCE_MS", 5000)
	v.SetDefault("SESSION_RUNNER__AUTO_ADVANCE_MS", 750)
	v.SetDefault("SESSION_RUNNER__MAX_TEXT_LENGTH", 10000)

	v.SetDefault("RECORDER__CHUNK_INTERVAL_MS", 1000)
	v.SetDefault("RECORDER__ECHO_CANCELLATION", true)
	v.SetDefault("RECORDER__NOISE_SUPPRESSION", true)
	v.SetDefault("RECORDER__AUTO_GAIN", true)
	v.SetDefault("RECORDER__SAMPLE_RATE", 44100)
	v.SetDefault("RECORDER__CHANNELS", 1)
	v.SetDefault("RECORDER__ENCODING", "linear16")
	v.SetDefault("RECORDER__MAX_DURATION_S", 600)

	v.SetDefault("TRANSPORT__HEARTBEAT_INTERVAL_MS", 30000)
	v.SetDefault("TRANSPORT__CONNECT_TIMEOUT_MS", 10000)
	v.SetDefault("TRANSPORT__PING_TIMEOUT_MS", 5000)
	v.SetDefault("TRANSPORT__RETRY_DELAYS", []int{1000, 2000, 4000, 8000, 16000})
	v.SetDefault("TRANSPORT__MAX_RECONNECT_ATTEMPTS", 5)
	v.SetDefault("TRANSPORT__MAX_QUEUE_SIZE", 100)

	v.SetDefault("ANALYSIS__EVALUATION_TIMEOUT_MS", 60000)
	v.SetDefault("ANALYSIS__START_FACIAL", false)
	v.SetDefault("ANALYSIS__START_AUDIO", true)
	v.SetDefault("ANALYSIS__START_TEXT", true)

	v.SetDefault("BACKEND__BASE_URL", "http://localhost:8080")
	v.SetDefault("BACKEND__WEBSOCKET_URL", "ws://localhost:8080/ws")
	v.SetDefault("BACKEND__REQUEST_TIMEOUT_MS", 15000)

	v.SetDefault("STORAGE__DRIVER", "memory")
	v.SetDefault("STORAGE__REDIS_ADDR", "")
	v.SetDefault("STORAGE__SQLITE_PATH", "")
}

// Getting application config from viper
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	err := v.Unmarshal(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	// valdating the app config
	validate := validator.New()
	err = validate.Struct(&config)
	if err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
