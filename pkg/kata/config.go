package kata

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harunnryd/kata/pkg/device"
	"github.com/harunnryd/kata/pkg/dispatch"
	"github.com/harunnryd/kata/pkg/endpointing"
	"github.com/harunnryd/kata/pkg/playback"
	"github.com/harunnryd/kata/pkg/recorder"
	"github.com/harunnryd/kata/pkg/registry"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	Device        DeviceConfig        `mapstructure:"device"`
	Recording     RecordingConfig     `mapstructure:"recording"`
	Playback      PlaybackConfig      `mapstructure:"playback"`
	Dispatch      DispatchConfig      `mapstructure:"dispatch"`
	Endpoints     EndpointsConfig     `mapstructure:"endpoints"`
	Transport     TransportConfig     `mapstructure:"transport"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

// TransportConfig selects where call audio comes from: "local" uses the
// machine's capture and playback devices, anything else names a remote
// transport whose settings are provider specific.
type TransportConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type DeviceConfig struct {
	SampleRate int    `mapstructure:"sample_rate"`
	Channels   int    `mapstructure:"channels"`
	ChunkMS    int    `mapstructure:"chunk_ms"`
	Capture    string `mapstructure:"capture"`
	Binary     string `mapstructure:"binary"`
}

type RecordingConfig struct {
	MinDurationMS      int  `mapstructure:"min_duration_ms"`
	MaxDurationMS      int  `mapstructure:"max_duration_ms"`
	SilenceThresholdMS int  `mapstructure:"silence_threshold_ms"`
	Aggressiveness     int  `mapstructure:"aggressiveness"`
	DisableEndpointing bool `mapstructure:"disable_endpointing"`
}

type PlaybackConfig struct {
	BufferThresholdMS int `mapstructure:"buffer_threshold_ms"`
	MaxStarvationMS   int `mapstructure:"max_starvation_ms"`
	QueueCapacity     int `mapstructure:"queue_capacity"`
}

type DispatchConfig struct {
	AttemptTimeoutMS  int `mapstructure:"attempt_timeout_ms"`
	BreakerThreshold  int `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int `mapstructure:"breaker_cooldown_ms"`
}

type EndpointConfig struct {
	Provider   string         `mapstructure:"provider"`
	URL        string         `mapstructure:"url"`
	APIKey     string         `mapstructure:"api_key"`
	Formats    []string       `mapstructure:"formats"`
	SampleRate int            `mapstructure:"sample_rate"`
	Settings   map[string]any `mapstructure:"settings"`
}

type EndpointsConfig struct {
	STT []EndpointConfig `mapstructure:"stt"`
	TTS []EndpointConfig `mapstructure:"tts"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string `mapstructure:"artifacts_dir"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("device.sample_rate", 16000)
	v.SetDefault("device.channels", 1)
	v.SetDefault("device.chunk_ms", 20)
	v.SetDefault("device.capture", "default")
	v.SetDefault("recording.min_duration_ms", 0)
	v.SetDefault("recording.max_duration_ms", 15000)
	v.SetDefault("recording.silence_threshold_ms", 900)
	v.SetDefault("recording.aggressiveness", int(endpointing.AggressivenessMedium))
	v.SetDefault("recording.disable_endpointing", false)
	v.SetDefault("playback.buffer_threshold_ms", 160)
	v.SetDefault("playback.max_starvation_ms", 2000)
	v.SetDefault("playback.queue_capacity", 64)
	v.SetDefault("dispatch.attempt_timeout_ms", 10000)
	v.SetDefault("dispatch.breaker_threshold", 3)
	v.SetDefault("dispatch.breaker_cooldown_ms", 30000)
	v.SetDefault("transport.provider", "local")
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Endpoints.STT) == 0 {
		return fmt.Errorf("endpoints.stt needs at least one endpoint")
	}
	if len(c.Endpoints.TTS) == 0 {
		return fmt.Errorf("endpoints.tts needs at least one endpoint")
	}
	for i, ep := range c.Endpoints.STT {
		if strings.TrimSpace(ep.URL) == "" {
			return fmt.Errorf("endpoints.stt[%d].url is required", i)
		}
	}
	for i, ep := range c.Endpoints.TTS {
		if strings.TrimSpace(ep.URL) == "" {
			return fmt.Errorf("endpoints.tts[%d].url is required", i)
		}
	}
	if a := c.Recording.Aggressiveness; a < int(endpointing.AggressivenessLowest) || a > int(endpointing.AggressivenessHigh) {
		return fmt.Errorf("recording.aggressiveness %d out of range", a)
	}
	return nil
}

// RegistrySpecs converts the endpoint config into registry specs, keeping
// the configured order as the failover order.
func (c *Config) RegistrySpecs() []registry.Spec {
	specs := make([]registry.Spec, 0, len(c.Endpoints.STT)+len(c.Endpoints.TTS))
	for _, ep := range c.Endpoints.STT {
		specs = append(specs, toSpec(registry.RoleSTT, ep))
	}
	for _, ep := range c.Endpoints.TTS {
		specs = append(specs, toSpec(registry.RoleTTS, ep))
	}
	return specs
}

func toSpec(role registry.Role, ep EndpointConfig) registry.Spec {
	return registry.Spec{
		Role:       role,
		Provider:   ep.Provider,
		BaseURL:    ep.URL,
		APIKey:     ep.APIKey,
		Formats:    ep.Formats,
		SampleRate: ep.SampleRate,
		Settings:   ep.Settings,
	}
}

func (c *Config) DeviceConfig() device.Config {
	return device.Config{
		SampleRate: c.Device.SampleRate,
		Channels:   c.Device.Channels,
		ChunkMS:    c.Device.ChunkMS,
		Device:     c.Device.Capture,
		Binary:     c.Device.Binary,
	}
}

func (c *Config) RecorderParams() recorder.Params {
	return recorder.Params{
		MinDuration:      time.Duration(c.Recording.MinDurationMS) * time.Millisecond,
		MaxDuration:      time.Duration(c.Recording.MaxDurationMS) * time.Millisecond,
		SilenceThreshold: time.Duration(c.Recording.SilenceThresholdMS) * time.Millisecond,
		DisableDetection: c.Recording.DisableEndpointing,
	}
}

func (c *Config) PlaybackConfig() playback.Config {
	return playback.Config{
		BufferThreshold: time.Duration(c.Playback.BufferThresholdMS) * time.Millisecond,
		MaxStarvation:   time.Duration(c.Playback.MaxStarvationMS) * time.Millisecond,
		QueueCapacity:   c.Playback.QueueCapacity,
	}
}

func (c *Config) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		AttemptTimeout:   time.Duration(c.Dispatch.AttemptTimeoutMS) * time.Millisecond,
		BreakerThreshold: c.Dispatch.BreakerThreshold,
		BreakerCooldown:  time.Duration(c.Dispatch.BreakerCooldownMS) * time.Millisecond,
	}
}

// DetectorFactory builds the energy detector configured for recording.
func (c *Config) DetectorFactory() recorder.DetectorFactory {
	agg := endpointing.Aggressiveness(c.Recording.Aggressiveness)
	return func(sampleRate int) (endpointing.Detector, error) {
		return endpointing.NewEnergyDetector(endpointing.EnergyConfig{
			SampleRate:     sampleRate,
			FrameMS:        20,
			Aggressiveness: agg,
		})
	}
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	for i := range cfg.Endpoints.STT {
		cfg.Endpoints.STT[i].Settings = expandSettings(cfg.Endpoints.STT[i].Settings)
	}
	for i := range cfg.Endpoints.TTS {
		cfg.Endpoints.TTS[i].Settings = expandSettings(cfg.Endpoints.TTS[i].Settings)
	}
	cfg.Transport.Settings = expandSettings(cfg.Transport.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
