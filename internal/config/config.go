// Package config loads and validates the server's TOML configuration,
// the way the integration API's config package loads its own AppConfig:
// viper for sourcing, mapstructure for decoding, validator for shape.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// AppConfig is the root of the parsed configuration file.
type AppConfig struct {
	Server       ServerConfig       `mapstructure:"server" validate:"required"`
	Sources      SourcesConfig      `mapstructure:"sources"`
	Filters      FiltersConfig      `mapstructure:"filters"`
	Player       PlayerConfig       `mapstructure:"player"`
	Lyrics       LyricsConfig       `mapstructure:"lyrics"`
	Plugins      PluginsConfig      `mapstructure:"plugins"`
	RoutePlanner RoutePlannerConfig `mapstructure:"route_planner"`
	Redis        RedisConfig        `mapstructure:"redis"`
	LogLevel     string             `mapstructure:"log_level"`
}

// ServerConfig is the REST/WS listener configuration.
type ServerConfig struct {
	Host            string `mapstructure:"host" validate:"required"`
	Port            int    `mapstructure:"port" validate:"required"`
	Password        string `mapstructure:"password" validate:"required"`
	ResumeTimeout   int    `mapstructure:"resume_timeout_sec"`
	ResumeSigningKey string `mapstructure:"resume_signing_key"`
}

// SourcesConfig toggles which SourceResolver tags are registered.
type SourcesConfig struct {
	Http           bool `mapstructure:"http"`
	Local          bool `mapstructure:"local"`
	Youtube        bool `mapstructure:"youtube"`
	Soundcloud     bool `mapstructure:"soundcloud"`
	PlaylistLoadLimit int `mapstructure:"playlist_load_limit"`
}

// FiltersConfig toggles which filters the FilterChain is allowed to build,
// one flag per filter the chain can build.
type FiltersConfig struct {
	Volume     bool `mapstructure:"volume"`
	Equalizer  bool `mapstructure:"equalizer"`
	Karaoke    bool `mapstructure:"karaoke"`
	Timescale  bool `mapstructure:"timescale"`
	Tremolo    bool `mapstructure:"tremolo"`
	Vibrato    bool `mapstructure:"vibrato"`
	Distortion bool `mapstructure:"distortion"`
	Rotation   bool `mapstructure:"rotation"`
	ChannelMix bool `mapstructure:"channel_mix"`
	LowPass    bool `mapstructure:"low_pass"`
}

// IsEnabled reports whether the named filter may be applied; unknown
// names default to enabled.
func (f FiltersConfig) IsEnabled(name string) bool {
	switch name {
	case "volume":
		return f.Volume
	case "equalizer":
		return f.Equalizer
	case "karaoke":
		return f.Karaoke
	case "timescale":
		return f.Timescale
	case "tremolo":
		return f.Tremolo
	case "vibrato":
		return f.Vibrato
	case "distortion":
		return f.Distortion
	case "rotation":
		return f.Rotation
	case "channelMix", "channel_mix":
		return f.ChannelMix
	case "lowPass", "low_pass":
		return f.LowPass
	default:
		return true
	}
}

// PlayerConfig controls mixer stuck-detection and tape-stop behavior.
type PlayerConfig struct {
	StuckThresholdMs  uint64 `mapstructure:"stuck_threshold_ms"`
	TapeStop          bool   `mapstructure:"tape_stop"`
	TapeStopDurationMs uint64 `mapstructure:"tape_stop_duration_ms"`
}

// LyricsConfig is a config-driven enable flag only; the provider logic
// itself is out of scope.
type LyricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// PluginsConfig names the plugin hooks to invoke; the hooks themselves
// are no-ops.
type PluginsConfig struct {
	Enabled []string `mapstructure:"enabled"`
}

// RoutePlannerConfig is the outbound-IP rotation policy.
type RoutePlannerConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Cidrs       []string `mapstructure:"cidrs"`
	ExcludedIPs []string `mapstructure:"excluded_ips"`
}

// RedisConfig backs resumable sessions and the route-planner IP set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func defaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		StuckThresholdMs:   10000,
		TapeStop:           false,
		TapeStopDurationMs: 500,
	}
}

func defaultFiltersConfig() FiltersConfig {
	return FiltersConfig{
		Volume: true, Equalizer: true, Karaoke: true, Timescale: true,
		Tremolo: true, Vibrato: true, Distortion: true, Rotation: true,
		ChannelMix: true, LowPass: true,
	}
}

// InitViper wires up a Viper instance reading a TOML file, matching
// config.InitConfig's env-path-override pattern but for a config file
// instead of a dotenv.
func InitViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.SetConfigName("rustalink")

	if path == "" {
		path = os.Getenv("RUSTALINK_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	}

	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 2333)
	v.SetDefault("server.resume_timeout_sec", 60)
	v.SetDefault("log_level", "info")

	d := defaultPlayerConfig()
	v.SetDefault("player.stuck_threshold_ms", d.StuckThresholdMs)
	v.SetDefault("player.tape_stop", d.TapeStop)
	v.SetDefault("player.tape_stop_duration_ms", d.TapeStopDurationMs)

	fl := defaultFiltersConfig()
	v.SetDefault("filters.volume", fl.Volume)
	v.SetDefault("filters.equalizer", fl.Equalizer)
	v.SetDefault("filters.karaoke", fl.Karaoke)
	v.SetDefault("filters.timescale", fl.Timescale)
	v.SetDefault("filters.tremolo", fl.Tremolo)
	v.SetDefault("filters.vibrato", fl.Vibrato)
	v.SetDefault("filters.distortion", fl.Distortion)
	v.SetDefault("filters.rotation", fl.Rotation)
	v.SetDefault("filters.channel_mix", fl.ChannelMix)
	v.SetDefault("filters.low_pass", fl.LowPass)

	v.SetDefault("sources.http", true)
	v.SetDefault("sources.local", true)
	v.SetDefault("sources.playlist_load_limit", 100)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
}

// Load reads, decodes and validates the config file at path (or the
// RUSTALINK_CONFIG env var / ./rustalink.toml default). A parse or
// validation failure here is meant to be fatal at process startup.
func Load(path string) (*AppConfig, error) {
	v, err := InitViper(path)
	if err != nil {
		return nil, err
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}
