package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/thatsimonsguy/compool-bridge/internal/model"
)

var ErrInvalidConfig = errors.New("invalid config")

type DeviceConfig struct {
	// Path of the serial port the gateway has open, e.g. /dev/ttyUSB0.
	Path              string        `mapstructure:"path" yaml:"path"`
	TopicPrefix       string        `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	CommandsPerSecond float64       `mapstructure:"commands_per_second" yaml:"commands_per_second"`
}

// Topic is the MQTT root the gateway for this port publishes under.
func (d DeviceConfig) Topic() string {
	return strings.TrimSuffix(d.TopicPrefix, "/") + "/" + filepath.Base(d.Path)
}

type MQTTConfig struct {
	Broker          string `mapstructure:"broker" yaml:"broker"`
	ClientID        string `mapstructure:"client_id" yaml:"client_id"`
	Username        string `mapstructure:"username" yaml:"username"`
	Password        string `mapstructure:"password" yaml:"password"`
	QoS             int    `mapstructure:"qos" yaml:"qos"`
	AccessoryPrefix string `mapstructure:"accessory_prefix" yaml:"accessory_prefix"`
}

type SwitchConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	Aux  int    `mapstructure:"aux" yaml:"aux"`
}

type ZoneConfig struct {
	Label    string         `mapstructure:"label" yaml:"label"`
	PumpAux  int            `mapstructure:"pump_aux" yaml:"pump_aux"`
	MinTemp  float64        `mapstructure:"min_temp" yaml:"min_temp"`
	MaxTemp  float64        `mapstructure:"max_temp" yaml:"max_temp"`
	Switches []SwitchConfig `mapstructure:"switches" yaml:"switches,omitempty"`
}

type AuxConfig struct {
	Index int    `mapstructure:"index" yaml:"index"`
	Name  string `mapstructure:"name" yaml:"name"`
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type DatadogConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

type InfluxConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
	Token   string `mapstructure:"token" yaml:"token"`
	Org     string `mapstructure:"org" yaml:"org"`
	Bucket  string `mapstructure:"bucket" yaml:"bucket"`
}

type NtfyConfig struct {
	Topic    string        `mapstructure:"topic" yaml:"topic"`
	BaseURL  string        `mapstructure:"base_url" yaml:"base_url"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
	File  string `mapstructure:"file" yaml:"file"`
}

type Config struct {
	// Name is the accessory display name.
	Name     string `mapstructure:"name" yaml:"name"`
	Timezone string `mapstructure:"timezone" yaml:"timezone"`

	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Device  DeviceConfig  `mapstructure:"device" yaml:"device"`
	MQTT    MQTTConfig    `mapstructure:"mqtt" yaml:"mqtt"`
	Pool    *ZoneConfig   `mapstructure:"pool" yaml:"pool,omitempty"`
	Spa     *ZoneConfig   `mapstructure:"spa" yaml:"spa,omitempty"`
	Aux     []AuxConfig   `mapstructure:"aux" yaml:"aux,omitempty"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`
	Datadog DatadogConfig `mapstructure:"datadog" yaml:"datadog"`
	Influx  InfluxConfig  `mapstructure:"influx" yaml:"influx"`
	Ntfy    NtfyConfig    `mapstructure:"ntfy" yaml:"ntfy"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("name", "Pool Controller")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("device.topic_prefix", "compool")
	v.SetDefault("device.command_timeout", 10*time.Second)
	v.SetDefault("device.commands_per_second", 2.0)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "compool-bridge")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.accessory_prefix", "compool-bridge")
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "data/journal.db")
	v.SetDefault("datadog.enabled", false)
	v.SetDefault("datadog.addr", "127.0.0.1:8125")
	v.SetDefault("datadog.namespace", "compool.")
	v.SetDefault("influx.enabled", false)
	v.SetDefault("influx.bucket", "pool")
	v.SetDefault("ntfy.base_url", "https://ntfy.sh")
	v.SetDefault("ntfy.interval", 15*time.Minute)
}

// NewViper returns a viper instance with defaults and COMPOOL_ environment overrides bound.
// An empty path searches /etc/compool-bridge, $HOME/.compool-bridge and the working directory
// for config.yaml.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("/etc/compool-bridge/")
		v.AddConfigPath("$HOME/.compool-bridge")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	setDefaults(v)
	v.SetEnvPrefix("COMPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func Load(path string) (*Config, error) {
	v := NewViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return FromViper(v)
}

func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// AutomaticEnv only covers keys viper already knows about.
	if p := v.GetString("device.path"); p != "" {
		cfg.Device.Path = p
	}
	cfg.applyZoneDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyZoneDefaults() {
	if cfg.Pool != nil {
		if cfg.Pool.Label == "" {
			cfg.Pool.Label = "Pool"
		}
		if cfg.Pool.PumpAux == 0 {
			cfg.Pool.PumpAux = 1
		}
	}
	if cfg.Spa != nil {
		if cfg.Spa.Label == "" {
			cfg.Spa.Label = "Spa"
		}
		if cfg.Spa.PumpAux == 0 {
			cfg.Spa.PumpAux = 2
		}
	}
}

func (cfg *Config) validate() error {
	var (
		problems []string
		usedAux  = map[int]string{}
	)

	claim := func(aux int, owner string) {
		if !model.ValidAux(aux) {
			problems = append(problems, fmt.Sprintf("%s: aux %d is outside %d-%d", owner, aux, model.MinAux, model.MaxAux))
			return
		}
		if other, exists := usedAux[aux]; exists {
			problems = append(problems, fmt.Sprintf("%s and %s both use aux %d", owner, other, aux))
			return
		}
		usedAux[aux] = owner
	}

	if cfg.Device.Path == "" {
		problems = append(problems, "device.path is required")
	}
	if cfg.Device.CommandTimeout <= 0 {
		problems = append(problems, "device.command_timeout must be positive")
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		problems = append(problems, fmt.Sprintf("mqtt.qos %d must be 0, 1 or 2", cfg.MQTT.QoS))
	}
	if cfg.Pool == nil && cfg.Spa == nil {
		problems = append(problems, "at least one of pool or spa must be configured")
	}

	for _, zc := range []struct {
		name string
		zone *ZoneConfig
	}{{"pool", cfg.Pool}, {"spa", cfg.Spa}} {
		if zc.zone == nil {
			continue
		}
		claim(zc.zone.PumpAux, zc.name+".pump_aux")
		for i, sw := range zc.zone.Switches {
			if sw.Name == "" {
				problems = append(problems, fmt.Sprintf("%s.switches[%d].name is required", zc.name, i))
			}
			claim(sw.Aux, fmt.Sprintf("%s.switches[%d]", zc.name, i))
		}
		if zc.zone.MaxTemp != 0 && zc.zone.MaxTemp <= zc.zone.MinTemp {
			problems = append(problems, fmt.Sprintf("%s.max_temp must be above min_temp", zc.name))
		}
	}

	seen := map[int]bool{}
	for i, a := range cfg.Aux {
		if !model.ValidAux(a.Index) {
			problems = append(problems, fmt.Sprintf("aux[%d]: index %d is outside %d-%d", i, a.Index, model.MinAux, model.MaxAux))
			continue
		}
		if seen[a.Index] {
			problems = append(problems, fmt.Sprintf("aux[%d]: index %d named twice", i, a.Index))
		}
		seen[a.Index] = true
	}

	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("timezone %q: %v", cfg.Timezone, err))
		}
	}

	if cfg.Influx.Enabled && (cfg.Influx.URL == "" || cfg.Influx.Org == "") {
		problems = append(problems, "influx.url and influx.org are required when influx is enabled")
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Zones converts the configured zones into the model, pool first.
func (cfg *Config) Zones() []model.Zone {
	var zones []model.Zone
	add := func(name model.ZoneName, zc *ZoneConfig) {
		if zc == nil {
			return
		}
		z := model.Zone{
			Name:    name,
			Label:   zc.Label,
			PumpAux: zc.PumpAux,
			Modes:   model.DefaultModes(name),
			MinTemp: zc.MinTemp,
			MaxTemp: zc.MaxTemp,
		}
		for _, sw := range zc.Switches {
			z.Switches = append(z.Switches, model.Switch{Name: sw.Name, Aux: sw.Aux})
		}
		zones = append(zones, z)
	}
	add(model.ZonePool, cfg.Pool)
	add(model.ZoneSpa, cfg.Spa)
	return zones
}

func (cfg *Config) AuxNames() map[int]string {
	names := make(map[int]string, len(cfg.Aux))
	for _, a := range cfg.Aux {
		names[a.Index] = a.Name
	}
	return names
}

// Dump renders the effective config as YAML with secrets masked.
func Dump(cfg *Config) ([]byte, error) {
	redacted := *cfg
	if redacted.MQTT.Password != "" {
		redacted.MQTT.Password = "********"
	}
	if redacted.Influx.Token != "" {
		redacted.Influx.Token = "********"
	}
	return yaml.Marshal(&redacted)
}
