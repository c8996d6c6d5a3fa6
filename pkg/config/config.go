package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	SensorSerial     = "serial"
	SensorSHT85      = "sht85"
	SensorSimulation = "simulation"

	OutputConsole = "console"
	OutputMQTT    = "mqtt"
)

// ErrMissingHost is returned when no remote SSH host has been configured.
var ErrMissingHost = errors.New("ssh host is required (SSH_HOST)")

type SerialConfig struct {
	Port           string `json:"port" yaml:"port"`
	BaudRate       int    `json:"baud_rate" yaml:"baud_rate"`
	SettleMs       int    `json:"settle_ms" yaml:"settle_ms"`
	PollMs         int    `json:"poll_ms" yaml:"poll_ms"`
	ReadDeadlineMs int    `json:"read_deadline_ms" yaml:"read_deadline_ms"`
}

type I2CConfig struct {
	Bus     string `json:"bus" yaml:"bus"`
	Address int    `json:"address" yaml:"address"`
}

type StoreConfig struct {
	Path          string `json:"path" yaml:"path"`
	ArchiveSQLite string `json:"archive_sqlite,omitempty" yaml:"archive_sqlite,omitempty"`
}

type SSHConfig struct {
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	Username   string `json:"username" yaml:"username"`
	Password   string `json:"password" yaml:"password"`
	RemotePath string `json:"remote_path" yaml:"remote_path"`
	KnownHosts string `json:"known_hosts,omitempty" yaml:"known_hosts,omitempty"`
	TimeoutMs  int    `json:"timeout_ms" yaml:"timeout_ms"`
}

type MQTTConfig struct {
	Server          string `json:"server" yaml:"server"`
	Username        string `json:"username" yaml:"username"`
	Password        string `json:"password" yaml:"password"`
	ClientID        string `json:"client_id" yaml:"client_id"`
	StateTopic      string `json:"state_topic" yaml:"state_topic"`
	DiscoveryPrefix string `json:"discovery_prefix,omitempty" yaml:"discovery_prefix,omitempty"`
	DiscoveryName   string `json:"discovery_name,omitempty" yaml:"discovery_name,omitempty"`
}

type OutputConfig struct {
	Type string      `json:"type" yaml:"type"`
	MQTT *MQTTConfig `json:"mqtt,omitempty" yaml:"mqtt,omitempty"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type Config struct {
	SensorType  string         `json:"sensor_type" yaml:"sensor_type"`
	Serial      SerialConfig   `json:"serial" yaml:"serial"`
	I2C         I2CConfig      `json:"i2c" yaml:"i2c"`
	Store       StoreConfig    `json:"store" yaml:"store"`
	SSH         SSHConfig      `json:"ssh" yaml:"ssh"`
	Outputs     []OutputConfig `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	MetricsAddr string         `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"`
	IntervalMs  int            `json:"interval_ms" yaml:"interval_ms"`
	Log         LogConfig      `json:"log" yaml:"log"`
}

func DefaultConfig() Config {
	return Config{
		SensorType: SensorSerial,
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 9600,
			SettleMs: 2000,
			PollMs:   1000,
		},
		I2C:   I2CConfig{Bus: "1", Address: 0x44},
		Store: StoreConfig{Path: "data.json"},
		SSH: SSHConfig{
			Port:       22,
			RemotePath: "/path/to/remote/directory",
			TimeoutMs:  30000,
		},
		IntervalMs: 60000,
		Log:        LogConfig{Level: "info", Format: "text"},
	}
}

func (c Config) Interval() time.Duration { return ms(c.IntervalMs) }

func (s SerialConfig) Settle() time.Duration       { return ms(s.SettleMs) }
func (s SerialConfig) Poll() time.Duration         { return ms(s.PollMs) }
func (s SerialConfig) ReadDeadline() time.Duration { return ms(s.ReadDeadlineMs) }

func (s SSHConfig) Addr() string           { return fmt.Sprintf("%s:%d", s.Host, s.Port) }
func (s SSHConfig) Timeout() time.Duration { return ms(s.TimeoutMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// Load builds the configuration from defaults, an optional JSON or YAML file,
// an optional .env file, the process environment and finally flags.
func Load(args []string) (Config, error) {
	flags := flag.NewFlagSet("serial-env-uploader", flag.ContinueOnError)
	cfgPath := flags.String("config", "", "Path to JSON or YAML config file")
	envFile := flags.String("env-file", ".env", "Path to .env file (ignored when missing)")
	flagLogLevel := flags.String("log-level", "", "Log level: debug|info|warn|error")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()

	if *cfgPath != "" {
		if err := loadFile(*cfgPath, &cfg); err != nil {
			return cfg, err
		}
	}

	if *envFile != "" {
		// existing environment variables win over the file
		if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load env file: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}

	if *flagLogLevel != "" {
		cfg.Log.Level = *flagLogLevel
	}

	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, cfg)
	default:
		err = json.Unmarshal(b, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var firstErr error
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := parseIntOrHex(strings.TrimSpace(v))
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", key, err)
			}
			return
		}
		*dst = n
	}

	str("SENSOR_TYPE", &cfg.SensorType)
	str("SERIAL_PORT", &cfg.Serial.Port)
	num("BAUD_RATE", &cfg.Serial.BaudRate)
	num("SERIAL_SETTLE_MS", &cfg.Serial.SettleMs)
	num("SERIAL_POLL_MS", &cfg.Serial.PollMs)
	num("SERIAL_READ_DEADLINE_MS", &cfg.Serial.ReadDeadlineMs)
	str("I2C_BUS", &cfg.I2C.Bus)
	num("I2C_ADDRESS", &cfg.I2C.Address)
	str("DATA_FILE", &cfg.Store.Path)
	str("ARCHIVE_SQLITE", &cfg.Store.ArchiveSQLite)
	str("SSH_HOST", &cfg.SSH.Host)
	num("SSH_PORT", &cfg.SSH.Port)
	str("SSH_USER", &cfg.SSH.Username)
	str("SSH_PASS", &cfg.SSH.Password)
	str("REMOTE_PATH", &cfg.SSH.RemotePath)
	str("SSH_KNOWN_HOSTS", &cfg.SSH.KnownHosts)
	num("SSH_TIMEOUT_MS", &cfg.SSH.TimeoutMs)
	num("CYCLE_INTERVAL_MS", &cfg.IntervalMs)
	str("METRICS_ADDR", &cfg.MetricsAddr)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	if firstErr != nil {
		return firstErr
	}

	if v, ok := lookup("OUTPUTS"); ok && v != "" {
		parts := parseCSV(v)
		outs := make([]OutputConfig, 0, len(parts))
		for _, p := range parts {
			outs = append(outs, OutputConfig{Type: strings.ToLower(p)})
		}
		cfg.Outputs = outs
	}

	var m MQTTConfig
	str("MQTT_SERVER", &m.Server)
	str("MQTT_USER", &m.Username)
	str("MQTT_PASS", &m.Password)
	str("MQTT_CLIENT_ID", &m.ClientID)
	str("MQTT_TOPIC", &m.StateTopic)
	str("MQTT_DISCOVERY_PREFIX", &m.DiscoveryPrefix)
	if m != (MQTTConfig{}) {
		applyMQTT(cfg, m)
	}
	return nil
}

// applyMQTT merges non-empty fields into every mqtt output, creating one when
// none is configured.
func applyMQTT(cfg *Config, m MQTTConfig) {
	merge := func(dst *MQTTConfig) {
		if m.Server != "" {
			dst.Server = m.Server
		}
		if m.Username != "" {
			dst.Username = m.Username
		}
		if m.Password != "" {
			dst.Password = m.Password
		}
		if m.ClientID != "" {
			dst.ClientID = m.ClientID
		}
		if m.StateTopic != "" {
			dst.StateTopic = m.StateTopic
		}
		if m.DiscoveryPrefix != "" {
			dst.DiscoveryPrefix = m.DiscoveryPrefix
		}
	}
	applied := false
	for i := range cfg.Outputs {
		if strings.ToLower(cfg.Outputs[i].Type) != OutputMQTT {
			continue
		}
		if cfg.Outputs[i].MQTT == nil {
			cfg.Outputs[i].MQTT = &MQTTConfig{}
		}
		merge(cfg.Outputs[i].MQTT)
		applied = true
	}
	if !applied {
		out := OutputConfig{Type: OutputMQTT, MQTT: &MQTTConfig{}}
		merge(out.MQTT)
		cfg.Outputs = append(cfg.Outputs, out)
	}
}

func (c Config) Validate() error {
	if c.SSH.Host == "" {
		return ErrMissingHost
	}
	if c.SSH.Port <= 0 || c.SSH.Port > 65535 {
		return fmt.Errorf("ssh port out of range: %d", c.SSH.Port)
	}
	if c.IntervalMs <= 0 {
		return errors.New("interval must be > 0")
	}
	switch c.SensorType {
	case SensorSerial:
		if c.Serial.Port == "" {
			return errors.New("serial port is required")
		}
		if c.Serial.BaudRate <= 0 {
			return errors.New("baud rate must be > 0")
		}
		if c.Serial.PollMs <= 0 {
			return errors.New("serial poll interval must be > 0")
		}
	case SensorSHT85, SensorSimulation:
	default:
		return fmt.Errorf("unknown sensor type %q", c.SensorType)
	}
	if c.Store.Path == "" {
		return errors.New("store path is required")
	}
	for _, o := range c.Outputs {
		switch strings.ToLower(o.Type) {
		case OutputConsole:
		case OutputMQTT:
			if o.MQTT == nil || o.MQTT.Server == "" {
				return errors.New("mqtt output requires a server")
			}
		default:
			return fmt.Errorf("unknown output type %q", o.Type)
		}
	}
	return nil
}

func parseIntOrHex(s string) (int, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseInt(s[2:], 16, 0)
		return int(v), err
	}
	return strconv.Atoi(s)
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
