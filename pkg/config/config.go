package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App      App      `yaml:"app"`
	Database Database `yaml:"database"`
	Allows   Allows   `yaml:"allows"`
	Log      Log      `yaml:"log"`
	Sessions Sessions `yaml:"sessions"`
	Telegram Telegram `yaml:"telegram"`
	Context  Context  `yaml:"context"`
}

type App struct {
	Name string `yaml:"name"`
	Port string `yaml:"port"`
	Host string `yaml:"host"`
}

type Database struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
	Name string `yaml:"name"`
}

type Allows struct {
	Methods []string `yaml:"methods"`
	Origins []string `yaml:"origins"`
	Headers []string `yaml:"headers"`
}

type Log struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Duration wraps time.Duration so config values can be written as "5s", "30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Sessions holds every lifecycle knob of the session registry.
type Sessions struct {
	StoreDir       string      `yaml:"store_dir"`
	QRTimeout      Duration    `yaml:"qr_timeout"`
	ConnectTimeout Duration    `yaml:"connect_timeout"`
	RestoreDelay   Duration    `yaml:"restore_delay"`
	Restart        Restart     `yaml:"restart"`
	Ban            Ban         `yaml:"ban"`
	Credentials    Credentials `yaml:"credentials"`
}

type Restart struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
}

type Ban struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	Multiplier  float64  `yaml:"multiplier"`
	MaxDelay    Duration `yaml:"max_delay"`
}

type Credentials struct {
	DebounceWindow Duration `yaml:"debounce_window"`
}

type Telegram struct {
	ConflictThreshold int      `yaml:"conflict_threshold"`
	SendRetries       int      `yaml:"send_retries"`
	RetryBaseDelay    Duration `yaml:"retry_base_delay"`
	PollTimeout       int      `yaml:"poll_timeout"`
	PollRetryDelay    Duration `yaml:"poll_retry_delay"`
}

type Context struct {
	TTL           Duration `yaml:"ttl"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

func InitConfig() *Config {
	var configs Config
	file_name, _ := filepath.Abs("./config.yaml")
	yaml_file, _ := os.ReadFile(file_name)
	yaml.Unmarshal(yaml_file, &configs)

	// Override with environment variables if they exist (for Docker)
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		configs.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		configs.Database.Port = dbPort
	}
	if dbUser := os.Getenv("DB_USER"); dbUser != "" {
		configs.Database.User = dbUser
	}
	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		configs.Database.Pass = dbPassword
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		configs.Database.Name = dbName
	}

	// Override app configuration with environment variables
	if appHost := os.Getenv("APP_HOST"); appHost != "" {
		configs.App.Host = appHost
	}
	if appPort := os.Getenv("APP_PORT"); appPort != "" {
		configs.App.Port = appPort
	}
	if appName := os.Getenv("APP_NAME"); appName != "" {
		configs.App.Name = appName
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		configs.Log.Level = logLevel
	}
	if storeDir := os.Getenv("SESSION_STORE_DIR"); storeDir != "" {
		configs.Sessions.StoreDir = storeDir
	}

	configs.applyDefaults()

	return &configs
}

// applyDefaults fills in any lifecycle knob the yaml file left at zero.
func (c *Config) applyDefaults() {
	s := &c.Sessions
	if s.StoreDir == "" {
		s.StoreDir = "./data/devices"
	}
	if s.QRTimeout == 0 {
		s.QRTimeout = Duration(120 * time.Second)
	}
	if s.ConnectTimeout == 0 {
		s.ConnectTimeout = Duration(60 * time.Second)
	}
	if s.RestoreDelay == 0 {
		s.RestoreDelay = Duration(2 * time.Second)
	}
	if s.Restart.MaxAttempts == 0 {
		s.Restart.MaxAttempts = 5
	}
	if s.Restart.BaseDelay == 0 {
		s.Restart.BaseDelay = Duration(5 * time.Second)
	}
	if s.Ban.MaxAttempts == 0 {
		s.Ban.MaxAttempts = 10
	}
	if s.Ban.BaseDelay == 0 {
		s.Ban.BaseDelay = Duration(5 * time.Second)
	}
	if s.Ban.Multiplier == 0 {
		s.Ban.Multiplier = 2
	}
	if s.Ban.MaxDelay == 0 {
		s.Ban.MaxDelay = Duration(30 * time.Minute)
	}
	if s.Credentials.DebounceWindow == 0 {
		s.Credentials.DebounceWindow = Duration(2 * time.Second)
	}
	if c.Telegram.ConflictThreshold == 0 {
		c.Telegram.ConflictThreshold = 3
	}
	if c.Telegram.SendRetries == 0 {
		c.Telegram.SendRetries = 3
	}
	if c.Telegram.RetryBaseDelay == 0 {
		c.Telegram.RetryBaseDelay = Duration(time.Second)
	}
	if c.Telegram.PollTimeout == 0 {
		c.Telegram.PollTimeout = 30
	}
	if c.Telegram.PollRetryDelay == 0 {
		c.Telegram.PollRetryDelay = Duration(3 * time.Second)
	}
	if c.Context.TTL == 0 {
		c.Context.TTL = Duration(time.Hour)
	}
	if c.Context.SweepInterval == 0 {
		c.Context.SweepInterval = Duration(5 * time.Minute)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
