package config

import (
	"fmt"
	"os"
	"path"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v2"
)

type SysConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

type WebConfig struct {
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	JwtSecret string `yaml:"jwt_secret" json:"jwt_secret"`
}

type DBConfig struct {
	Type     string `yaml:"type" json:"type"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Name     string `yaml:"name" json:"name"`
	User     string `yaml:"user" json:"user"`
	Passwd   string `yaml:"passwd" json:"passwd"`
	MaxConn  int    `yaml:"max_conn" json:"max_conn"`
	IdleConn int    `yaml:"idle_conn" json:"idle_conn"`
}

type LogConfig struct {
	Mode       string `yaml:"mode" json:"mode"`
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

// WhatsappConfig holds the session manager tunables. Runtime-adjustable
// values (sweep workers, alert threshold) also exist as sys_config settings
// which take precedence when present.
type WhatsappConfig struct {
	StoreDriver      string `yaml:"store_driver" json:"store_driver"`
	StoreDSN         string `yaml:"store_dsn" json:"store_dsn"`
	ReconnectCeiling int    `yaml:"reconnect_ceiling" json:"reconnect_ceiling"`
	SweepInterval    string `yaml:"sweep_interval" json:"sweep_interval"`
	SweepWorkers     int    `yaml:"sweep_workers" json:"sweep_workers"`
	AlertAfterHours  int    `yaml:"alert_after_hours" json:"alert_after_hours"`
	PairingTTL       string `yaml:"pairing_ttl" json:"pairing_ttl"`
	WebhookURL       string `yaml:"webhook_url" json:"webhook_url"`
}

type SmtpConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	From     string `yaml:"from" json:"from"`
}

type AppConfig struct {
	System   SysConfig      `yaml:"system" json:"system"`
	Web      WebConfig      `yaml:"web" json:"web"`
	Database DBConfig       `yaml:"database" json:"database"`
	Logger   LogConfig      `yaml:"logger" json:"logger"`
	Whatsapp WhatsappConfig `yaml:"whatsapp" json:"whatsapp"`
	Smtp     SmtpConfig     `yaml:"smtp" json:"smtp"`
}

func (c *AppConfig) GetLogDir() string {
	return path.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return path.Join(c.System.Workdir, "data")
}

// GetSessionDir returns the per-account local working storage root used by
// the protocol client (device stores, media cache).
func (c *AppConfig) GetSessionDir() string {
	return path.Join(c.System.Workdir, "sessions")
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "waconnect",
		Location: "Asia/Jakarta",
		Workdir:  "/var/waconnect",
		Debug:    true,
	},
	Web: WebConfig{
		Host:      "0.0.0.0",
		Port:      1820,
		JwtSecret: "9b6de5cc-0731-1203-xxtt-0f568ac9da37",
	},
	Database: DBConfig{
		Type:     "postgres",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "waconnect",
		User:     "postgres",
		Passwd:   "",
		MaxConn:  100,
		IdleConn: 10,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/waconnect/waconnect.log",
	},
	Whatsapp: WhatsappConfig{
		StoreDriver:      "sqlite",
		ReconnectCeiling: 5,
		SweepInterval:    "15m",
		SweepWorkers:     10,
		AlertAfterHours:  6,
		PairingTTL:       "2m",
	},
	Smtp: SmtpConfig{
		Host: "localhost",
		Port: 25,
		From: "waconnect@localhost",
	},
}

func setEnvValue(name string, val *string) {
	if evalue := os.Getenv(name); evalue != "" {
		*val = evalue
	}
}

func setEnvInt(name string, val *int) {
	if evalue := os.Getenv(name); evalue != "" {
		*val = cast.ToInt(evalue)
	}
}

func setEnvBool(name string, val *bool) {
	if evalue := os.Getenv(name); evalue != "" {
		*val = cast.ToBool(evalue)
	}
}

// LoadConfig reads the yaml config file and applies WACONNECT_* environment
// overrides. A missing file is not an error: defaults are used.
func LoadConfig(cfile string) *AppConfig {
	cfg := DefaultAppConfig
	if cfile != "" {
		if data, err := os.ReadFile(cfile); err == nil {
			cfg = new(AppConfig)
			if err := yaml.Unmarshal(data, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "config parse error: %v, using defaults\n", err)
				cfg = DefaultAppConfig
			}
		}
	}

	setEnvValue("WACONNECT_SYSTEM_WORKDIR", &cfg.System.Workdir)
	setEnvValue("WACONNECT_SYSTEM_LOCATION", &cfg.System.Location)
	setEnvBool("WACONNECT_SYSTEM_DEBUG", &cfg.System.Debug)

	setEnvValue("WACONNECT_WEB_HOST", &cfg.Web.Host)
	setEnvInt("WACONNECT_WEB_PORT", &cfg.Web.Port)
	setEnvValue("WACONNECT_WEB_JWT_SECRET", &cfg.Web.JwtSecret)

	setEnvValue("WACONNECT_DB_TYPE", &cfg.Database.Type)
	setEnvValue("WACONNECT_DB_HOST", &cfg.Database.Host)
	setEnvInt("WACONNECT_DB_PORT", &cfg.Database.Port)
	setEnvValue("WACONNECT_DB_NAME", &cfg.Database.Name)
	setEnvValue("WACONNECT_DB_USER", &cfg.Database.User)
	setEnvValue("WACONNECT_DB_PWD", &cfg.Database.Passwd)

	setEnvValue("WACONNECT_LOGGER_MODE", &cfg.Logger.Mode)
	setEnvBool("WACONNECT_LOGGER_FILE_ENABLE", &cfg.Logger.FileEnable)
	setEnvValue("WACONNECT_LOGGER_FILENAME", &cfg.Logger.Filename)

	setEnvValue("WACONNECT_WA_STORE_DRIVER", &cfg.Whatsapp.StoreDriver)
	setEnvValue("WACONNECT_WA_STORE_DSN", &cfg.Whatsapp.StoreDSN)
	setEnvValue("WACONNECT_WA_WEBHOOK_URL", &cfg.Whatsapp.WebhookURL)

	setEnvValue("WACONNECT_SMTP_HOST", &cfg.Smtp.Host)
	setEnvInt("WACONNECT_SMTP_PORT", &cfg.Smtp.Port)
	setEnvValue("WACONNECT_SMTP_USERNAME", &cfg.Smtp.Username)
	setEnvValue("WACONNECT_SMTP_PASSWORD", &cfg.Smtp.Password)
	setEnvValue("WACONNECT_SMTP_FROM", &cfg.Smtp.From)

	return cfg
}
