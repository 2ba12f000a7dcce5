// Package config loads the task dispatch engine's settings via viper,
// following the teacher's SetDefault-then-env-override pattern.
package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Worker     WorkerConfig
	Orchestrator OrchestratorConfig
	Metrics    MetricsConfig
	LogLevel   string
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RateLimitRPS int
}

type DatabaseConfig struct {
	URL          string
	QueryTimeout time.Duration
}

type WorkerConfig struct {
	NumInternalWorkers     int
	AutoStartWorkers       bool
	EnableBackgroundTasks  bool
	DefaultTimeoutMinutes  int
	DefaultMaxSteps        int
	DefaultPriority        int
	TimeoutCheckInterval   time.Duration
	WorkerPollInterval     time.Duration
	WorkerHeartbeatTimeout time.Duration
}

type OrchestratorConfig struct {
	Bin  string
	Args []string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/taskqueue")

	setDefaults()

	viper.SetEnvPrefix("TASKQUEUE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:         viper.GetString("server.host"),
			Port:         viper.GetInt("server.port"),
			ReadTimeout:  viper.GetDuration("server.readtimeout"),
			WriteTimeout: viper.GetDuration("server.writetimeout"),
			IdleTimeout:  viper.GetDuration("server.idletimeout"),
			RateLimitRPS: viper.GetInt("rate_limit_rps"),
		},
		Database: DatabaseConfig{
			URL:          viper.GetString("database_url"),
			QueryTimeout: viper.GetDuration("database.querytimeout"),
		},
		Worker: WorkerConfig{
			NumInternalWorkers:     viper.GetInt("num_internal_workers"),
			AutoStartWorkers:       viper.GetBool("auto_start_workers"),
			EnableBackgroundTasks:  viper.GetBool("enable_background_tasks"),
			DefaultTimeoutMinutes:  viper.GetInt("default_timeout_minutes"),
			DefaultMaxSteps:        viper.GetInt("default_max_steps"),
			DefaultPriority:        viper.GetInt("default_priority"),
			TimeoutCheckInterval:   viper.GetDuration("timeout_check_interval"),
			WorkerPollInterval:     viper.GetDuration("worker_poll_interval"),
			WorkerHeartbeatTimeout: viper.GetDuration("worker_heartbeat_timeout"),
		},
		Orchestrator: OrchestratorConfig{
			Bin:  viper.GetString("orchestrator_bin"),
			Args: viper.GetStringSlice("orchestrator_args"),
		},
		Metrics: MetricsConfig{
			Enabled: viper.GetBool("metrics_enabled"),
			Path:    viper.GetString("metrics_path"),
		},
		LogLevel: viper.GetString("log_level"),
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.idletimeout", 120*time.Second)
	viper.SetDefault("rate_limit_rps", 1000)

	viper.SetDefault("database_url", "postgres://localhost:5432/taskqueue?sslmode=disable")
	viper.SetDefault("database.querytimeout", 10*time.Second)

	viper.SetDefault("num_internal_workers", 5)
	viper.SetDefault("auto_start_workers", true)
	viper.SetDefault("enable_background_tasks", true)
	viper.SetDefault("default_timeout_minutes", 30)
	viper.SetDefault("default_max_steps", 50)
	viper.SetDefault("default_priority", 0)
	viper.SetDefault("timeout_check_interval", 60*time.Second)
	viper.SetDefault("worker_poll_interval", 2*time.Second)
	viper.SetDefault("worker_heartbeat_timeout", 15*time.Second)

	viper.SetDefault("orchestrator_bin", "")
	viper.SetDefault("orchestrator_args", []string{})

	viper.SetDefault("metrics_enabled", true)
	viper.SetDefault("metrics_path", "/metrics")

	viper.SetDefault("log_level", "info")
}
