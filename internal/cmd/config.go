package cmd

import (
	"os"
	"strings"
	"time"

	deepseekconstants "github.com/ZhenchangMin/AI-study-copilot/internal/constants/deepseek"
	"github.com/ZhenchangMin/AI-study-copilot/internal/server/middleware"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "COPILOT"

type BackendConfig struct {
	Endpoint     string `mapstructure:"endpoint"`
	Apikey       string `mapstructure:"api_key"`
	MaxRetries   int    `mapstructure:"max_retries"`
	RetryBackoff string `mapstructure:"retry_backoff"`
}

type CorsConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type config struct {
	Deepseek     BackendConfig `mapstructure:"deepseek"`
	Cors         CorsConfig    `mapstructure:"cors"`
	Port         string        `mapstructure:"port"`
	Loglevel     string        `mapstructure:"log_level"`
	Timeout      string        `mapstructure:"timeout"`
	ServerApiKey string        `mapstructure:"server_api_key"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// loadResult carries what was learned while loading, so it can be logged once
// the logger exists.
type loadResult struct {
	configFile string
	envFile    string
	envErr     error
}

func addConfigFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "sets the config file location e.g. $HOME/copilot-config.yaml")
	fs.String("env-file", ".env", "dotenv file loaded into the environment before reading config")
	fs.StringP("port", "p", "8000", "port to listen on")
	fs.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	fs.String("timeout", "30s", "upper bound for each upstream call and each request")
}

func loadConfig(fs *pflag.FlagSet) (*config, loadResult, error) {
	var res loadResult

	// .env never overrides variables already present in the environment
	res.envFile, _ = fs.GetString("env-file")
	if res.envFile != "" {
		if err := godotenv.Load(res.envFile); err != nil && !os.IsNotExist(errors.Cause(err)) {
			res.envErr = errors.Wrapf(err, "error loading %s", res.envFile)
		}
	}

	// Have to use custom key delimiter to allow for models with periods in the name
	v := viper.NewWithOptions(
		viper.KeyDelimiter("#"),
		viper.EnvKeyReplacer(strings.NewReplacer("#", "_")),
	)

	configPath, _ := fs.GetString("config")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetDefault("deepseek#endpoint", deepseekconstants.DefaultEndpoint)
	v.SetDefault("deepseek#api_key", "")
	v.SetDefault("deepseek#max_retries", 0)
	v.SetDefault("deepseek#retry_backoff", deepseekconstants.DefaultRetryBackoff.String())
	v.SetDefault("cors#allowed_origins", middleware.DefaultAllowedOrigins)
	v.SetDefault("port", "8000")
	v.SetDefault("log_level", "info")
	v.SetDefault("timeout", deepseekconstants.DefaultTimeout.String())
	v.SetDefault("server_api_key", "")
	v.SetDefault("max_body_bytes", 1<<20)

	for key, flag := range map[string]string{
		"port":      "port",
		"log_level": "log-level",
		"timeout":   "timeout",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, res, errors.Wrapf(err, "error binding flag %s", flag)
		}
	}

	// The provider credential keeps its conventional unprefixed name
	if err := v.BindEnv("deepseek#api_key", deepseekconstants.APIKeyEnv, envPrefix+"_DEEPSEEK_API_KEY"); err != nil {
		return nil, res, errors.Wrap(err, "error binding credential env")
	}
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, res, errors.Wrap(err, "error reading config file")
		}
	} else {
		res.configFile = v.ConfigFileUsed()
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, res, errors.Wrap(err, "error unmarshaling config")
	}
	cfg.Deepseek.Apikey = strings.TrimSpace(cfg.Deepseek.Apikey)

	return &cfg, res, nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
