package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fetchbridge/logger"

	"github.com/spf13/viper"
)

const (
	DefaultTimeoutMs        = 30000
	DefaultMaxLogs          = 500
	DefaultPreviewChars     = 2000
	DefaultMaxResponseBytes = 32 << 20
)

type DefaultPaths struct {
	ConfigDir     string
	LogPathApp    string
	LogPathBridge string
	DBPath        string
	LogLevel      string
}

type Configuration struct {
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Server struct {
		Host    string `mapstructure:"host"`
		Port    string `mapstructure:"port"`
		LogPath string `mapstructure:"log_path"`
	} `mapstructure:"server"`
	Bridge struct {
		LogPath             string   `mapstructure:"log_path"`
		DefaultTimeoutMs    int      `mapstructure:"default_timeout_ms"`
		MaxLogs             int      `mapstructure:"max_logs"`
		PreviewChars        int      `mapstructure:"preview_chars"`
		MaxResponseBytes    int64    `mapstructure:"max_response_bytes"`
		SkipTLSVerify       bool     `mapstructure:"skip_tls_verify"`
		PersistLogs         bool     `mapstructure:"persist_logs"`
		AllowedOrigins      []string `mapstructure:"allowed_origins"`
		AllowedDestinations []string `mapstructure:"allowed_destinations"`
	} `mapstructure:"bridge"`
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

var AppConfig Configuration

func ExpandTilde(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

func GetDefaultConfigPaths() DefaultPaths {
	var paths DefaultPaths
	userConfigDirBase, err := os.UserConfigDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not get user config dir: %v. Using current directory.\n", err)
		userConfigDirBase = "."
	}

	paths.ConfigDir = filepath.Join(userConfigDirBase, "fetchbridge")
	logDir := filepath.Join(paths.ConfigDir, "logs")

	paths.LogPathApp = filepath.Join(logDir, "app.log")
	paths.LogPathBridge = filepath.Join(logDir, "bridge.log")
	paths.DBPath = filepath.Join(paths.ConfigDir, "fetchbridge.db")
	paths.LogLevel = "INFO"
	return paths
}

func setDefaults(v *viper.Viper, defaults DefaultPaths) {
	v.SetDefault("database.path", defaults.DBPath)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8797")
	v.SetDefault("server.log_path", defaults.LogPathApp)
	v.SetDefault("bridge.log_path", defaults.LogPathBridge)
	v.SetDefault("bridge.default_timeout_ms", DefaultTimeoutMs)
	v.SetDefault("bridge.max_logs", DefaultMaxLogs)
	v.SetDefault("bridge.preview_chars", DefaultPreviewChars)
	v.SetDefault("bridge.max_response_bytes", DefaultMaxResponseBytes)
	v.SetDefault("bridge.skip_tls_verify", false)
	v.SetDefault("bridge.persist_logs", true)
	v.SetDefault("bridge.allowed_origins", []string{})
	v.SetDefault("bridge.allowed_destinations", []string{})
	v.SetDefault("logging.level", defaults.LogLevel)
}

// Load reads configuration into a fresh Configuration without touching
// AppConfig or the loggers. cfgFile may be empty to search the default paths.
func Load(cfgFile string) (Configuration, string, error) {
	var cfg Configuration
	v := viper.New()
	defaults := GetDefaultConfigPaths()
	setDefaults(v, defaults)

	if cfgFile != "" {
		expanded, err := ExpandTilde(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not expand tilde in config file path '%s': %v. Trying original path.\n", cfgFile, err)
			expanded = cfgFile
		}
		v.SetConfigFile(expanded)
		v.SetConfigType("yaml")
	} else {
		v.AddConfigPath(defaults.ConfigDir)
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("FETCHBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configUsedMsg := "Using default/environment configuration."
	if readErr := v.ReadInConfig(); readErr == nil {
		configUsedMsg = fmt.Sprintf("Using config file: %s", v.ConfigFileUsed())
	} else if _, ok := readErr.(viper.ConfigFileNotFoundError); ok {
		if cfgFile != "" {
			return cfg, "", fmt.Errorf("config file %s not found: %w", cfgFile, readErr)
		}
	} else {
		return cfg, "", fmt.Errorf("reading config file %s: %w", v.ConfigFileUsed(), readErr)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, "", fmt.Errorf("unable to decode config into struct: %w", err)
	}
	return cfg, configUsedMsg, nil
}

func (c *Configuration) normalize() {
	var err error
	for _, p := range []*string{&c.Database.Path, &c.Server.LogPath, &c.Bridge.LogPath} {
		if *p, err = ExpandTilde(*p); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not expand tilde in '%s': %v.\n", *p, err)
		}
	}
	c.Logging.Level = strings.ToUpper(c.Logging.Level)
	if c.Bridge.DefaultTimeoutMs <= 0 {
		c.Bridge.DefaultTimeoutMs = DefaultTimeoutMs
	}
	if c.Bridge.MaxLogs <= 0 {
		c.Bridge.MaxLogs = DefaultMaxLogs
	}
	if c.Bridge.PreviewChars <= 0 {
		c.Bridge.PreviewChars = DefaultPreviewChars
	}
	if c.Bridge.MaxResponseBytes <= 0 {
		c.Bridge.MaxResponseBytes = DefaultMaxResponseBytes
	}
}

func Init(cfgFile string, flagAppLogPath, flagBridgeLogPath, flagLogLevel string) error {
	cfg, configUsedMsg, err := Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: %v\n", err)
		return err
	}

	if flagAppLogPath != "" {
		cfg.Server.LogPath = flagAppLogPath
	}
	if flagBridgeLogPath != "" {
		cfg.Bridge.LogPath = flagBridgeLogPath
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	cfg.normalize()
	AppConfig = cfg

	if err := os.MkdirAll(GetDefaultConfigPaths().ConfigDir, 0750); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not create main config directory: %v\n", err)
	}

	if err := logger.InitGlobalLoggers(AppConfig.Server.LogPath, AppConfig.Bridge.LogPath, AppConfig.Logging.Level); err != nil {
		return fmt.Errorf("failed to initialize global loggers with final config: %w", err)
	}

	logger.Info(configUsedMsg)
	if flagAppLogPath != "" || flagBridgeLogPath != "" || flagLogLevel != "" {
		logger.Info("Log path/level flags overrode config file/defaults.")
	}
	if AppConfig.Bridge.SkipTLSVerify {
		logger.Warn("Bridge: TLS certificate verification for outgoing requests is DISABLED.")
	}
	if len(AppConfig.Bridge.AllowedOrigins) == 0 {
		logger.Warn("Bridge: no allowed origins configured; every page request will be blocked until one is added.")
	}
	logger.Debug("Final AppConfig Initialized: %+v", AppConfig)
	return nil
}
