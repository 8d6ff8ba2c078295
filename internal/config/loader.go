package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析配置文件（TOML/YAML/JSON 依扩展名判断），同时注入默认值、环境变量覆盖与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if !v.IsSet("MultiServer") {
		cfg.Global.MultiServer = len(cfg.Instances) > 0
	}

	if err := applyEnvOverrides(&cfg.Global); err != nil {
		return nil, err
	}
	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Instances {
		applyInstanceDefaults(&cfg.Instances[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析存储目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Env", EnvDevelopment)
	v.SetDefault("BaseHost", "")
	v.SetDefault("BasePort", 9837)
	v.SetDefault("StartupMode", StartupFailFast)
	v.SetDefault("TLSFallback", TLSFallbackFail)
	v.SetDefault("Issuer", "selfsigned")
	v.SetDefault("IssuerDir", "")
	v.SetDefault("ProvisionTimeout", "30s")
	v.SetDefault("ProvisionParallelism", 4)
	v.SetDefault("MaxRetries", 2)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("MaxBackoff", "30s")
	v.SetDefault("ShutdownGrace", "10s")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("AutoPortSwitch.Enabled", true)
	v.SetDefault("AutoPortSwitch.MaxAttempts", 10)
	v.SetDefault("AutoPortSwitch.Strategy", "increment")
}

func applyGlobalDefaults(g *GlobalConfig) {
	g.Env = strings.ToLower(strings.TrimSpace(g.Env))
	if g.Env == "" {
		g.Env = EnvDevelopment
	}
	if g.BasePort == 0 {
		g.BasePort = 9837
	}
	g.StartupMode = strings.ToLower(strings.TrimSpace(g.StartupMode))
	if g.StartupMode == "" {
		g.StartupMode = StartupFailFast
	}
	g.TLSFallback = strings.ToLower(strings.TrimSpace(g.TLSFallback))
	if g.TLSFallback == "" {
		g.TLSFallback = TLSFallbackFail
	}
	g.Issuer = strings.ToLower(strings.TrimSpace(g.Issuer))
	if g.ProvisionTimeout.DurationValue() == 0 {
		g.ProvisionTimeout = Duration(30 * time.Second)
	}
	if g.ProvisionParallelism == 0 {
		g.ProvisionParallelism = 4
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(time.Second)
	}
	if g.MaxBackoff.DurationValue() == 0 {
		g.MaxBackoff = Duration(30 * time.Second)
	}
	if g.ShutdownGrace.DurationValue() == 0 {
		g.ShutdownGrace = Duration(10 * time.Second)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.AutoPortSwitch.MaxAttempts == 0 {
		g.AutoPortSwitch.MaxAttempts = 10
	}
	g.AutoPortSwitch.Strategy = strings.ToLower(strings.TrimSpace(g.AutoPortSwitch.Strategy))
	if g.AutoPortSwitch.Strategy == "" {
		g.AutoPortSwitch.Strategy = "increment"
	}
}

func applyInstanceDefaults(inst *InstanceConfig) {
	inst.ID = strings.TrimSpace(inst.ID)
	// [Instance.Server] Host 与顶层 Host 等价，顶层优先。
	if strings.TrimSpace(inst.Host) == "" {
		for key, value := range inst.Server {
			if host, ok := value.(string); ok && strings.EqualFold(key, "host") {
				inst.Host = strings.TrimSpace(host)
			}
		}
	}
	inst.RoutePrefix = strings.TrimSpace(inst.RoutePrefix)
	if inst.RoutePrefix == "" {
		inst.RoutePrefix = "/"
	}
	for i, route := range inst.AllowedRoutes {
		inst.AllowedRoutes[i] = strings.TrimSpace(route)
	}
	inst.TLS.Domain = strings.ToLower(strings.TrimSpace(inst.TLS.Domain))
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
