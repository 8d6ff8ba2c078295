package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StartupFailFast   = "fail-fast"
	StartupBestEffort = "best-effort"

	TLSFallbackFail  = "fail"
	TLSFallbackPlain = "plain"

	// DefaultInstanceID 是单实例模式下自动生成的实例 ID。
	DefaultInstanceID = "main"
)

// AutoPortSwitch 控制端口冲突时的自动切换策略。
type AutoPortSwitch struct {
	Enabled     bool   `mapstructure:"Enabled"`
	MaxAttempts int    `mapstructure:"MaxAttempts"`
	Strategy    string `mapstructure:"Strategy"`
	// RangeMin/RangeMax/Seed 仅对 random-in-range 策略生效。
	RangeMin int   `mapstructure:"RangeMin"`
	RangeMax int   `mapstructure:"RangeMax"`
	Seed     int64 `mapstructure:"Seed"`
}

// GlobalConfig 描述整个拓扑共享的运行参数与默认策略。
type GlobalConfig struct {
	Env                  string         `mapstructure:"Env"`
	BaseHost             string         `mapstructure:"BaseHost"`
	BasePort             int            `mapstructure:"BasePort"`
	MultiServer          bool           `mapstructure:"MultiServer"`
	StartupMode          string         `mapstructure:"StartupMode"`
	TLSFallback          string         `mapstructure:"TLSFallback"`
	Issuer               string         `mapstructure:"Issuer"`
	IssuerDir            string         `mapstructure:"IssuerDir"`
	ProvisionTimeout     Duration       `mapstructure:"ProvisionTimeout"`
	ProvisionParallelism int            `mapstructure:"ProvisionParallelism"`
	MaxRetries           int            `mapstructure:"MaxRetries"`
	InitialBackoff       Duration       `mapstructure:"InitialBackoff"`
	MaxBackoff           Duration       `mapstructure:"MaxBackoff"`
	ShutdownGrace        Duration       `mapstructure:"ShutdownGrace"`
	UpstreamTimeout      Duration       `mapstructure:"UpstreamTimeout"`
	StoragePath          string         `mapstructure:"StoragePath"`
	LogLevel             string         `mapstructure:"LogLevel"`
	LogFilePath          string         `mapstructure:"LogFilePath"`
	LogMaxSize           int            `mapstructure:"LogMaxSize"`
	LogMaxBackups        int            `mapstructure:"LogMaxBackups"`
	LogCompress          bool           `mapstructure:"LogCompress"`
	AutoPortSwitch       AutoPortSwitch `mapstructure:"AutoPortSwitch"`

	Server      map[string]interface{} `mapstructure:"Server"`
	Security    map[string]interface{} `mapstructure:"Security"`
	Cache       map[string]interface{} `mapstructure:"Cache"`
	Performance map[string]interface{} `mapstructure:"Performance"`
}

// TLSConfig 描述实例的证书申请参数。
type TLSConfig struct {
	Enabled bool   `mapstructure:"Enabled"`
	Domain  string `mapstructure:"Domain"`
	Email   string `mapstructure:"Email"`
}

// InstanceConfig 对应配置中的一个 [[Instance]] 条目。
type InstanceConfig struct {
	ID            string    `mapstructure:"ID"`
	Host          string    `mapstructure:"Host"`
	Port          int       `mapstructure:"Port"`
	RoutePrefix   string    `mapstructure:"RoutePrefix"`
	AllowedRoutes []string  `mapstructure:"AllowedRoutes"`
	Upstream      string    `mapstructure:"Upstream"`
	TLS           TLSConfig `mapstructure:"TLS"`

	Server      map[string]interface{} `mapstructure:"Server"`
	Security    map[string]interface{} `mapstructure:"Security"`
	Cache       map[string]interface{} `mapstructure:"Cache"`
	Performance map[string]interface{} `mapstructure:"Performance"`
}

// Config 是配置文件映射的整体结构。
type Config struct {
	Global    GlobalConfig     `mapstructure:",squash"`
	Instances []InstanceConfig `mapstructure:"Instance"`
}

// BestEffort 表示启动失败的实例会被剔除而不是中止整个拓扑。
func (g GlobalConfig) BestEffort() bool {
	return g.StartupMode == StartupBestEffort
}

// AllowPlainFallback 表示证书签发失败时可以降级为明文 HTTP。
func (g GlobalConfig) AllowPlainFallback() bool {
	return g.TLSFallback == TLSFallbackPlain
}

// DefaultHost 根据运行环境给出缺省绑定地址：开发环境仅监听本机，生产环境监听所有网卡。
func (g GlobalConfig) DefaultHost() string {
	if strings.TrimSpace(g.BaseHost) != "" {
		return strings.TrimSpace(g.BaseHost)
	}
	if g.Env == EnvProduction {
		return "0.0.0.0"
	}
	return "localhost"
}

// Policy 返回合并内置默认值后的全局策略。
func (g GlobalConfig) Policy() Policy {
	return MergePolicy(DefaultPolicy(), sectionsPolicy(g.Server, g.Security, g.Cache, g.Performance))
}

// Overrides 仅返回实例显式声明的策略分区。
func (i InstanceConfig) Overrides() Policy {
	return sectionsPolicy(i.Server, i.Security, i.Cache, i.Performance)
}

// EffectiveInstances 返回实际运行的实例列表；未开启多实例模式时合成单个默认实例。
func (c *Config) EffectiveInstances() []InstanceConfig {
	if c == nil {
		return nil
	}
	if !c.Global.MultiServer {
		return []InstanceConfig{{
			ID:            DefaultInstanceID,
			Host:          c.Global.DefaultHost(),
			Port:          c.Global.BasePort,
			RoutePrefix:   "/",
			AllowedRoutes: []string{"/*"},
		}}
	}

	result := make([]InstanceConfig, len(c.Instances))
	for i, inst := range c.Instances {
		if strings.TrimSpace(inst.Host) == "" {
			inst.Host = c.Global.DefaultHost()
		}
		if inst.Port == 0 {
			inst.Port = c.Global.BasePort
		}
		result[i] = inst
	}
	return result
}

// TLSInstances 返回开启 TLS 的实例 ID，供日志摘要使用。
func TLSInstances(instances []InstanceConfig) []string {
	var result []string
	for _, inst := range instances {
		if inst.TLS.Enabled {
			result = append(result, fmt.Sprintf("%s:%s", inst.ID, inst.TLS.Domain))
		}
	}
	return result
}

func sectionsPolicy(server, security, cache, performance map[string]interface{}) Policy {
	p := Policy{}
	if server != nil {
		p[SectionServer] = map[string]interface{}(server)
	}
	if security != nil {
		p[SectionSecurity] = map[string]interface{}(security)
	}
	if cache != nil {
		p[SectionCache] = map[string]interface{}(cache)
	}
	if performance != nil {
		p[SectionPerformance] = map[string]interface{}(performance)
	}
	return normalizePolicy(p)
}
