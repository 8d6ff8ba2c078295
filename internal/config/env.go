package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix 是所有环境变量覆盖项的前缀，例如 TOPOHUB_PORT。
const EnvPrefix = "topohub"

// envOverrides 对应部署环境常用的少量覆盖项，其余参数仍以配置文件为准。
type envOverrides struct {
	Env         string `envconfig:"ENV"`
	Host        string `envconfig:"HOST"`
	Port        int    `envconfig:"PORT"`
	StartupMode string `envconfig:"STARTUP_MODE"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
}

// applyEnvOverrides 读取 TOPOHUB_* 环境变量并覆盖全局配置中的对应字段。
func applyEnvOverrides(g *GlobalConfig) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("解析环境变量失败: %w", err)
	}
	if env.Env != "" {
		g.Env = strings.ToLower(env.Env)
	}
	if env.Host != "" {
		g.BaseHost = env.Host
	}
	if env.Port != 0 {
		g.BasePort = env.Port
	}
	if env.StartupMode != "" {
		g.StartupMode = strings.ToLower(env.StartupMode)
	}
	if env.LogLevel != "" {
		g.LogLevel = env.LogLevel
	}
	return nil
}
