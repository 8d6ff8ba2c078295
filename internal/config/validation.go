package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
// 路由前缀与 allow-list 的一致性由 topology.Store 在注册时校验。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	switch g.Env {
	case EnvDevelopment, EnvProduction:
	default:
		return newFieldError("Global.Env", "仅支持 development/production")
	}
	if g.BasePort <= 0 || g.BasePort > 65535 {
		return newFieldError("Global.BasePort", "必须在 1-65535")
	}
	switch g.StartupMode {
	case StartupFailFast, StartupBestEffort:
	default:
		return newFieldError("Global.StartupMode", "仅支持 fail-fast/best-effort")
	}
	switch g.TLSFallback {
	case TLSFallbackFail, TLSFallbackPlain:
	default:
		return newFieldError("Global.TLSFallback", "仅支持 fail/plain")
	}
	if strings.TrimSpace(g.Issuer) == "" {
		return newFieldError("Global.Issuer", "不能为空")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.ProvisionTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ProvisionTimeout", "必须大于 0")
	}
	if g.ProvisionParallelism <= 0 {
		return newFieldError("Global.ProvisionParallelism", "必须大于 0")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.MaxBackoff.DurationValue() < g.InitialBackoff.DurationValue() {
		return newFieldError("Global.MaxBackoff", "不能小于 InitialBackoff")
	}
	if g.ShutdownGrace.DurationValue() <= 0 {
		return newFieldError("Global.ShutdownGrace", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	aps := g.AutoPortSwitch
	if aps.MaxAttempts < 1 {
		return newFieldError("Global.AutoPortSwitch.MaxAttempts", "必须大于 0")
	}
	if strings.TrimSpace(aps.Strategy) == "" {
		return newFieldError("Global.AutoPortSwitch.Strategy", "不能为空")
	}
	if aps.RangeMin < 0 || aps.RangeMax > 65535 || aps.RangeMin > aps.RangeMax {
		return newFieldError("Global.AutoPortSwitch.RangeMin/RangeMax", "范围非法")
	}

	if !g.MultiServer {
		return nil
	}
	if len(c.Instances) == 0 {
		return errors.New("MultiServer 模式至少需要配置一个 Instance")
	}

	seen := map[string]struct{}{}
	for i := range c.Instances {
		inst := &c.Instances[i]
		inst.ID = strings.TrimSpace(inst.ID)
		if inst.ID == "" {
			return newFieldError("Instance[].ID", "不能为空")
		}
		if _, exists := seen[inst.ID]; exists {
			return newInstanceError(inst.ID, "ID", "重复", nil)
		}
		seen[inst.ID] = struct{}{}

		if inst.Port < 0 || inst.Port > 65535 {
			return newInstanceError(inst.ID, "Port", "必须在 0-65535", nil)
		}
		if inst.RoutePrefix != "" && !strings.HasPrefix(inst.RoutePrefix, "/") {
			return newInstanceError(inst.ID, "RoutePrefix", "必须以 / 开头", nil)
		}
		if inst.TLS.Enabled {
			if err := validateDomain(inst.TLS.Domain); err != nil {
				return newInstanceError(inst.ID, "TLS.Domain", "", err)
			}
		}
		if inst.Upstream != "" {
			if err := validateUpstream(inst.Upstream); err != nil {
				return newInstanceError(inst.ID, "Upstream", "", err)
			}
		}
	}

	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.Contains(domain, "://") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
