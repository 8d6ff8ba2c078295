package topology

import (
	"strings"

	"github.com/topohub/topohub/internal/config"
)

// TLSSpec 描述实例的证书需求。
type TLSSpec struct {
	Enabled bool
	Domain  string
	Email   string
}

// Descriptor 是单个 Server 实例的不可变描述。
type Descriptor struct {
	ID            string
	Host          string
	Port          int
	RoutePrefix   string
	AllowedRoutes []string
	TLS           TLSSpec
	// Upstream 为空时实例使用内置处理器应答。
	Upstream string
	// Overrides 仅包含用户显式声明的策略键，合并逻辑见 config.MergePolicy。
	Overrides config.Policy

	patterns []Pattern
}

// Patterns 返回编译后的 allow-list，仅对已注册的描述符有效。
func (d Descriptor) Patterns() []Pattern {
	return append([]Pattern(nil), d.patterns...)
}

// Wildcard 表示实例绑定在所有地址上。
func (d Descriptor) Wildcard() bool {
	return IsWildcardHost(d.Host)
}

// ServesHost 判断 Host 头（已规范化）是否可以由该实例承接。
func (d Descriptor) ServesHost(host string) bool {
	if d.Wildcard() {
		return true
	}
	if host == "" {
		return false
	}
	if bound, _ := NormalizeHost(d.Host); bound == host {
		return true
	}
	if d.TLS.Domain != "" {
		if domain, _ := NormalizeHost(d.TLS.Domain); domain == host {
			return true
		}
	}
	return false
}

func (d Descriptor) clone() Descriptor {
	out := d
	out.AllowedRoutes = append([]string(nil), d.AllowedRoutes...)
	out.patterns = append([]Pattern(nil), d.patterns...)
	out.Overrides = d.Overrides.Clone()
	return out
}

// compile 校验描述符并填充默认 allow-list 与编译后的模式。
func (d Descriptor) compile() (Descriptor, error) {
	d.ID = strings.TrimSpace(d.ID)
	if d.ID == "" {
		return d, newConfigError(KindMissingID, "", "id must not be empty")
	}
	if d.Port < 0 || d.Port > 65535 {
		return d, newConfigError(KindInvalidPort, d.ID, "port %d out of range", d.Port)
	}

	d.RoutePrefix = normalizePrefix(d.RoutePrefix)
	if len(d.AllowedRoutes) == 0 {
		if d.RoutePrefix == "/" {
			d.AllowedRoutes = []string{"/*"}
		} else {
			d.AllowedRoutes = []string{d.RoutePrefix + "/*"}
		}
	}

	patterns := make([]Pattern, 0, len(d.AllowedRoutes))
	for _, raw := range d.AllowedRoutes {
		p, err := CompilePattern(raw)
		if err != nil {
			return d, newConfigError(KindInvalidPattern, d.ID, "%v", err)
		}
		if !HasRoutePrefix(p.String(), d.RoutePrefix) {
			return d, newConfigError(KindInvalidPrefix, d.ID, "pattern %q does not start with %q", raw, d.RoutePrefix)
		}
		patterns = append(patterns, p)
	}
	d.patterns = patterns

	if d.TLS.Enabled && strings.TrimSpace(d.TLS.Domain) == "" {
		return d, newConfigError(KindInvalidTLS, d.ID, "tls enabled without domain")
	}
	return d, nil
}

// Compiled 返回校验并编译后的描述符副本，供未经 Store 的调用方（如计划预览）使用。
func (d Descriptor) Compiled() (Descriptor, error) {
	compiled, err := d.compile()
	if err != nil {
		return Descriptor{}, err
	}
	return compiled.clone(), nil
}

// FromConfig 将配置条目转换为描述符，Host/Port 缺省值应已由 config.EffectiveInstances 填充。
func FromConfig(inst config.InstanceConfig) Descriptor {
	return Descriptor{
		ID:            inst.ID,
		Host:          inst.Host,
		Port:          inst.Port,
		RoutePrefix:   inst.RoutePrefix,
		AllowedRoutes: append([]string(nil), inst.AllowedRoutes...),
		TLS: TLSSpec{
			Enabled: inst.TLS.Enabled,
			Domain:  strings.TrimSpace(inst.TLS.Domain),
			Email:   inst.TLS.Email,
		},
		Upstream:  strings.TrimSpace(inst.Upstream),
		Overrides: inst.Overrides(),
	}
}
