package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	SectionServer      = "server"
	SectionSecurity    = "security"
	SectionCache       = "cache"
	SectionPerformance = "performance"
)

// Policy 是两层结构的策略表：第一层为分区（server/security/cache/performance），
// 第二层为分区内的键。所有键统一为小写，与 Viper 的键规范保持一致。
type Policy map[string]interface{}

// DefaultPolicy 返回内置默认策略。
func DefaultPolicy() Policy {
	return Policy{
		SectionServer: map[string]interface{}{
			"jsonlimit":      "10mb",
			"requesttimeout": "30s",
		},
		SectionSecurity: map[string]interface{}{
			"enabled": true,
			"helmet":  true,
		},
		SectionCache: map[string]interface{}{
			"enabled": false,
			"ttl":     3600,
		},
		SectionPerformance: map[string]interface{}{
			"compression": true,
		},
	}
}

// MergePolicy 将 override 合并到 base 之上并返回新表，输入均不会被修改。
// 规则：两侧同名键都是 map 时逐键合并（override 优先）；否则 override 整体替换。
// 合并只展开两层，更深的嵌套结构按值替换。
func MergePolicy(base, override Policy) Policy {
	out := normalizePolicy(base.Clone())
	if out == nil {
		out = Policy{}
	}
	for key, value := range normalizePolicy(override) {
		overrideSection, okOverride := value.(map[string]interface{})
		baseSection, okBase := out[key].(map[string]interface{})
		if !okOverride || !okBase {
			out[key] = cloneValue(value)
			continue
		}
		merged := make(map[string]interface{}, len(baseSection)+len(overrideSection))
		for k, v := range baseSection {
			merged[k] = v
		}
		for k, v := range overrideSection {
			merged[k] = cloneValue(v)
		}
		out[key] = merged
	}
	return out
}

// Clone 深拷贝策略表。
func (p Policy) Clone() Policy {
	if p == nil {
		return nil
	}
	out := make(Policy, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

// Lookup 以 "section.key" 形式读取策略值。
func (p Policy) Lookup(path string) (interface{}, bool) {
	section, key, found := strings.Cut(strings.ToLower(strings.TrimSpace(path)), ".")
	if !found {
		v, ok := p[section]
		return v, ok
	}
	m, ok := p[section].(map[string]interface{})
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// Bool 读取布尔值，类型不符时返回默认值。
func (p Policy) Bool(path string, def bool) bool {
	v, ok := p.Lookup(path)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return def
}

// String 读取字符串值。
func (p Policy) String(path, def string) string {
	v, ok := p.Lookup(path)
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Duration 读取时长，字符串按 Go Duration 解析，数字按秒解析。
func (p Policy) Duration(path string, def time.Duration) time.Duration {
	v, ok := p.Lookup(path)
	if !ok {
		return def
	}
	switch d := v.(type) {
	case string:
		var parsed Duration
		if err := parsed.UnmarshalText([]byte(d)); err == nil {
			return parsed.DurationValue()
		}
		return def
	case time.Duration:
		return d
	case float64:
		return time.Duration(d * float64(time.Second))
	}
	if n, ok := toInt64(v); ok {
		return time.Duration(n) * time.Second
	}
	return def
}

// Bytes 读取容量，支持 "10mb"、"512KiB" 等写法，数字按字节解析。
func (p Policy) Bytes(path string, def uint64) uint64 {
	v, ok := p.Lookup(path)
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		parsed, err := humanize.ParseBytes(s)
		if err != nil {
			return def
		}
		return parsed
	}
	if n, ok := toInt64(v); ok && n >= 0 {
		return uint64(n)
	}
	return def
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		parsed, err := parseInt(strings.TrimSpace(n))
		return parsed, err == nil
	}
	return 0, false
}

// normalizePolicy 将所有键转为小写；Viper 已经这样做，这里兜底处理代码构造的策略。
func normalizePolicy(p Policy) Policy {
	if p == nil {
		return nil
	}
	out := make(Policy, len(p))
	for k, v := range p {
		out[strings.ToLower(k)] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch m := v.(type) {
	case Policy:
		return normalizeValue(map[string]interface{}(m))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, inner := range m {
			out[strings.ToLower(k)] = normalizeValue(inner)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, inner := range m {
			out[strings.ToLower(fmt.Sprint(k))] = normalizeValue(inner)
		}
		return out
	}
	return v
}

func cloneValue(v interface{}) interface{} {
	switch m := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, inner := range m {
			out[k] = cloneValue(inner)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(m))
		for i, inner := range m {
			out[i] = cloneValue(inner)
		}
		return out
	case []string:
		return append([]string(nil), m...)
	}
	return v
}
