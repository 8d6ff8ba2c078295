package topology

import (
	"fmt"
	"path"
	"strings"
)

// Pattern 是编译后的 allow-list glob。
//
// 语义：
//   - 末尾 "/*" 匹配固定前缀之后的零个或多个路径段；
//   - 单独占据一个中间段的 "*" 恰好匹配一个路径段；
//   - 不含 "*" 的模式要求整条路径完全一致。
type Pattern struct {
	raw      string
	segments []string
	tail     bool
	literal  string
}

// CompilePattern 校验并编译一条 allow-list 模式。
func CompilePattern(raw string) (Pattern, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !strings.HasPrefix(trimmed, "/") {
		return Pattern{}, fmt.Errorf("%w: %q must start with /", ErrInvalidPattern, raw)
	}

	p := Pattern{raw: trimmed}
	body := trimmed
	if body == "/*" {
		p.tail = true
		body = "/"
	} else if strings.HasSuffix(body, "/*") {
		p.tail = true
		body = strings.TrimSuffix(body, "/*")
	} else if body != "/" {
		body = strings.TrimSuffix(body, "/")
	}

	if body != "/" {
		for _, seg := range strings.Split(strings.TrimPrefix(body, "/"), "/") {
			if seg == "" {
				return Pattern{}, fmt.Errorf("%w: %q contains an empty segment", ErrInvalidPattern, raw)
			}
			if seg == "." || seg == ".." {
				return Pattern{}, fmt.Errorf("%w: %q contains a dot segment", ErrInvalidPattern, raw)
			}
			if seg != "*" && strings.Contains(seg, "*") {
				return Pattern{}, fmt.Errorf("%w: %q mixes * with literal text", ErrInvalidPattern, raw)
			}
			p.segments = append(p.segments, seg)
		}
	}

	p.literal = literalPrefix(trimmed)
	return p, nil
}

// MustCompilePattern 在模式非法时 panic，仅用于测试与常量。
func MustCompilePattern(raw string) Pattern {
	p, err := CompilePattern(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String 返回原始模式。
func (p Pattern) String() string {
	return p.raw
}

// Literal 返回第一个通配符之前的固定前缀。
func (p Pattern) Literal() string {
	return p.literal
}

// LiteralLen 是最长前缀优先规则使用的权重。
func (p Pattern) LiteralLen() int {
	return len(p.literal)
}

// Match 判断已经规范化的路径是否落在模式内。
func (p Pattern) Match(cleanPath string) bool {
	var parts []string
	if cleanPath != "/" && cleanPath != "" {
		parts = strings.Split(strings.TrimPrefix(cleanPath, "/"), "/")
	}

	if len(parts) < len(p.segments) {
		return false
	}
	if !p.tail && len(parts) != len(p.segments) {
		return false
	}
	for i, seg := range p.segments {
		if seg == "*" {
			continue
		}
		if parts[i] != seg {
			return false
		}
	}
	return true
}

// CleanPath 将请求路径规范化为 Match 期望的形式：去掉查询串、补全前导 /、消除 . 与 ..。
func CleanPath(raw string) string {
	if idx := strings.IndexAny(raw, "?#"); idx >= 0 {
		raw = raw[:idx]
	}
	if raw == "" {
		return "/"
	}
	return path.Clean("/" + raw)
}

// HasRoutePrefix 判断模式是否位于路由前缀之内，按路径段边界比较。
func HasRoutePrefix(pattern, prefix string) bool {
	prefix = normalizePrefix(prefix)
	if prefix == "/" {
		return strings.HasPrefix(pattern, "/")
	}
	if !strings.HasPrefix(pattern, prefix) {
		return false
	}
	rest := pattern[len(prefix):]
	return rest == "" || strings.HasPrefix(rest, "/")
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || prefix == "/" {
		return "/"
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}

func literalPrefix(raw string) string {
	if idx := strings.Index(raw, "*"); idx >= 0 {
		return raw[:idx]
	}
	return raw
}
