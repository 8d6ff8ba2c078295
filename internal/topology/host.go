package topology

import (
	"net"
	"strconv"
	"strings"
)

// IsWildcardHost 判断绑定地址是否覆盖所有网卡/Host。
func IsWildcardHost(host string) bool {
	switch strings.TrimSpace(host) {
	case "", "*", "0.0.0.0", "::", "[::]":
		return true
	}
	return false
}

// NormalizeHost 将 Host 或 Host:port 统一为小写主机名，并返回解析出的端口（缺省为 0）。
func NormalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if strings.HasPrefix(raw, "[") && strings.HasSuffix(raw, "]") {
			host = raw[1 : len(raw)-1]
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw, ":") == 1 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
