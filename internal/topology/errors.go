package topology

import (
	"errors"
	"fmt"
)

// ConfigErrorKind 标识描述符校验失败的具体类别。
type ConfigErrorKind string

const (
	KindMissingID      ConfigErrorKind = "missing_id"
	KindDuplicateID    ConfigErrorKind = "duplicate_id"
	KindInvalidPrefix  ConfigErrorKind = "invalid_prefix"
	KindInvalidPattern ConfigErrorKind = "invalid_pattern"
	KindInvalidPort    ConfigErrorKind = "invalid_port"
	KindInvalidTLS     ConfigErrorKind = "invalid_tls"
)

var (
	ErrDuplicateID    = errors.New("duplicate instance id")
	ErrInvalidPrefix  = errors.New("allow-list pattern outside route prefix")
	ErrInvalidPattern = errors.New("invalid allow-list pattern")
	ErrMissingID      = errors.New("instance id required")
	ErrInvalidPort    = errors.New("invalid port")
	ErrInvalidTLS     = errors.New("invalid tls settings")
)

// ConfigError 描述启动阶段不可恢复的拓扑配置错误。
type ConfigError struct {
	Kind       ConfigErrorKind
	InstanceID string
	Detail     string
}

func (e *ConfigError) Error() string {
	id := e.InstanceID
	if id == "" {
		id = "?"
	}
	if e.Detail == "" {
		return fmt.Sprintf("instance %s: %s", id, e.Kind)
	}
	return fmt.Sprintf("instance %s: %s: %s", id, e.Kind, e.Detail)
}

// Unwrap 让 errors.Is 可以直接匹配 ErrDuplicateID 等哨兵错误。
func (e *ConfigError) Unwrap() error {
	switch e.Kind {
	case KindMissingID:
		return ErrMissingID
	case KindDuplicateID:
		return ErrDuplicateID
	case KindInvalidPrefix:
		return ErrInvalidPrefix
	case KindInvalidPattern:
		return ErrInvalidPattern
	case KindInvalidPort:
		return ErrInvalidPort
	case KindInvalidTLS:
		return ErrInvalidTLS
	}
	return nil
}

func newConfigError(kind ConfigErrorKind, id, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Kind: kind, InstanceID: id, Detail: fmt.Sprintf(format, args...)}
}
