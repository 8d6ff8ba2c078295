package provision

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// IssuerOptions 传递给签发器工厂。
type IssuerOptions struct {
	// Dir 是 files 签发器读取证书的根目录。
	Dir string
	// Validity 是 selfsigned 证书的有效期，默认 90 天。
	Validity time.Duration
	Now      func() time.Time
}

// IssuerFactory 根据选项构建签发器。
type IssuerFactory func(opts IssuerOptions) (Issuer, error)

var issuerRegistry = struct {
	mu        sync.RWMutex
	factories map[string]IssuerFactory
}{factories: make(map[string]IssuerFactory)}

// RegisterIssuer 登记签发器工厂，重复名称返回错误。
func RegisterIssuer(name string, factory IssuerFactory) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return fmt.Errorf("issuer name is required")
	}
	if factory == nil {
		return fmt.Errorf("issuer %s factory is nil", key)
	}

	issuerRegistry.mu.Lock()
	defer issuerRegistry.mu.Unlock()

	if _, exists := issuerRegistry.factories[key]; exists {
		return fmt.Errorf("issuer %s already registered", key)
	}
	issuerRegistry.factories[key] = factory
	return nil
}

// MustRegisterIssuer 在注册失败时 panic。
func MustRegisterIssuer(name string, factory IssuerFactory) {
	if err := RegisterIssuer(name, factory); err != nil {
		panic(err)
	}
}

// NewIssuer 按名称构建签发器。
func NewIssuer(name string, opts IssuerOptions) (Issuer, error) {
	key := strings.ToLower(strings.TrimSpace(name))

	issuerRegistry.mu.RLock()
	factory, ok := issuerRegistry.factories[key]
	issuerRegistry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %s)", ErrUnknownIssuer, name, strings.Join(IssuerNames(), ", "))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return factory(opts)
}

// IssuerNames 返回已注册的签发器名称（排序后）。
func IssuerNames() []string {
	issuerRegistry.mu.RLock()
	defer issuerRegistry.mu.RUnlock()

	names := make([]string, 0, len(issuerRegistry.factories))
	for name := range issuerRegistry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
