package provision

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// State 是证书申请记录的状态。
type State string

const (
	StatePending State = "pending"
	StateIssuing State = "issuing"
	StateIssued  State = "issued"
	StateFailed  State = "failed"
)

var (
	// ErrProvisionTimeout 表示签发超过了配置的超时时间。
	ErrProvisionTimeout = errors.New("provisioning timed out")
	// ErrNotFailed 表示 Retry 只能作用于 Failed 记录。
	ErrNotFailed = errors.New("record is not in failed state")
	// ErrRecordNotFound 表示域名尚未发起过申请。
	ErrRecordNotFound = errors.New("provisioning record not found")
	// ErrUnknownIssuer 表示配置引用了未注册的签发器。
	ErrUnknownIssuer = errors.New("unknown issuer")
)

// IssueRequest 对应外部签发能力 issue(domain, email, port, useSSL)。
type IssueRequest struct {
	Domain string
	Email  string
	Port   int
	UseSSL bool
}

// Certificate 是 PEM 编码的证书链与私钥。
type Certificate struct {
	CertPEM  []byte
	KeyPEM   []byte
	NotAfter time.Time
}

// TLS 将 PEM 转为 tls.Certificate，并回填 NotAfter。
func (c *Certificate) TLS() (tls.Certificate, error) {
	if c == nil {
		return tls.Certificate{}, errors.New("certificate is nil")
	}
	pair, err := tls.X509KeyPair(c.CertPEM, c.KeyPEM)
	if err != nil {
		return tls.Certificate{}, err
	}
	if pair.Leaf == nil && len(pair.Certificate) > 0 {
		if leaf, err := x509.ParseCertificate(pair.Certificate[0]); err == nil {
			pair.Leaf = leaf
		}
	}
	if pair.Leaf != nil && c.NotAfter.IsZero() {
		c.NotAfter = pair.Leaf.NotAfter
	}
	return pair, nil
}

// Issuer 是外部签发能力，必须响应 ctx 取消。
type Issuer interface {
	Issue(ctx context.Context, req IssueRequest) (*Certificate, error)
}

// IssuerFunc 将函数适配为 Issuer。
type IssuerFunc func(ctx context.Context, req IssueRequest) (*Certificate, error)

// Issue 让 IssuerFunc 满足 Issuer。
func (f IssuerFunc) Issue(ctx context.Context, req IssueRequest) (*Certificate, error) {
	return f(ctx, req)
}

// Record 是某个域名的申请状态，调用方拿到的总是副本。
type Record struct {
	Domain     string       `json:"domain"`
	InstanceID string       `json:"instance"`
	State      State        `json:"state"`
	Err        error        `json:"-"`
	LastError  string       `json:"last_error,omitempty"`
	IssuedAt   time.Time    `json:"issued_at,omitempty"`
	Attempts   int          `json:"attempts"`
	AttemptID  string       `json:"attempt_id"`
	Restored   bool         `json:"restored,omitempty"`
	CertPath   string       `json:"cert_path,omitempty"`
	KeyPath    string       `json:"key_path,omitempty"`
	Cert       *Certificate `json:"-"`
}

// ProvisioningError 描述某个实例的证书申请失败。
type ProvisioningError struct {
	Domain     string
	InstanceID string
	Err        error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("instance %s: provision certificate for %s: %v", e.InstanceID, e.Domain, e.Err)
}

func (e *ProvisioningError) Unwrap() error {
	return e.Err
}
