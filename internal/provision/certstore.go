package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/topohub/topohub/internal/storage"
)

const (
	certNamespace = "certs"
	certFileName  = "cert.pem"
	keyFileName   = "key.pem"
)

// ErrCertNotFound 表示磁盘上没有该域名的证书。
var ErrCertNotFound = errors.New("certificate not found")

// CertPaths 是证书与私钥在磁盘上的位置。
type CertPaths struct {
	Cert string
	Key  string
}

// CertStore 将签发结果落盘到 <StoragePath>/certs/<domain>/，供 TLS 监听热加载。
type CertStore struct {
	store storage.Store
}

// NewCertStore 基于通用磁盘存储构建证书存储。
func NewCertStore(store storage.Store) *CertStore {
	return &CertStore{store: store}
}

// OpenCertStore 以 StoragePath 为根目录创建证书存储。
func OpenCertStore(basePath string) (*CertStore, error) {
	store, err := storage.NewStore(basePath)
	if err != nil {
		return nil, err
	}
	return NewCertStore(store), nil
}

// Put 写入证书与私钥。私钥先于证书落盘，证书文件出现即代表这一对已完整。
func (s *CertStore) Put(ctx context.Context, domain string, cert *Certificate) (CertPaths, error) {
	if cert == nil {
		return CertPaths{}, errors.New("certificate is nil")
	}
	keyLoc, certLoc, err := locators(domain)
	if err != nil {
		return CertPaths{}, err
	}

	keyEntry, err := s.store.Put(ctx, keyLoc, bytes.NewReader(cert.KeyPEM), storage.PutOptions{Mode: 0o600})
	if err != nil {
		return CertPaths{}, fmt.Errorf("write key for %s: %w", domain, err)
	}
	certEntry, err := s.store.Put(ctx, certLoc, bytes.NewReader(cert.CertPEM), storage.PutOptions{})
	if err != nil {
		return CertPaths{}, fmt.Errorf("write certificate for %s: %w", domain, err)
	}
	return CertPaths{Cert: certEntry.FilePath, Key: keyEntry.FilePath}, nil
}

// Get 读取已落盘的证书。
func (s *CertStore) Get(ctx context.Context, domain string) (*Certificate, error) {
	keyLoc, certLoc, err := locators(domain)
	if err != nil {
		return nil, err
	}
	certPEM, err := storage.ReadAll(ctx, s.store, certLoc)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrCertNotFound
		}
		return nil, err
	}
	keyPEM, err := storage.ReadAll(ctx, s.store, keyLoc)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrCertNotFound
		}
		return nil, err
	}
	cert := &Certificate{CertPEM: certPEM, KeyPEM: keyPEM}
	if _, err := cert.TLS(); err != nil {
		return nil, fmt.Errorf("stored certificate for %s is invalid: %w", domain, err)
	}
	return cert, nil
}

// Paths 返回证书路径，不检查文件是否存在。
func (s *CertStore) Paths(domain string) (CertPaths, error) {
	keyLoc, certLoc, err := locators(domain)
	if err != nil {
		return CertPaths{}, err
	}
	certPath, err := s.store.Path(certLoc)
	if err != nil {
		return CertPaths{}, err
	}
	keyPath, err := s.store.Path(keyLoc)
	if err != nil {
		return CertPaths{}, err
	}
	return CertPaths{Cert: certPath, Key: keyPath}, nil
}

func locators(domain string) (storage.Locator, storage.Locator, error) {
	domain = normalizeDomain(domain)
	if domain == "" || strings.ContainsAny(domain, `/\`) || strings.Contains(domain, "..") {
		return storage.Locator{}, storage.Locator{}, fmt.Errorf("invalid domain %q", domain)
	}
	ns := certNamespace + "/" + domain
	return storage.Locator{Namespace: ns, Name: keyFileName}, storage.Locator{Namespace: ns, Name: certFileName}, nil
}

func normalizeDomain(domain string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
}
