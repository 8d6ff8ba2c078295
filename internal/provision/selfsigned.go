package provision

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

const (
	IssuerSelfSigned = "selfsigned"

	defaultSelfSignedValidity = 90 * 24 * time.Hour
)

func init() {
	MustRegisterIssuer(IssuerSelfSigned, newSelfSignedIssuer)
}

type selfSignedIssuer struct {
	validity time.Duration
	now      func() time.Time
}

func newSelfSignedIssuer(opts IssuerOptions) (Issuer, error) {
	validity := opts.Validity
	if validity <= 0 {
		validity = defaultSelfSignedValidity
	}
	return &selfSignedIssuer{validity: validity, now: opts.Now}, nil
}

// Issue 生成 ECDSA P-256 自签名叶子证书，仅用于开发环境。
func (s *selfSignedIssuer) Issue(ctx context.Context, req IssueRequest) (*Certificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := s.now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: req.Domain, Organization: []string{"topohub self-signed"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(s.validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if ip := net.ParseIP(req.Domain); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{req.Domain}
	}
	if req.Email != "" {
		template.EmailAddresses = []string{req.Email}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	return &Certificate{
		CertPEM:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:   pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
		NotAfter: template.NotAfter,
	}, nil
}
