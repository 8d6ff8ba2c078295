package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	IssuerFiles = "files"

	fullchainFile = "fullchain.pem"
	privkeyFile   = "privkey.pem"
)

func init() {
	MustRegisterIssuer(IssuerFiles, newFilesIssuer)
}

// filesIssuer 读取外部工具（如 certbot）已经签发好的证书，目录布局为
// <Dir>/<domain>/fullchain.pem 与 privkey.pem。
type filesIssuer struct {
	dir string
	now func() time.Time
}

func newFilesIssuer(opts IssuerOptions) (Issuer, error) {
	if opts.Dir == "" {
		return nil, errors.New("files issuer requires IssuerDir")
	}
	abs, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve issuer dir: %w", err)
	}
	return &filesIssuer{dir: abs, now: opts.Now}, nil
}

func (f *filesIssuer) Issue(ctx context.Context, req IssueRequest) (*Certificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	domain := normalizeDomain(req.Domain)
	if domain == "" || filepath.Base(domain) != domain {
		return nil, fmt.Errorf("invalid domain %q", req.Domain)
	}

	certPEM, err := os.ReadFile(filepath.Join(f.dir, domain, fullchainFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fullchainFile, err)
	}
	keyPEM, err := os.ReadFile(filepath.Join(f.dir, domain, privkeyFile))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", privkeyFile, err)
	}

	cert := &Certificate{CertPEM: certPEM, KeyPEM: keyPEM}
	pair, err := cert.TLS()
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	if pair.Leaf != nil {
		if err := pair.Leaf.VerifyHostname(domain); err != nil {
			return nil, err
		}
		if f.now().After(pair.Leaf.NotAfter) {
			return nil, fmt.Errorf("certificate for %s expired at %s", domain, pair.Leaf.NotAfter.Format(time.RFC3339))
		}
	}
	return cert, nil
}
