package provision

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinIssuersRegistered(t *testing.T) {
	assert.Equal(t, []string{IssuerFiles, IssuerSelfSigned}, IssuerNames())
	_, err := NewIssuer("acme", IssuerOptions{})
	assert.ErrorIs(t, err, ErrUnknownIssuer)
	assert.Contains(t, err.Error(), IssuerSelfSigned)
	assert.Error(t, RegisterIssuer(IssuerSelfSigned, newSelfSignedIssuer))
}

func TestSelfSignedIssuer(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer, err := NewIssuer(IssuerSelfSigned, IssuerOptions{Validity: 24 * time.Hour, Now: func() time.Time { return now }})
	require.NoError(t, err)

	cert, err := issuer.Issue(context.Background(), IssueRequest{Domain: "dev.local", UseSSL: true})
	require.NoError(t, err)
	assert.Equal(t, now.Add(24*time.Hour), cert.NotAfter)

	pair, err := cert.TLS()
	require.NoError(t, err)
	assert.NoError(t, pair.Leaf.VerifyHostname("dev.local"))

	ipCert, err := issuer.Issue(context.Background(), IssueRequest{Domain: "127.0.0.1"})
	require.NoError(t, err)
	ipPair, err := ipCert.TLS()
	require.NoError(t, err)
	assert.NoError(t, ipPair.Leaf.VerifyHostname("127.0.0.1"))
}

func TestSelfSignedIssuerHonoursCancellation(t *testing.T) {
	issuer, err := NewIssuer(IssuerSelfSigned, IssuerOptions{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = issuer.Issue(ctx, IssueRequest{Domain: "dev.local"})
	assert.ErrorIs(t, err, context.Canceled)
}

func writeCertbotLayout(t *testing.T, dir, domain string) *Certificate {
	t.Helper()
	issuer, err := NewIssuer(IssuerSelfSigned, IssuerOptions{})
	require.NoError(t, err)
	cert, err := issuer.Issue(context.Background(), IssueRequest{Domain: domain})
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, domain), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, domain, fullchainFile), cert.CertPEM, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, domain, privkeyFile), cert.KeyPEM, 0o600))
	return cert
}

func TestFilesIssuer(t *testing.T) {
	dir := t.TempDir()
	expected := writeCertbotLayout(t, dir, "api.example.com")

	issuer, err := NewIssuer(IssuerFiles, IssuerOptions{Dir: dir})
	require.NoError(t, err)

	cert, err := issuer.Issue(context.Background(), IssueRequest{Domain: "API.example.com"})
	require.NoError(t, err)
	assert.Equal(t, expected.CertPEM, cert.CertPEM)

	_, err = issuer.Issue(context.Background(), IssueRequest{Domain: "missing.example.com"})
	assert.Error(t, err)
}

func TestFilesIssuerRejectsHostnameMismatch(t *testing.T) {
	dir := t.TempDir()
	writeCertbotLayout(t, dir, "other.example.com")
	// 将 other 的证书放到 api 目录下。
	require.NoError(t, os.Rename(filepath.Join(dir, "other.example.com"), filepath.Join(dir, "api.example.com")))

	issuer, err := NewIssuer(IssuerFiles, IssuerOptions{Dir: dir})
	require.NoError(t, err)
	_, err = issuer.Issue(context.Background(), IssueRequest{Domain: "api.example.com"})
	assert.Error(t, err)
}

func TestFilesIssuerRequiresDir(t *testing.T) {
	_, err := NewIssuer(IssuerFiles, IssuerOptions{})
	assert.Error(t, err)
}
