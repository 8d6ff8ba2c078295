package supervisor

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topohub/topohub/internal/config"
	"github.com/topohub/topohub/internal/portalloc"
	"github.com/topohub/topohub/internal/provision"
	"github.com/topohub/topohub/internal/server"
	"github.com/topohub/topohub/internal/topology"
)

func testConfig(t *testing.T, instances ...config.InstanceConfig) *config.Config {
	t.Helper()
	return &config.Config{
		Global: config.GlobalConfig{
			Env:            config.EnvDevelopment,
			BaseHost:       "127.0.0.1",
			BasePort:       9837,
			MultiServer:    true,
			StartupMode:    config.StartupFailFast,
			TLSFallback:    config.TLSFallbackFail,
			Issuer:         provision.IssuerSelfSigned,
			StoragePath:    t.TempDir(),
			InitialBackoff: config.Duration(time.Millisecond),
			MaxBackoff:     config.Duration(5 * time.Millisecond),
			AutoPortSwitch: config.AutoPortSwitch{
				Enabled:     true,
				MaxAttempts: 10,
				Strategy:    portalloc.StrategyIncrement,
			},
		},
		Instances: instances,
	}
}

func instanceCfg(id string, port int, prefix string) config.InstanceConfig {
	return config.InstanceConfig{ID: id, Host: "127.0.0.1", Port: port, RoutePrefix: prefix}
}

// loopback 忽略请求的地址，总是在回环地址上随机监听；refuse 中的端口模拟被占用。
type loopback struct {
	mu       sync.Mutex
	refuse   map[int]bool
	attempts []string
}

func newLoopback(refuse ...int) *loopback {
	l := &loopback{refuse: make(map[int]bool)}
	for _, port := range refuse {
		l.refuse[port] = true
	}
	return l
}

func (l *loopback) listen(network, address string) (net.Listener, error) {
	l.mu.Lock()
	l.attempts = append(l.attempts, address)
	l.mu.Unlock()

	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	var port int
	_, _ = fmt.Sscanf(portStr, "%d", &port)
	if l.refuse[port] {
		return nil, fmt.Errorf("listen %s %s: address already in use", network, address)
	}
	return net.Listen("tcp", "127.0.0.1:0")
}

func (l *loopback) Attempts() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.attempts...)
}

func startSupervisor(t *testing.T, opts Options) (*Supervisor, *Report, error) {
	t.Helper()
	if opts.Listen == nil {
		opts.Listen = newLoopback().listen
	}
	sup, err := New(opts)
	require.NoError(t, err)
	report, err := sup.Start(context.Background())
	t.Cleanup(func() { _ = sup.Shutdown(time.Second) })
	return sup, report, err
}

func httpClient() *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
			DisableKeepAlives: true,
		},
	}
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := httpClient().Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestStartPlansPortsAndServesOwnedRoutes(t *testing.T) {
	cfg := testConfig(t,
		instanceCfg("api", 9837, "/api"),
		instanceCfg("admin", 9837, "/admin"),
	)
	sup, report, err := startSupervisor(t, Options{Config: cfg})
	require.NoError(t, err)

	api, ok := report.Instance("api")
	require.True(t, ok)
	admin, ok := report.Instance("admin")
	require.True(t, ok)

	assert.Equal(t, 9837, api.Port)
	assert.Equal(t, 9838, admin.Port)
	assert.Equal(t, 2, admin.Attempts)
	assert.Equal(t, PhaseServing, api.Phase)
	assert.Equal(t, PhaseServing, admin.Phase)
	assert.Equal(t, "http", api.Scheme())
	require.Equal(t, 2, sup.Dispatcher().Snapshot().Len())

	resp, body := get(t, "http://"+api.Address+"/api/users")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "api", resp.Header.Get(server.HeaderInstance))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var echo map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &echo))
	assert.Equal(t, "api", echo["instance"])

	resp, body = get(t, "http://"+api.Address+"/admin/settings")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "admin", resp.Header.Get(server.HeaderInstance))
	assert.Contains(t, body, "route_out_of_scope")

	resp, body = get(t, "http://"+admin.Address+"/unregistered")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "route_unmatched")
}

func TestDiagnosticsRoutesReportTopology(t *testing.T) {
	cfg := testConfig(t,
		instanceCfg("api", 9837, "/api"),
		instanceCfg("admin", 9900, "/admin"),
	)
	_, report, err := startSupervisor(t, Options{Config: cfg})
	require.NoError(t, err)
	api, _ := report.Instance("api")

	resp, body := get(t, "http://"+api.Address+"/-/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"instance":"api"`)

	resp, body = get(t, "http://"+api.Address+"/-/topology")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload struct {
		ServedBy  string `json:"served_by"`
		Instances []struct {
			ID            string   `json:"id"`
			Port          int      `json:"port"`
			Phase         string   `json:"phase"`
			RoutePrefix   string   `json:"route_prefix"`
			AllowedRoutes []string `json:"allowed_routes"`
		} `json:"instances"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	assert.Equal(t, "api", payload.ServedBy)
	require.Len(t, payload.Instances, 2)
	assert.Equal(t, "admin", payload.Instances[1].ID)
	assert.Equal(t, 9900, payload.Instances[1].Port)
	assert.Equal(t, string(PhaseServing), payload.Instances[1].Phase)
	assert.Equal(t, "/admin", payload.Instances[1].RoutePrefix)
	assert.Equal(t, []string{"/admin/*"}, payload.Instances[1].AllowedRoutes)
}

func TestStartFailFastAbortsWhenPortsExhausted(t *testing.T) {
	cfg := testConfig(t,
		instanceCfg("api", 9837, "/api"),
		instanceCfg("admin", 9900, "/admin"),
	)
	cfg.Global.AutoPortSwitch.Enabled = false
	listener := newLoopback()

	_, report, err := startSupervisor(t, Options{
		Config:   cfg,
		Listen:   listener.listen,
		Occupied: []portalloc.HostPort{{Host: "*", Port: 9837}},
	})
	require.Error(t, err)

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.ErrorIs(t, err, portalloc.ErrPortExhausted)

	api, _ := report.Instance("api")
	admin, _ := report.Instance("admin")
	assert.Equal(t, PhaseAllocFailed, api.Phase)
	assert.Equal(t, PhaseAborted, admin.Phase)
	assert.Empty(t, admin.Address)
	assert.Empty(t, listener.Attempts(), "fail-fast 不应绑定任何地址")
	for _, inst := range report.Instances {
		assert.NotEqual(t, PhaseServing, inst.Phase)
	}
}

func TestStartBestEffortSkipsFailedInstances(t *testing.T) {
	cfg := testConfig(t,
		instanceCfg("api", 9837, "/api"),
		instanceCfg("admin", 9900, "/admin"),
	)
	cfg.Global.AutoPortSwitch.Enabled = false
	cfg.Global.StartupMode = config.StartupBestEffort

	sup, report, err := startSupervisor(t, Options{
		Config:   cfg,
		Occupied: []portalloc.HostPort{{Host: "127.0.0.1", Port: 9837}},
	})
	require.NoError(t, err)

	api, _ := report.Instance("api")
	admin, _ := report.Instance("admin")
	assert.Equal(t, PhaseAllocFailed, api.Phase)
	assert.ErrorIs(t, api.Err, portalloc.ErrPortExhausted)
	assert.Equal(t, PhaseServing, admin.Phase)

	_, ok := sup.Dispatcher().Instance("api")
	assert.False(t, ok, "失败实例不应进入分发快照")

	resp, body := get(t, "http://"+admin.Address+"/api/users")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "route_unmatched")
}

func TestStartBestEffortFailsWhenNothingServes(t *testing.T) {
	cfg := testConfig(t, instanceCfg("api", 9837, "/api"))
	cfg.Global.StartupMode = config.StartupBestEffort
	cfg.Global.AutoPortSwitch.Enabled = false

	_, report, err := startSupervisor(t, Options{Config: cfg, Listen: newLoopback(9837).listen})
	require.Error(t, err)

	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
	assert.Equal(t, "api", bindErr.InstanceID)
	assert.Equal(t, 1, bindErr.Attempts)

	api, _ := report.Instance("api")
	assert.Equal(t, PhaseBindFailed, api.Phase)
}

func TestStartRejectsInvalidTopology(t *testing.T) {
	cfg := testConfig(t,
		instanceCfg("api", 9837, "/api"),
		instanceCfg("api", 9900, "/other"),
	)
	listener := newLoopback()
	_, report, err := startSupervisor(t, Options{Config: cfg, Listen: listener.listen})
	require.Error(t, err)
	assert.ErrorIs(t, err, topology.ErrDuplicateID)

	require.Len(t, report.Instances, 2)
	assert.Equal(t, PhaseAborted, report.Instances[0].Phase)
	assert.Equal(t, PhaseInvalid, report.Instances[1].Phase)
	assert.Empty(t, listener.Attempts())
}

func TestStartRetriesBindOnNextPort(t *testing.T) {
	cfg := testConfig(t,
		instanceCfg("api", 9837, "/api"),
		instanceCfg("admin", 9838, "/admin"),
	)
	listener := newLoopback(9837)

	_, report, err := startSupervisor(t, Options{Config: cfg, Listen: listener.listen})
	require.NoError(t, err)

	api, _ := report.Instance("api")
	assert.Equal(t, 9837, api.RequestedPort)
	assert.Equal(t, 9839, api.Port, "9838 已分配给 admin，重试应跳过")
	assert.Equal(t, 2, api.Attempts)
	assert.Equal(t, PhaseServing, api.Phase)

	assert.Equal(t, []string{"127.0.0.1:9837", "127.0.0.1:9839", "127.0.0.1:9838"}, listener.Attempts())
}

func TestStartFailFastOnBindFailureClosesBoundListeners(t *testing.T) {
	cfg := testConfig(t,
		instanceCfg("api", 9837, "/api"),
		instanceCfg("admin", 9900, "/admin"),
	)
	cfg.Global.AutoPortSwitch.Enabled = false

	_, report, err := startSupervisor(t, Options{Config: cfg, Listen: newLoopback(9900).listen})
	require.Error(t, err)

	api, _ := report.Instance("api")
	admin, _ := report.Instance("admin")
	assert.Equal(t, PhaseAborted, api.Phase)
	assert.Equal(t, PhaseBindFailed, admin.Phase)
	require.NotEmpty(t, api.Address)

	_, dialErr := net.DialTimeout("tcp", api.Address, time.Second)
	assert.Error(t, dialErr, "中止后已绑定的监听应被关闭")
}

func TestStartTwiceFails(t *testing.T) {
	cfg := testConfig(t, instanceCfg("api", 9837, "/api"))
	sup, _, err := startSupervisor(t, Options{Config: cfg})
	require.NoError(t, err)

	_, err = sup.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestStartServesTLSWithIssuedCertificate(t *testing.T) {
	inst := instanceCfg("secure", 9837, "/secure")
	inst.TLS = config.TLSConfig{Enabled: true, Domain: "secure.test"}
	cfg := testConfig(t, inst)

	sup, report, err := startSupervisor(t, Options{Config: cfg})
	require.NoError(t, err)

	secure, _ := report.Instance("secure")
	assert.Equal(t, PhaseServing, secure.Phase)
	assert.Equal(t, provision.StateIssued, secure.Provisioning)
	assert.Equal(t, "https", secure.Scheme())

	resp, body := get(t, "https://"+secure.Address+"/secure/ping")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.NotNil(t, resp.TLS)
	require.NotEmpty(t, resp.TLS.PeerCertificates)
	assert.Contains(t, resp.TLS.PeerCertificates[0].DNSNames, "secure.test")

	statuses := sup.Statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "issued", statuses[0].Provisioning)
	assert.Equal(t, "https", statuses[0].Scheme)

	resp, body = get(t, "https://"+secure.Address+"/-/topology")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var payload struct {
		Certificates []struct {
			Domain   string `json:"domain"`
			Instance string `json:"instance"`
			State    string `json:"state"`
			Attempts int    `json:"attempts"`
		} `json:"certificates"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	require.Len(t, payload.Certificates, 1)
	assert.Equal(t, "secure.test", payload.Certificates[0].Domain)
	assert.Equal(t, "secure", payload.Certificates[0].Instance)
	assert.Equal(t, "issued", payload.Certificates[0].State)
	assert.Equal(t, 1, payload.Certificates[0].Attempts)
}

func TestRestartReusesStoredCertificate(t *testing.T) {
	inst := instanceCfg("secure", 9837, "/secure")
	inst.TLS = config.TLSConfig{Enabled: true, Domain: "secure.test"}
	cfg := testConfig(t, inst)

	first, _, err := startSupervisor(t, Options{Config: cfg})
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(time.Second))
	issued := first.Certificates()
	require.Len(t, issued, 1)
	assert.False(t, issued[0].Restored)

	second, report, err := startSupervisor(t, Options{Config: cfg})
	require.NoError(t, err)
	secure, _ := report.Instance("secure")
	assert.Equal(t, PhaseServing, secure.Phase)
	assert.Equal(t, "https", secure.Scheme())

	restored := second.Certificates()
	require.Len(t, restored, 1)
	assert.True(t, restored[0].Restored)
	assert.Zero(t, restored[0].Attempts)
	assert.Equal(t, issued[0].NotAfter.Unix(), restored[0].NotAfter.Unix())
}

func failingCoordinator(t *testing.T, failures int32, calls *atomic.Int32) (*provision.Coordinator, *provision.CertStore) {
	t.Helper()
	store, err := provision.OpenCertStore(t.TempDir())
	require.NoError(t, err)
	selfSigned, err := provision.NewIssuer(provision.IssuerSelfSigned, provision.IssuerOptions{})
	require.NoError(t, err)

	issuer := provision.IssuerFunc(func(ctx context.Context, req provision.IssueRequest) (*provision.Certificate, error) {
		if calls.Add(1) <= failures {
			return nil, errAcmeDown
		}
		return selfSigned.Issue(ctx, req)
	})
	coord, err := provision.NewCoordinator(provision.Options{Issuer: issuer, Store: store})
	require.NoError(t, err)
	return coord, store
}

var errAcmeDown = errors.New("acme directory unreachable")

func tlsTopology(t *testing.T) *config.Config {
	secure := instanceCfg("secure", 9837, "/secure")
	secure.TLS = config.TLSConfig{Enabled: true, Domain: "secure.test"}
	return testConfig(t, secure, instanceCfg("plain", 9900, "/plain"))
}

func TestStartTLSFailureAbortsWithoutFallback(t *testing.T) {
	var calls atomic.Int32
	coord, store := failingCoordinator(t, 100, &calls)
	cfg := tlsTopology(t)

	_, report, err := startSupervisor(t, Options{Config: cfg, Coordinator: coord, CertStore: store})
	require.Error(t, err)
	assert.ErrorIs(t, err, errAcmeDown)

	var provErr *provision.ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "secure.test", provErr.Domain)

	secure, _ := report.Instance("secure")
	plain, _ := report.Instance("plain")
	assert.Equal(t, PhaseProvisFailed, secure.Phase)
	assert.Equal(t, provision.StateFailed, secure.Provisioning)
	assert.Equal(t, PhaseAborted, plain.Phase)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStartTLSFailureFallsBackToPlain(t *testing.T) {
	var calls atomic.Int32
	coord, store := failingCoordinator(t, 100, &calls)
	cfg := tlsTopology(t)
	cfg.Global.TLSFallback = config.TLSFallbackPlain

	_, report, err := startSupervisor(t, Options{Config: cfg, Coordinator: coord, CertStore: store})
	require.NoError(t, err)

	secure, _ := report.Instance("secure")
	assert.Equal(t, PhaseServing, secure.Phase)
	assert.True(t, secure.PlainFallback)
	assert.Equal(t, "http", secure.Scheme())

	resp, _ := get(t, "http://"+secure.Address+"/secure/ping")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartRetriesProvisioningWithBackoff(t *testing.T) {
	var calls atomic.Int32
	coord, store := failingCoordinator(t, 2, &calls)
	cfg := tlsTopology(t)
	cfg.Global.MaxRetries = 3

	_, report, err := startSupervisor(t, Options{Config: cfg, Coordinator: coord, CertStore: store})
	require.NoError(t, err)

	secure, _ := report.Instance("secure")
	assert.Equal(t, PhaseServing, secure.Phase)
	assert.Equal(t, provision.StateIssued, secure.Provisioning)
	assert.Equal(t, int32(3), calls.Load())

	rec, ok := coord.Record("secure.test")
	require.True(t, ok)
	assert.Equal(t, 3, rec.Attempts)
}

func TestShutdownWaitsForInFlightRequests(t *testing.T) {
	entered := make(chan struct{})
	handler := server.HandlerFunc(func(c fiber.Ctx, target *server.Target) error {
		close(entered)
		time.Sleep(200 * time.Millisecond)
		return c.SendString("done")
	})
	cfg := testConfig(t, instanceCfg("api", 9837, "/api"))
	sup, report, err := startSupervisor(t, Options{Config: cfg, Handler: handler})
	require.NoError(t, err)
	api, _ := report.Instance("api")

	type result struct {
		status int
		body   string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := httpClient().Get("http://" + api.Address + "/api/slow")
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		done <- result{status: resp.StatusCode, body: string(body)}
	}()

	<-entered
	require.NoError(t, sup.Shutdown(5*time.Second))

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "done", res.body)

	for _, inst := range sup.Instances() {
		assert.Equal(t, PhaseStopped, inst.Phase)
	}
	assert.NoError(t, sup.Shutdown(time.Second), "重复 Shutdown 应返回首次结果")
	assert.NoError(t, sup.Wait())

	_, dialErr := net.DialTimeout("tcp", api.Address, time.Second)
	assert.Error(t, dialErr)
}

func TestShutdownForcesConnectionsAfterGrace(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	handler := server.HandlerFunc(func(c fiber.Ctx, target *server.Target) error {
		once.Do(func() { close(entered) })
		<-release
		return c.SendString("late")
	})
	t.Cleanup(func() { close(release) })

	cfg := testConfig(t, instanceCfg("api", 9837, "/api"))
	logger, hook := logtest.NewNullLogger()
	sup, report, err := startSupervisor(t, Options{Config: cfg, Handler: handler, Logger: logger})
	require.NoError(t, err)
	api, _ := report.Instance("api")

	done := make(chan error, 1)
	go func() {
		resp, err := httpClient().Get("http://" + api.Address + "/api/stuck")
		if err == nil {
			resp.Body.Close()
		}
		done <- err
	}()

	<-entered
	began := time.Now()
	_ = sup.Shutdown(100 * time.Millisecond)
	assert.Less(t, time.Since(began), 3*time.Second)

	select {
	case err := <-done:
		assert.Error(t, err, "宽限期后连接应被强制断开")
	case <-time.After(3 * time.Second):
		t.Fatalf("请求在强制关闭后仍未结束")
	}
	var forced *logrus.Entry
	for _, entry := range hook.AllEntries() {
		if entry.Message == "instance_shutdown_forced" {
			forced = entry
		}
	}
	require.NotNil(t, forced, "强制关闭应记录日志")
	assert.Equal(t, 1, forced.Data["active_connections"])
	assert.Equal(t, 1, forced.Data["forced_connections"])
}

func TestShutdownBeforeStartIsNoop(t *testing.T) {
	sup, err := New(Options{Config: testConfig(t, instanceCfg("api", 9837, "/api"))})
	require.NoError(t, err)
	assert.NoError(t, sup.Shutdown(time.Second))
	assert.Nil(t, sup.Instances())
}

func TestNewRejectsUnknownStrategyAndIssuer(t *testing.T) {
	cfg := testConfig(t, instanceCfg("api", 9837, "/api"))
	cfg.Global.AutoPortSwitch.Strategy = "spiral"
	_, err := New(Options{Config: cfg})
	assert.ErrorIs(t, err, portalloc.ErrUnknownStrategy)

	secure := instanceCfg("secure", 9837, "/secure")
	secure.TLS = config.TLSConfig{Enabled: true, Domain: "secure.test"}
	cfg = testConfig(t, secure)
	cfg.Global.Issuer = "carrier-pigeon"
	_, err = New(Options{Config: cfg})
	assert.ErrorIs(t, err, provision.ErrUnknownIssuer)

	_, err = New(Options{})
	assert.Error(t, err)
}

func TestPreviewIsDeterministic(t *testing.T) {
	cfg := testConfig(t,
		instanceCfg("api", 9837, "/api"),
		instanceCfg("admin", 9837, "/admin"),
		instanceCfg("web", 9900, "/web"),
	)
	occupied := []portalloc.HostPort{{Host: "*", Port: 9838}}

	first, err := Preview(cfg, occupied...)
	require.NoError(t, err)
	second, err := Preview(cfg, occupied...)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	ports := make(map[string]int)
	for _, inst := range first.Instances {
		ports[inst.ID] = inst.Port
		assert.Empty(t, inst.Address, "Preview 不应绑定地址")
	}
	assert.Equal(t, map[string]int{"api": 9837, "admin": 9839, "web": 9900}, ports)
}

func TestPreviewReportsExhaustion(t *testing.T) {
	cfg := testConfig(t, instanceCfg("api", 9837, "/api"))
	cfg.Global.AutoPortSwitch.MaxAttempts = 2

	report, err := Preview(cfg,
		portalloc.HostPort{Host: "*", Port: 9837},
		portalloc.HostPort{Host: "*", Port: 9838},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, portalloc.ErrPortExhausted)
	assert.Equal(t, PhaseAllocFailed, report.Instances[0].Phase)
	assert.True(t, strings.Contains(err.Error(), "api"))
}

func TestListenAddress(t *testing.T) {
	assert.Equal(t, ":9837", listenAddress("0.0.0.0", 9837))
	assert.Equal(t, ":9837", listenAddress("*", 9837))
	assert.Equal(t, "127.0.0.1:9837", listenAddress("127.0.0.1", 9837))
	assert.Equal(t, "[::1]:80", listenAddress("::1", 80))
}
