package supervisor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/topohub/topohub/internal/config"
	"github.com/topohub/topohub/internal/dispatch"
	"github.com/topohub/topohub/internal/logging"
	"github.com/topohub/topohub/internal/portalloc"
	"github.com/topohub/topohub/internal/provision"
	"github.com/topohub/topohub/internal/server"
	"github.com/topohub/topohub/internal/server/routes"
	"github.com/topohub/topohub/internal/topology"
)

// ListenFunc 与 net.Listen 签名一致，测试中可替换。
type ListenFunc func(network, address string) (net.Listener, error)

// Options 配置 Supervisor。除 Config 外均可省略。
type Options struct {
	Config *config.Config
	Logger *logrus.Logger
	// Coordinator 为空时按 Config.Issuer 构建。
	Coordinator *provision.Coordinator
	// CertStore 为空且存在 TLS 实例时在 StoragePath 下创建。
	CertStore *provision.CertStore
	// Handler 为空时使用 server.Forwarder。
	Handler server.Handler
	Listen  ListenFunc
	// Occupied 是规划前已知被占用的地址。
	Occupied []portalloc.HostPort
}

// Supervisor 管理整个拓扑的生命周期。
type Supervisor struct {
	cfg         *config.Config
	logger      *logrus.Logger
	allocator   *portalloc.Allocator
	coordinator *provision.Coordinator
	certStore   *provision.CertStore
	handler     server.Handler
	listen      ListenFunc
	occupied    []portalloc.HostPort
	policy      config.Policy
	dispatcher  *dispatch.Dispatcher

	mu        sync.Mutex
	started   bool
	stopping  bool
	report    *Report
	instances []*instance
	serving   errgroup.Group
	watchStop context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

type instance struct {
	desc   topology.Descriptor
	policy config.Policy
	report int
	tls    bool
	paths  provision.CertPaths
	// tracker 包裹原始 TCP 监听，listener 是实际交给 Fiber 的监听（TLS 实例为 tls 包装）。
	tracker  *trackingListener
	listener net.Listener
	app      *fiber.App
}

// New 校验配置并构建 Supervisor，端口策略或签发器未注册时返回错误。
func New(opts Options) (*Supervisor, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	cfg := opts.Config

	allocator, err := portalloc.NewAllocator(cfg.Global.AutoPortSwitch)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}

	s := &Supervisor{
		cfg:         cfg,
		logger:      logger,
		allocator:   allocator,
		coordinator: opts.Coordinator,
		certStore:   opts.CertStore,
		handler:     opts.Handler,
		listen:      opts.Listen,
		occupied:    append([]portalloc.HostPort(nil), opts.Occupied...),
		policy:      cfg.Global.Policy(),
		dispatcher:  dispatch.New(nil),
	}
	if s.listen == nil {
		s.listen = net.Listen
	}
	if s.handler == nil {
		s.handler = server.NewForwarder(server.NewUpstreamClient(cfg.Global.UpstreamTimeout.DurationValue()), logger)
	}

	if len(config.TLSInstances(cfg.EffectiveInstances())) > 0 {
		if s.certStore == nil {
			store, err := provision.OpenCertStore(cfg.Global.StoragePath)
			if err != nil {
				return nil, fmt.Errorf("open certificate store: %w", err)
			}
			s.certStore = store
		}
		if s.coordinator == nil {
			issuer, err := provision.NewIssuer(cfg.Global.Issuer, provision.IssuerOptions{Dir: cfg.Global.IssuerDir})
			if err != nil {
				return nil, err
			}
			s.coordinator, err = provision.NewCoordinator(provision.Options{
				Issuer:  issuer,
				Timeout: cfg.Global.ProvisionTimeout.DurationValue(),
				Logger:  logger,
				Store:   s.certStore,
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// Start 依次执行：校验描述符 → 分配端口 → 申请证书 → 按注册顺序绑定 → 发布分发快照 → 开始服务。
// fail-fast 模式下任何实例失败都会关闭已绑定的监听并返回 *StartError；
// best-effort 模式下失败实例被剔除，只要还有实例在服务就返回 nil。
func (s *Supervisor) Start(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	bestEffort := s.cfg.Global.BestEffort()

	// (a) 描述符校验：拓扑本身非法时任何模式都直接失败。
	report, descs, indexes := registerInstances(s.cfg)
	candidates := make([]*instance, len(descs))
	for i, d := range descs {
		candidates[i] = &instance{
			desc:   d,
			policy: config.MergePolicy(s.policy, d.Overrides),
			report: indexes[i],
			tls:    d.TLS.Enabled,
		}
	}
	if len(report.Instances) == 0 {
		return report, ErrNoInstances
	}
	if len(report.Failed()) > 0 {
		return s.abort(report, candidates)
	}

	// (b) 单次串行端口分配。
	occupied := portalloc.NewOccupied(s.occupied...)
	plan := s.allocator.Plan(descs, occupied)
	var allocated []*instance
	for i, entry := range plan.Entries {
		inst := candidates[i]
		r := &report.Instances[inst.report]
		if entry.Err != nil {
			r.Phase, r.Err = PhaseAllocFailed, entry.Err
			s.logger.WithFields(logging.InstanceFields("allocate", inst.desc.ID, inst.desc.Host, inst.desc.Port)).
				WithError(entry.Err).Error("port_allocation_failed")
			continue
		}
		r.Port, r.Attempts, r.Strategy = entry.Port.Port, entry.Port.Attempts, entry.Port.Strategy
		inst.desc.Port = entry.Port.Port
		if entry.Port.Switched() {
			s.logger.WithFields(logging.InstanceFields("allocate", inst.desc.ID, inst.desc.Host, entry.Port.Port)).
				WithField("requested_port", entry.Port.Requested).
				WithField("strategy", entry.Port.Strategy).
				Warn("port_switched")
		}
		allocated = append(allocated, inst)
	}
	if len(allocated) < len(candidates) && !bestEffort {
		return s.abort(report, candidates)
	}

	// (c) 证书申请，并行度受 ProvisionParallelism 限制。
	provisioned := s.provisionAll(ctx, report, allocated)
	if len(provisioned) < len(allocated) && !bestEffort {
		return s.abort(report, candidates)
	}

	// (d) 按注册顺序绑定。
	watchCtx, watchStop := context.WithCancel(context.Background())
	var bound []*instance
	for _, inst := range provisioned {
		r := &report.Instances[inst.report]
		if err := s.bind(watchCtx, inst, occupied, r); err != nil {
			r.Phase, r.Err = PhaseBindFailed, err
			s.logger.WithFields(logging.InstanceFields("bind", inst.desc.ID, inst.desc.Host, inst.desc.Port)).
				WithError(err).Error("instance_bind_failed")
			if !bestEffort {
				watchStop()
				return s.abort(report, candidates)
			}
			continue
		}
		bound = append(bound, inst)
	}
	if len(bound) == 0 {
		watchStop()
		return s.abort(report, candidates)
	}

	// (e) 发布快照并开始服务。
	started := make([]topology.Descriptor, len(bound))
	for i, inst := range bound {
		started[i] = inst.desc
	}
	s.dispatcher.Publish(dispatch.NewSnapshot(started))

	for _, inst := range bound {
		app, err := server.NewApp(server.AppOptions{
			Logger:     s.logger,
			Dispatcher: s.dispatcher,
			InstanceID: inst.desc.ID,
			Policy:     inst.policy,
			Handler:    s.handler,
			Port:       inst.desc.Port,
		})
		if err != nil {
			watchStop()
			closeListeners(bound)
			return report, fmt.Errorf("build app for %s: %w", inst.desc.ID, err)
		}
		routes.RegisterTopologyRoutes(app, s, inst.desc.ID)
		inst.app = app
	}

	for _, inst := range bound {
		r := &report.Instances[inst.report]
		r.Phase = PhaseServing
		s.logger.WithFields(logging.InstanceFields("serve", inst.desc.ID, inst.desc.Host, inst.desc.Port)).
			WithField("address", r.Address).
			WithField("scheme", r.Scheme()).
			WithField("route_prefix", inst.desc.RoutePrefix).
			Info("instance_started")
	}
	s.mu.Lock()
	s.report = report
	s.instances = bound
	s.watchStop = watchStop
	s.mu.Unlock()

	for _, inst := range bound {
		s.serving.Go(func() error {
			err := inst.app.Listener(inst.listener, fiber.ListenConfig{DisableStartupMessage: true})
			if err != nil && !s.isStopping() {
				return fmt.Errorf("instance %s: %w", inst.desc.ID, err)
			}
			return nil
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return report.clone(), nil
}

// abort 将尚未失败的实例标记为 aborted 并返回 *StartError。
func (s *Supervisor) abort(report *Report, candidates []*instance) (*Report, error) {
	for i := range report.Instances {
		r := &report.Instances[i]
		if r.Err == nil && r.Phase != PhaseServing {
			r.Phase = PhaseAborted
		}
	}
	for _, inst := range candidates {
		if inst.listener != nil {
			_ = inst.listener.Close()
		}
	}
	s.mu.Lock()
	s.report = report
	s.mu.Unlock()
	return report.clone(), &StartError{Report: report.clone()}
}

// bind 监听实例地址。地址被占用且开启了自动切换时，将失败端口视为已占用并重新分配，
// 总尝试次数不超过 MaxAttempts。
func (s *Supervisor) bind(ctx context.Context, inst *instance, occupied *portalloc.Occupied, r *InstanceReport) error {
	maxAttempts := s.allocator.MaxAttempts()
	requested := inst.desc
	requested.Port = r.RequestedPort

	var (
		ln  net.Listener
		err error
	)
	attempts := 0
	for {
		attempts++
		addr := listenAddress(inst.desc.Host, inst.desc.Port)
		ln, err = s.listen("tcp", addr)
		if err == nil {
			break
		}
		bindErr := &BindError{InstanceID: inst.desc.ID, Address: addr, Attempts: attempts, Err: err}
		if !s.cfg.Global.AutoPortSwitch.Enabled || attempts >= maxAttempts || inst.desc.Port == 0 {
			return bindErr
		}
		occupied.Add(inst.desc.Host, inst.desc.Port)
		next, allocErr := s.allocator.Allocate(requested, occupied)
		if allocErr != nil {
			return errors.Join(bindErr, allocErr)
		}
		s.logger.WithFields(logging.InstanceFields("bind", inst.desc.ID, inst.desc.Host, next.Port)).
			WithField("failed_port", inst.desc.Port).
			WithError(err).
			Warn("bind_retry_next_port")
		inst.desc.Port = next.Port
	}

	tracked := newTrackingListener(ln)
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok && inst.desc.Port == 0 {
		inst.desc.Port = tcp.Port
	}
	r.Port = inst.desc.Port
	r.Address = ln.Addr().String()
	if attempts > 1 {
		r.Attempts += attempts - 1
	}

	inst.tracker = tracked
	inst.listener = tracked
	if inst.tls {
		tlsConfig, err := s.tlsConfig(ctx, inst)
		if err != nil {
			_ = tracked.Close()
			inst.tracker, inst.listener = nil, nil
			return err
		}
		inst.listener = tls.NewListener(tracked, tlsConfig)
	}
	return nil
}

// Shutdown 按启动顺序的逆序停止实例，宽限期内等待进行中的请求完成，之后强制断开剩余连接。
// 重复调用返回第一次的结果。
func (s *Supervisor) Shutdown(grace time.Duration) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(grace)
	})
	return s.shutdownErr
}

func (s *Supervisor) shutdown(grace time.Duration) error {
	s.mu.Lock()
	s.stopping = true
	instances := append([]*instance(nil), s.instances...)
	watchStop := s.watchStop
	s.mu.Unlock()

	if len(instances) == 0 {
		return nil
	}

	deadline := time.Now().Add(grace)
	var errs []error
	for i := len(instances) - 1; i >= 0; i-- {
		inst := instances[i]
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		err := inst.app.ShutdownWithContext(ctx)
		cancel()
		_ = inst.listener.Close()

		fields := logging.InstanceFields("shutdown", inst.desc.ID, inst.desc.Host, inst.desc.Port)
		if err != nil {
			active := inst.tracker.active()
			forced := inst.tracker.forceClose()
			s.logger.WithFields(fields).
				WithField("active_connections", active).
				WithField("forced_connections", forced).
				WithError(err).Warn("instance_shutdown_forced")
			if !errors.Is(err, context.DeadlineExceeded) {
				errs = append(errs, fmt.Errorf("instance %s: %w", inst.desc.ID, err))
			}
		} else {
			s.logger.WithFields(fields).Info("instance_stopped")
		}

		s.mu.Lock()
		if s.report != nil {
			s.report.Instances[inst.report].Phase = PhaseStopped
		}
		s.mu.Unlock()
	}

	if watchStop != nil {
		watchStop()
	}
	if err := s.serving.Wait(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Wait 阻塞直到所有实例停止服务，返回第一个非关闭导致的服务错误。
func (s *Supervisor) Wait() error {
	return s.serving.Wait()
}

// Dispatcher 返回拓扑共享的分发器。
func (s *Supervisor) Dispatcher() *dispatch.Dispatcher {
	return s.dispatcher
}

// InstanceConfig 返回实例合并后的策略。
func (s *Supervisor) InstanceConfig(id string) (config.Policy, bool) {
	d, ok := s.dispatcher.Instance(id)
	if !ok {
		return nil, false
	}
	return config.MergePolicy(s.policy, d.Overrides), true
}

// Instances 返回最近一次 Start 的实例结果副本。
func (s *Supervisor) Instances() []InstanceReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report == nil {
		return nil
	}
	return append([]InstanceReport(nil), s.report.Instances...)
}

// Statuses 实现 routes.TopologyView。
func (s *Supervisor) Statuses() []routes.InstanceStatus {
	s.mu.Lock()
	report := s.report.clone()
	s.mu.Unlock()

	declared := make(map[string]config.InstanceConfig)
	for _, inst := range s.cfg.EffectiveInstances() {
		if _, ok := declared[inst.ID]; !ok {
			declared[inst.ID] = inst
		}
	}

	statuses := report.statuses()
	for i := range statuses {
		st := &statuses[i]
		if d, ok := s.dispatcher.Instance(st.ID); ok {
			st.RoutePrefix, st.AllowedRoutes, st.Upstream = d.RoutePrefix, d.AllowedRoutes, d.Upstream
		} else if inst, ok := declared[st.ID]; ok {
			st.RoutePrefix, st.AllowedRoutes, st.Upstream = inst.RoutePrefix, inst.AllowedRoutes, inst.Upstream
		}
		if s.coordinator == nil || st.Domain == "" {
			continue
		}
		if rec, ok := s.coordinator.Record(st.Domain); ok {
			st.Provisioning = string(rec.State)
		}
	}
	return statuses
}

// Certificates 返回协调器中全部证书申请记录，未配置 TLS 实例时为空。
func (s *Supervisor) Certificates() []routes.CertificateStatus {
	if s.coordinator == nil {
		return []routes.CertificateStatus{}
	}
	records := s.coordinator.Records()
	out := make([]routes.CertificateStatus, 0, len(records))
	for _, rec := range records {
		status := routes.CertificateStatus{
			Domain:    rec.Domain,
			Instance:  rec.InstanceID,
			State:     string(rec.State),
			Attempts:  rec.Attempts,
			AttemptID: rec.AttemptID,
			Restored:  rec.Restored,
			IssuedAt:  rec.IssuedAt,
			LastError: rec.LastError,
		}
		if rec.Cert != nil {
			status.NotAfter = rec.Cert.NotAfter
		}
		out = append(out, status)
	}
	return out
}

func (s *Supervisor) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

func closeListeners(instances []*instance) {
	for _, inst := range instances {
		if inst.listener != nil {
			_ = inst.listener.Close()
		}
	}
}

func listenAddress(host string, port int) string {
	if topology.IsWildcardHost(host) {
		host = ""
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
