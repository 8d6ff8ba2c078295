package provision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/topohub/topohub/internal/logging"
	"github.com/topohub/topohub/internal/topology"
)

const (
	// DefaultTimeout 是单次签发的默认超时。
	DefaultTimeout = 30 * time.Second

	// renewWindow 内到期的落盘证书不再复用，直接重新签发。
	renewWindow = 24 * time.Hour
)

// Options 配置 Coordinator。
type Options struct {
	Issuer  Issuer
	Timeout time.Duration
	Now     func() time.Time
	// OnTransition 在每次状态变化后以记录副本回调，回调内不得对同一域名调用 Provision。
	OnTransition func(Record)
	Logger       *logrus.Logger
	// Store 非空时签发结果会落盘，供 TLS 监听从文件热加载。
	Store *CertStore
}

// Coordinator 管理所有域名的证书申请记录。
type Coordinator struct {
	issuer       Issuer
	timeout      time.Duration
	now          func() time.Time
	onTransition func(Record)
	logger       *logrus.Logger
	store        *CertStore

	mu      sync.Mutex
	records map[string]*Record
	flights singleflight.Group
}

// NewCoordinator 构建 Coordinator，Issuer 必填。
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Issuer == nil {
		return nil, errors.New("issuer is required")
	}
	c := &Coordinator{
		issuer:       opts.Issuer,
		timeout:      opts.Timeout,
		now:          opts.Now,
		onTransition: opts.OnTransition,
		logger:       opts.Logger,
		store:        opts.Store,
		records:      make(map[string]*Record),
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = logging.NewDiscardLogger()
	}
	return c, nil
}

// Provision 为描述符申请证书。未开启 TLS 时返回 (nil, nil)；已签发的域名直接返回现有记录；
// 首次申请时优先复用磁盘上未过期的证书；其余情况开启新一轮 Pending → Issuing → Issued|Failed。
// 同一域名的并发调用共享同一次签发及其结果。
func (c *Coordinator) Provision(ctx context.Context, d topology.Descriptor) (*Record, error) {
	if !d.TLS.Enabled {
		return nil, nil
	}
	domain := normalizeDomain(d.TLS.Domain)
	if domain == "" {
		return nil, &ProvisioningError{InstanceID: d.ID, Err: errors.New("tls domain is empty")}
	}

	if rec, ok := c.issued(domain); ok {
		return &rec, nil
	}

	v, _, _ := c.flights.Do(domain, func() (interface{}, error) {
		if rec, ok := c.issued(domain); ok {
			return rec, nil
		}
		if rec, ok := c.restore(ctx, d, domain); ok {
			return rec, nil
		}
		return c.runCycle(ctx, d, domain), nil
	})

	rec := v.(Record)
	if rec.State == StateFailed {
		return &rec, &ProvisioningError{Domain: domain, InstanceID: d.ID, Err: rec.Err}
	}
	return &rec, nil
}

// Retry 将 Failed 记录显式转回 Pending，下一次 Provision 会重新签发。
func (c *Coordinator) Retry(domain string) error {
	domain = normalizeDomain(domain)

	c.mu.Lock()
	rec, ok := c.records[domain]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRecordNotFound, domain)
	}
	if rec.State != StateFailed {
		state := rec.State
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, domain, state)
	}
	rec.State = StatePending
	snapshot := *rec
	c.mu.Unlock()

	c.notify(snapshot)
	return nil
}

// Record 返回域名的申请记录副本。
func (c *Coordinator) Record(domain string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[normalizeDomain(domain)]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Records 按域名排序返回全部记录副本。
func (c *Coordinator) Records() []Record {
	c.mu.Lock()
	result := make([]Record, 0, len(c.records))
	for _, rec := range c.records {
		result = append(result, *rec)
	}
	c.mu.Unlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Domain < result[j].Domain })
	return result
}

func (c *Coordinator) issued(domain string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[domain]
	if !ok || rec.State != StateIssued {
		return Record{}, false
	}
	return *rec, true
}

// restore 在域名首次申请时读取磁盘上的证书，仍在有效期内则直接记为 Issued。
func (c *Coordinator) restore(ctx context.Context, d topology.Descriptor, domain string) (Record, bool) {
	if c.store == nil {
		return Record{}, false
	}
	c.mu.Lock()
	_, seen := c.records[domain]
	c.mu.Unlock()
	if seen {
		return Record{}, false
	}

	entry := c.logger.WithFields(logging.ProvisionFields(d.ID, domain, string(StateIssued), 0))
	cert, err := c.store.Get(ctx, domain)
	if err != nil {
		if !errors.Is(err, ErrCertNotFound) {
			entry.WithError(err).Warn("provision_restore_failed")
		}
		return Record{}, false
	}
	now := c.now()
	if !now.Add(renewWindow).Before(cert.NotAfter) {
		entry.WithField("not_after", cert.NotAfter).Info("provision_stored_expiring")
		return Record{}, false
	}
	paths, err := c.store.Paths(domain)
	if err != nil {
		return Record{}, false
	}

	c.mu.Lock()
	c.records[domain] = &Record{
		Domain:     domain,
		InstanceID: d.ID,
		State:      StateIssued,
		AttemptID:  uuid.NewString(),
		IssuedAt:   now,
		Restored:   true,
		CertPath:   paths.Cert,
		KeyPath:    paths.Key,
		Cert:       cert,
	}
	c.mu.Unlock()
	return c.transition(domain, StateIssued, nil), true
}

// runCycle 只在 singleflight 内执行，因此同一域名同一时间只有一轮。
func (c *Coordinator) runCycle(ctx context.Context, d topology.Descriptor, domain string) Record {
	attempts := 0
	c.mu.Lock()
	if prev, ok := c.records[domain]; ok {
		attempts = prev.Attempts
	}
	rec := &Record{
		Domain:     domain,
		InstanceID: d.ID,
		State:      StatePending,
		Attempts:   attempts + 1,
		AttemptID:  uuid.NewString(),
	}
	c.records[domain] = rec
	c.mu.Unlock()
	c.transition(domain, StatePending, nil)

	c.transition(domain, StateIssuing, nil)
	cert, err := c.issue(ctx, IssueRequest{
		Domain: domain,
		Email:  d.TLS.Email,
		Port:   d.Port,
		UseSSL: true,
	})
	if err == nil && c.store != nil {
		var paths CertPaths
		paths, err = c.store.Put(ctx, domain, cert)
		if err == nil {
			c.mu.Lock()
			rec.CertPath, rec.KeyPath = paths.Cert, paths.Key
			c.mu.Unlock()
		}
	}
	if err != nil {
		return c.transition(domain, StateFailed, err)
	}

	c.mu.Lock()
	rec.Cert = cert
	rec.IssuedAt = c.now()
	c.mu.Unlock()
	return c.transition(domain, StateIssued, nil)
}

// issue 在超时内调用签发器；签发器不响应取消时也按超时返回。
func (c *Coordinator) issue(ctx context.Context, req IssueRequest) (*Certificate, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		cert *Certificate
		err  error
	}
	done := make(chan result, 1)
	go func() {
		cert, err := c.issuer.Issue(ctx, req)
		done <- result{cert: cert, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil && res.cert == nil {
			res.err = errors.New("issuer returned no certificate")
		}
		if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %w", ErrProvisionTimeout, c.timeout, context.DeadlineExceeded)
		}
		return res.cert, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %w", ErrProvisionTimeout, c.timeout, context.DeadlineExceeded)
		}
		return nil, ctx.Err()
	}
}

func (c *Coordinator) transition(domain string, state State, err error) Record {
	c.mu.Lock()
	rec := c.records[domain]
	rec.State = state
	rec.Err = err
	rec.LastError = ""
	if err != nil {
		rec.LastError = err.Error()
	}
	snapshot := *rec
	c.mu.Unlock()

	entry := c.logger.WithFields(logging.ProvisionFields(snapshot.InstanceID, domain, string(state), snapshot.Attempts)).
		WithField("attempt_id", snapshot.AttemptID)
	switch state {
	case StateFailed:
		entry.WithError(err).Warn("provision_failed")
	case StateIssued:
		entry.Info("provision_issued")
	default:
		entry.Debug("provision_transition")
	}

	c.notify(snapshot)
	return snapshot
}

func (c *Coordinator) notify(rec Record) {
	if c.onTransition != nil {
		c.onTransition(rec)
	}
}
