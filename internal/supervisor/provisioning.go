package supervisor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/matthewpi/certwatcher"
	"golang.org/x/sync/errgroup"

	"github.com/topohub/topohub/internal/logging"
	"github.com/topohub/topohub/internal/provision"
)

const (
	defaultParallelism    = 4
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// provisionAll 并行申请证书，返回可以继续绑定的实例（含降级为明文的实例）。
// 每个 goroutine 只写入自己的 report 条目，Wait 之后再统一读取。
func (s *Supervisor) provisionAll(ctx context.Context, report *Report, instances []*instance) []*instance {
	if s.coordinator == nil {
		for _, inst := range instances {
			if inst.tls {
				r := &report.Instances[inst.report]
				r.Phase, r.Err = PhaseProvisFailed, errors.New("no provisioning coordinator configured")
			}
		}
		return withoutFailed(report, instances)
	}

	parallelism := s.cfg.Global.ProvisionParallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	var g errgroup.Group
	g.SetLimit(parallelism)

	for _, inst := range instances {
		if !inst.tls {
			continue
		}
		inst := inst
		g.Go(func() error {
			r := &report.Instances[inst.report]
			rec, err := s.provisionWithRetry(ctx, inst)
			if rec != nil {
				r.Provisioning = rec.State
			}
			if err == nil {
				inst.paths = provision.CertPaths{Cert: rec.CertPath, Key: rec.KeyPath}
				return nil
			}

			fields := logging.InstanceFields("provision", inst.desc.ID, inst.desc.Host, inst.desc.Port)
			if s.cfg.Global.AllowPlainFallback() {
				inst.tls = false
				r.PlainFallback = true
				s.logger.WithFields(fields).WithError(err).Warn("tls_fallback_plain")
				return nil
			}
			r.Phase, r.Err = PhaseProvisFailed, err
			s.logger.WithFields(fields).WithError(err).Error("provision_failed")
			return nil
		})
	}
	_ = g.Wait()

	return withoutFailed(report, instances)
}

// provisionWithRetry 在失败后按指数退避显式 Retry，最多重试 MaxRetries 次。
func (s *Supervisor) provisionWithRetry(ctx context.Context, inst *instance) (*provision.Record, error) {
	backoff := s.cfg.Global.InitialBackoff.DurationValue()
	if backoff <= 0 {
		backoff = defaultInitialBackoff
	}
	maxBackoff := s.cfg.Global.MaxBackoff.DurationValue()
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	maxRetries := s.cfg.Global.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		rec, err := s.coordinator.Provision(ctx, inst.desc)
		if err == nil {
			return rec, nil
		}
		if attempt >= maxRetries {
			return rec, err
		}

		s.logger.WithFields(logging.ProvisionFields(inst.desc.ID, inst.desc.TLS.Domain, "retry_scheduled", attempt+1)).
			WithField("backoff", backoff.String()).
			WithError(err).
			Warn("provision_retry")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return rec, ctx.Err()
		case <-timer.C:
		}

		if err := s.coordinator.Retry(inst.desc.TLS.Domain); err != nil && !errors.Is(err, provision.ErrNotFailed) {
			return rec, err
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// tlsConfig 从证书文件构建可热加载的 TLS 配置，证书续期后无需重启监听。
func (s *Supervisor) tlsConfig(ctx context.Context, inst *instance) (*tls.Config, error) {
	paths := inst.paths
	if paths.Cert == "" || paths.Key == "" {
		if s.certStore == nil {
			return nil, fmt.Errorf("instance %s: no certificate store configured", inst.desc.ID)
		}
		var err error
		paths, err = s.certStore.Paths(inst.desc.TLS.Domain)
		if err != nil {
			return nil, err
		}
	}

	watcher := &certwatcher.TLSConfig{
		CertPath: paths.Cert,
		KeyPath:  paths.Key,
		Config: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		DontStaple: true,
	}
	cfg, err := watcher.GetTLSConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("instance %s: load certificate: %w", inst.desc.ID, err)
	}
	return cfg, nil
}

func withoutFailed(report *Report, instances []*instance) []*instance {
	result := make([]*instance, 0, len(instances))
	for _, inst := range instances {
		if report.Instances[inst.report].Err == nil {
			result = append(result, inst)
		}
	}
	return result
}
