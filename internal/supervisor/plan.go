package supervisor

import (
	"github.com/topohub/topohub/internal/config"
	"github.com/topohub/topohub/internal/portalloc"
	"github.com/topohub/topohub/internal/topology"
)

// Preview 只执行描述符校验与端口分配，不绑定任何地址，供 -plan 输出使用。
// 结果与 Start 的分配阶段一致：相同的配置与占用集合总是得到相同的计划。
func Preview(cfg *config.Config, occupied ...portalloc.HostPort) (*Report, error) {
	allocator, err := portalloc.NewAllocator(cfg.Global.AutoPortSwitch)
	if err != nil {
		return nil, err
	}

	report, descs, indexes := registerInstances(cfg)
	if len(report.Failed()) > 0 {
		return report, &StartError{Report: report.clone()}
	}

	plan := allocator.Plan(descs, portalloc.NewOccupied(occupied...))
	for i, entry := range plan.Entries {
		r := &report.Instances[indexes[i]]
		if entry.Err != nil {
			r.Phase, r.Err = PhaseAllocFailed, entry.Err
			continue
		}
		r.Port, r.Attempts, r.Strategy = entry.Port.Port, entry.Port.Attempts, entry.Port.Strategy
	}
	if len(report.Failed()) > 0 && !cfg.Global.BestEffort() {
		return report, &StartError{Report: report.clone()}
	}
	return report, nil
}

// registerInstances 将配置中的实例注册进新的 Store，返回注册顺序的编译后描述符，
// 以及每个描述符在 Report 中的下标。注册失败的实例只出现在 Report 中。
func registerInstances(cfg *config.Config) (*Report, []topology.Descriptor, []int) {
	report := &Report{}
	store := topology.NewStore()
	var indexes []int
	for _, inst := range cfg.EffectiveInstances() {
		d := topology.FromConfig(inst)
		entry := InstanceReport{
			ID:            d.ID,
			Host:          d.Host,
			RequestedPort: d.Port,
			TLS:           d.TLS.Enabled,
			Domain:        d.TLS.Domain,
			Phase:         PhasePending,
		}
		if err := store.Register(d); err != nil {
			entry.Phase, entry.Err = PhaseInvalid, err
		} else {
			indexes = append(indexes, len(report.Instances))
		}
		report.Instances = append(report.Instances, entry)
	}
	return report, store.List(), indexes
}
