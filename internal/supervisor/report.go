package supervisor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/topohub/topohub/internal/provision"
	"github.com/topohub/topohub/internal/server/routes"
)

// Phase 是实例在启动流程中到达的阶段。
type Phase string

const (
	PhasePending      Phase = "pending"
	PhaseInvalid      Phase = "invalid"
	PhaseAllocFailed  Phase = "allocation_failed"
	PhaseProvisFailed Phase = "provisioning_failed"
	PhaseBindFailed   Phase = "bind_failed"
	PhaseAborted      Phase = "aborted"
	PhaseServing      Phase = "serving"
	PhaseStopped      Phase = "stopped"
)

var (
	// ErrAlreadyStarted 表示 Start 只能调用一次。
	ErrAlreadyStarted = errors.New("topology already started")
	// ErrNoInstances 表示配置中没有可运行的实例。
	ErrNoInstances = errors.New("no instances configured")
)

// InstanceReport 记录单个实例的启动结果。
type InstanceReport struct {
	ID            string          `yaml:"id" json:"id"`
	Host          string          `yaml:"host" json:"host"`
	RequestedPort int             `yaml:"requested_port" json:"requested_port"`
	Port          int             `yaml:"port" json:"port"`
	Attempts      int             `yaml:"attempts" json:"attempts"`
	Strategy      string          `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Address       string          `yaml:"address,omitempty" json:"address,omitempty"`
	TLS           bool            `yaml:"tls" json:"tls"`
	Domain        string          `yaml:"domain,omitempty" json:"domain,omitempty"`
	Provisioning  provision.State `yaml:"provisioning,omitempty" json:"provisioning,omitempty"`
	PlainFallback bool            `yaml:"plain_fallback,omitempty" json:"plain_fallback,omitempty"`
	Phase         Phase           `yaml:"phase" json:"phase"`
	Err           error           `yaml:"-" json:"-"`
}

// Scheme 返回实例实际对外提供的协议。
func (r InstanceReport) Scheme() string {
	if r.TLS && !r.PlainFallback && r.Phase == PhaseServing {
		return "https"
	}
	return "http"
}

// Report 按注册顺序汇总所有实例的结果。
type Report struct {
	Instances []InstanceReport `yaml:"instances" json:"instances"`
}

// Instance 按 ID 查找实例结果。
func (r *Report) Instance(id string) (InstanceReport, bool) {
	if r == nil {
		return InstanceReport{}, false
	}
	for _, inst := range r.Instances {
		if inst.ID == id {
			return inst, true
		}
	}
	return InstanceReport{}, false
}

// Failed 返回启动失败的实例。
func (r *Report) Failed() []InstanceReport {
	if r == nil {
		return nil
	}
	var result []InstanceReport
	for _, inst := range r.Instances {
		if inst.Err != nil {
			result = append(result, inst)
		}
	}
	return result
}

func (r *Report) clone() *Report {
	if r == nil {
		return nil
	}
	return &Report{Instances: append([]InstanceReport(nil), r.Instances...)}
}

func (r *Report) statuses() []routes.InstanceStatus {
	if r == nil {
		return nil
	}
	result := make([]routes.InstanceStatus, 0, len(r.Instances))
	for _, inst := range r.Instances {
		status := routes.InstanceStatus{
			ID:            inst.ID,
			Host:          inst.Host,
			RequestedPort: inst.RequestedPort,
			Port:          inst.Port,
			Address:       inst.Address,
			Scheme:        inst.Scheme(),
			Domain:        inst.Domain,
			Provisioning:  string(inst.Provisioning),
			Phase:         string(inst.Phase),
		}
		if inst.Err != nil {
			status.Error = inst.Err.Error()
		}
		result = append(result, status)
	}
	return result
}

// StartError 表示拓扑启动失败，Report 中包含每个实例的结果。
type StartError struct {
	Report *Report
}

func (e *StartError) Error() string {
	failed := e.Report.Failed()
	if len(failed) == 0 {
		return "topology start failed"
	}
	parts := make([]string, 0, len(failed))
	for _, inst := range failed {
		parts = append(parts, fmt.Sprintf("%s (%s): %v", inst.ID, inst.Phase, inst.Err))
	}
	return fmt.Sprintf("topology start failed: %d instance(s) failed: %s", len(failed), strings.Join(parts, "; "))
}

// Unwrap 暴露各实例的错误，便于 errors.Is/As 判断具体原因。
func (e *StartError) Unwrap() []error {
	var errs []error
	for _, inst := range e.Report.Failed() {
		errs = append(errs, inst.Err)
	}
	return errs
}

// BindError 表示实例无法绑定监听地址。
type BindError struct {
	InstanceID string
	Address    string
	Attempts   int
	Err        error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("instance %s: bind %s failed after %d attempt(s): %v", e.InstanceID, e.Address, e.Attempts, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}
