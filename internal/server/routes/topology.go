package routes

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/topohub/topohub/internal/config"
	"github.com/topohub/topohub/internal/version"
)

// InstanceStatus 是 /-/topology 输出的单个实例状态。
type InstanceStatus struct {
	ID            string   `json:"id"`
	Host          string   `json:"host"`
	RequestedPort int      `json:"requested_port"`
	Port          int      `json:"port"`
	Address       string   `json:"address,omitempty"`
	Scheme        string   `json:"scheme"`
	RoutePrefix   string   `json:"route_prefix"`
	AllowedRoutes []string `json:"allowed_routes"`
	Upstream      string   `json:"upstream,omitempty"`
	Domain        string   `json:"domain,omitempty"`
	Provisioning  string   `json:"provisioning,omitempty"`
	Phase         string   `json:"phase"`
	Error         string   `json:"error,omitempty"`
}

// CertificateStatus 是某个域名的证书申请记录。
type CertificateStatus struct {
	Domain    string    `json:"domain"`
	Instance  string    `json:"instance"`
	State     string    `json:"state"`
	Attempts  int       `json:"attempts"`
	AttemptID string    `json:"attempt_id"`
	Restored  bool      `json:"restored,omitempty"`
	IssuedAt  time.Time `json:"issued_at,omitempty"`
	NotAfter  time.Time `json:"not_after,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// TopologyView 由 supervisor 实现，诊断接口只读访问。
type TopologyView interface {
	Statuses() []InstanceStatus
	Certificates() []CertificateStatus
	InstanceConfig(id string) (config.Policy, bool)
}

// RegisterTopologyRoutes 暴露 /-/health、/-/topology 与 /-/topology/:id 诊断接口。
func RegisterTopologyRoutes(app *fiber.App, view TopologyView, instanceID string) {
	if app == nil || view == nil {
		return
	}

	app.Get("/-/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"instance": instanceID,
			"build":    version.Info(),
		})
	})

	app.Get("/-/topology", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"served_by":    instanceID,
			"instances":    view.Statuses(),
			"certificates": view.Certificates(),
		})
	})

	app.Get("/-/topology/:id", func(c fiber.Ctx) error {
		id := strings.TrimSpace(c.Params("id"))
		if id == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "instance_id_required"})
		}
		status, ok := findStatus(view.Statuses(), id)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "instance_not_found"})
		}
		payload := fiber.Map{"instance": status}
		if policy, ok := view.InstanceConfig(id); ok {
			payload["policy"] = map[string]interface{}(policy)
		}
		return c.JSON(payload)
	})
}

func findStatus(statuses []InstanceStatus, id string) (InstanceStatus, bool) {
	for _, s := range statuses {
		if s.ID == id {
			return s, true
		}
	}
	return InstanceStatus{}, false
}
