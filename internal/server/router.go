package server

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cache"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/topohub/topohub/internal/config"
	"github.com/topohub/topohub/internal/dispatch"
	"github.com/topohub/topohub/internal/logging"
	"github.com/topohub/topohub/internal/topology"
)

const (
	defaultBodyLimit      = 10 * 1024 * 1024
	defaultRequestTimeout = 30 * time.Second
	defaultCacheTTL       = time.Hour

	// HeaderInstance 标识承接请求（或拒绝请求时真正的归属）实例。
	HeaderInstance = "X-Topohub-Instance"
)

// Target 是请求上下文中间件解析出的分发结果，传给实例处理器。
type Target struct {
	Instance  topology.Descriptor
	Match     dispatch.RouteMatch
	Policy    config.Policy
	Port      int
	RequestID string
}

// Handler 处理已通过分发与作用域检查的请求，测试中可注入假实现。
type Handler interface {
	Handle(fiber.Ctx, *Target) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(fiber.Ctx, *Target) error

// Handle makes HandlerFunc satisfy Handler.
func (f HandlerFunc) Handle(c fiber.Ctx, target *Target) error {
	return f(c, target)
}

// AppOptions controls the Fiber application of one instance.
type AppOptions struct {
	Logger     *logrus.Logger
	Dispatcher *dispatch.Dispatcher
	InstanceID string
	// Policy 是合并后的实例策略，见 config.MergePolicy。
	Policy  config.Policy
	Handler Handler
	// Port 是实际绑定端口，仅用于日志与转发头。
	Port int
}

const (
	contextKeyTarget    = "_topohub_target"
	contextKeyRequestID = "_topohub_request_id"
)

// bodyLimit 把策略中的字节数收敛到 int 范围内。
func bodyLimit(policy config.Policy) int {
	limit := policy.Bytes("server.jsonlimit", defaultBodyLimit)
	if limit > math.MaxInt {
		return math.MaxInt
	}
	return int(limit)
}

// NewApp 构建单个实例的 Fiber 应用，策略决定 BodyLimit、超时以及可选中间件。
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("handler is required")
	}
	if strings.TrimSpace(opts.InstanceID) == "" {
		return nil, errors.New("instance id is required")
	}

	policy := opts.Policy
	if policy == nil {
		policy = config.DefaultPolicy()
	}
	timeout := policy.Duration("server.requesttimeout", defaultRequestTimeout)

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		BodyLimit:     bodyLimit(policy),
		ReadTimeout:   timeout,
		WriteTimeout:  timeout,
		AppName:       "topohub:" + opts.InstanceID,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts))

	if policy.Bool("security.enabled", true) && policy.Bool("security.helmet", true) {
		app.Use(helmet.New())
	}
	if policy.Bool("performance.compression", true) {
		app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))
	}
	if policy.Bool("cache.enabled", false) {
		app.Use(cache.New(cache.Config{
			Next:       func(c fiber.Ctx) bool { return isDiagnosticsPath(c.Path()) },
			Expiration: policy.Duration("cache.ttl", defaultCacheTTL),
		}))
	}

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		target, ok := TargetFromContext(c)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "route_unmatched"})
		}
		return opts.Handler.Handle(c, target)
	})

	return app, nil
}

// requestContextMiddleware 生成请求 ID，按 Host + 路径分发，并拒绝归属其他实例的请求。
func requestContextMiddleware(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		rawPath := string(c.Request().URI().Path())
		if isDiagnosticsPath(rawPath) {
			return c.Next()
		}

		rawHost := strings.TrimSpace(getHostHeader(c))
		match := opts.Dispatcher.Dispatch(rawHost, rawPath)
		if !match.Matched {
			return renderRejected(c, opts, "route_unmatched", rawHost, rawPath, match)
		}
		if match.InstanceID != opts.InstanceID {
			c.Set(HeaderInstance, match.InstanceID)
			return renderRejected(c, opts, "route_out_of_scope", rawHost, rawPath, match)
		}

		desc, ok := opts.Dispatcher.Instance(opts.InstanceID)
		if !ok {
			return renderRejected(c, opts, "route_unmatched", rawHost, rawPath, match)
		}

		c.Set(HeaderInstance, opts.InstanceID)
		c.Locals(contextKeyTarget, &Target{
			Instance:  desc,
			Match:     match,
			Policy:    opts.Policy,
			Port:      opts.Port,
			RequestID: reqID,
		})
		return c.Next()
	}
}

func renderRejected(c fiber.Ctx, opts AppOptions, code, host, path string, match dispatch.RouteMatch) error {
	fields := logging.RequestFields(opts.InstanceID, host, path, match.Pattern, RequestID(c))
	fields["action"] = "dispatch"
	fields["owner"] = match.InstanceID
	opts.Logger.WithFields(fields).Warn(code)

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": code,
	})
}

func getHostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}

// TargetFromContext 返回请求上下文中间件写入的分发结果。
func TargetFromContext(c fiber.Ctx) (*Target, bool) {
	if value := c.Locals(contextKeyTarget); value != nil {
		if target, ok := value.(*Target); ok {
			return target, true
		}
	}
	return nil, false
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
