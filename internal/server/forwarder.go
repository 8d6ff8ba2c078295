package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/topohub/topohub/internal/logging"
)

// Forwarder 是实例的默认处理器：配置了 Upstream 时转发请求，否则返回分发结果的 JSON 回显。
type Forwarder struct {
	client *http.Client
	logger *logrus.Logger
}

// NewForwarder 使用共享 http.Client 构建默认处理器。
func NewForwarder(client *http.Client, logger *logrus.Logger) *Forwarder {
	if client == nil {
		client = NewUpstreamClient(0)
	}
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Forwarder{client: client, logger: logger}
}

// Handle 实现 Handler。
func (f *Forwarder) Handle(c fiber.Ctx, target *Target) error {
	if target.Instance.Upstream == "" {
		return f.echo(c, target)
	}
	return f.forward(c, target)
}

func (f *Forwarder) echo(c fiber.Ctx, target *Target) error {
	return c.JSON(fiber.Map{
		"instance":   target.Instance.ID,
		"pattern":    target.Match.Pattern,
		"path":       string(c.Request().URI().Path()),
		"method":     c.Method(),
		"request_id": target.RequestID,
	})
}

func (f *Forwarder) forward(c fiber.Ctx, target *Target) error {
	started := time.Now()

	base, err := url.Parse(target.Instance.Upstream)
	if err != nil {
		f.logResult(c, target, "", 0, started, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_invalid"})
	}
	upstream := resolveUpstreamURL(base, c)

	req, err := f.buildUpstreamRequest(c, upstream, target)
	if err != nil {
		f.logResult(c, target, upstream.String(), 0, started, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logResult(c, target, upstream.String(), 0, started, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Status(resp.StatusCode)
	if c.Method() == http.MethodHead {
		f.logResult(c, target, upstream.String(), resp.StatusCode, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	f.logResult(c, target, upstream.String(), resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (f *Forwarder) buildUpstreamRequest(c fiber.Ctx, upstream *url.URL, target *Target) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var body io.Reader = http.NoBody
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(append([]byte(nil), raw...))
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), upstream.String(), body)
	if err != nil {
		return nil, err
	}

	CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Host = upstream.Host
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())
	if target.Port > 0 {
		req.Header.Set("X-Forwarded-Port", strconv.Itoa(target.Port))
	}
	if target.RequestID != "" {
		req.Header.Set("X-Request-ID", target.RequestID)
	}
	return req, nil
}

func (f *Forwarder) logResult(c fiber.Ctx, target *Target, upstream string, status int, started time.Time, err error) {
	fields := logging.RequestFields(
		target.Instance.ID,
		c.Hostname(),
		string(c.Request().URI().Path()),
		target.Match.Pattern,
		target.RequestID,
	)
	fields["action"] = "proxy"
	fields["upstream"] = upstream
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		f.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	f.logger.WithFields(fields).Info("proxy_complete")
}

// resolveUpstreamURL 将请求路径与查询串拼接到 Upstream 上，Upstream 自带的路径作为前缀保留。
func resolveUpstreamURL(base *url.URL, c fiber.Ctx) *url.URL {
	uri := c.Request().URI()
	out := *base
	reqPath := string(uri.Path())
	if reqPath == "" {
		reqPath = "/"
	}
	basePath := base.Path
	if len(basePath) > 0 && basePath[len(basePath)-1] == '/' {
		basePath = basePath[:len(basePath)-1]
	}
	out.Path = basePath + reqPath
	out.RawPath = ""
	out.RawQuery = string(uri.QueryString())
	return &out
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if IsHopByHopHeader(key) {
			continue
		}
		c.Response().Header.Del(key)
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}
