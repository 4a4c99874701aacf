package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"xs2event-gateway/internal/config"
	"xs2event-gateway/internal/model"
	"xs2event-gateway/internal/service"
)

// streamChunkSize is the write size used when relaying large bodies.
const streamChunkSize = 8 * 1024

// ProxyHandler forwards API requests to the upstream XS2Event API.
type ProxyHandler struct {
	service         *service.ProxyService
	logger          *slog.Logger
	streamThreshold int64
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service:         svc,
		logger:          logger.With("component", "proxy_handler"),
		streamThreshold: cfg.Upstream.StreamThresholdBytes,
	}
}

// Handle proxies the request upstream and relays the response. The path
// suffix after the route prefix is forwarded as the upstream path.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unable to read request body")
	}

	pr := &model.ProxyRequest{
		Ctx:         req.Context(),
		Method:      req.Method,
		Path:        c.Param("*"),
		RawQuery:    req.URL.RawQuery,
		Header:      model.HeaderFromHTTP(req.Header),
		Body:        body,
		ContentType: req.Header.Get(echo.HeaderContentType),
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	dst := c.Response().Header()
	for name, vals := range resp.Header.HTTP() {
		dst[name] = vals
	}

	if resp.ContentLength >= 0 && resp.ContentLength <= h.streamThreshold {
		return h.relayBuffered(c, resp)
	}
	h.relayStreamed(c, resp)
	return nil
}

func (h *ProxyHandler) relayBuffered(c echo.Context, resp *model.ProxyResponse) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return h.mapError(c, &service.ProxyError{
			Kind:       service.ErrUpstream,
			StatusCode: http.StatusBadGateway,
			Err:        err,
		})
	}
	c.Response().Header().Set(echo.HeaderContentLength, strconv.Itoa(len(data)))
	c.Response().WriteHeader(resp.StatusCode)
	_, err = c.Response().Write(data)
	return err
}

// relayStreamed copies the body in fixed-size chunks with a flush per chunk.
// Once the status line is sent a failed copy can only truncate the
// response, so errors are logged rather than returned.
func (h *ProxyHandler) relayStreamed(c echo.Context, resp *model.ProxyResponse) {
	w := c.Response()
	w.WriteHeader(resp.StatusCode)

	buf := make([]byte, streamChunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				h.logger.Error("streaming response body",
					"err", werr,
					"path", c.Request().URL.Path,
				)
				return
			}
			w.Flush()
		}
		if errors.Is(rerr, io.EOF) {
			return
		}
		if rerr != nil {
			h.logger.Error("reading upstream body",
				"err", service.SanitizeError(rerr),
				"path", c.Request().URL.Path,
			)
			return
		}
	}
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", service.SanitizeError(err),
		"path", c.Request().URL.Path,
	)

	var pe *service.ProxyError
	if errors.As(err, &pe) {
		body := map[string]any{"error": pe.Kind.Error()}
		if pe.UpstreamStatus != 0 {
			body["upstream_status"] = pe.UpstreamStatus
		}
		if pe.RetryAfter > 0 {
			c.Response().Header().Set("Retry-After", strconv.Itoa(int(pe.RetryAfter.Seconds())))
		}
		return c.JSON(pe.StatusCode, body)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": service.ErrInternal.Error(),
	})
}
