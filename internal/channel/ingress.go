package channel

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nanabot/internal/bus"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// PlainSender is the send primitive the bridge forwards through.
type PlainSender interface {
	SendPlain(ctx context.Context, channelID, text string) error
}

// Ingress outcomes reported on the event bus.
const (
	IngressForwarded    = "forwarded"
	IngressBlank        = "blank"
	IngressUnauthorized = "unauthorized"
	IngressTooLarge     = "too_large"
	IngressThrottled    = "throttled"
	IngressFailed       = "failed"
)

// LogBridgeConfig configures the log ingress bridge.
type LogBridgeConfig struct {
	Addr         string // listen address, e.g. ":5000"
	LogChannelID string
	Secret       string // compared against the Authorization header; empty disables the check
	MaxBodyBytes int64
	CallTimeout  time.Duration
	Sender       PlainSender
	Limiter      *RateLimiter // optional
	MetricsPath  string       // optional GET route for Metrics
	Metrics      http.Handler
	Events       *bus.EventBus
	Logger       *slog.Logger
}

// LogBridge accepts raw text on POST / and forwards it verbatim to the log
// channel as the bot account.
type LogBridge struct {
	cfg    LogBridgeConfig
	echo   *echo.Echo
	logger *slog.Logger
	server *http.Server
}

func NewLogBridge(cfg LogBridgeConfig) *LogBridge {
	if cfg.Addr == "" {
		cfg.Addr = ":5000"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &LogBridge{cfg: cfg, logger: logger.With("component", "ingress")}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	b.Register(e)
	b.echo = e
	return b
}

// Register registers the bridge routes on e.
func (b *LogBridge) Register(e *echo.Echo) {
	e.POST("/", b.HandleLog)
	if b.cfg.MetricsPath != "" && b.cfg.Metrics != nil {
		e.GET(b.cfg.MetricsPath, echo.WrapHandler(b.cfg.Metrics))
	}
}

// Handler exposes the router, mainly for tests.
func (b *LogBridge) Handler() http.Handler { return b.echo }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (b *LogBridge) Start(ctx context.Context) error {
	b.server = &http.Server{
		Addr:              b.cfg.Addr,
		Handler:           b.echo,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	b.logger.Info("log ingress listening", "addr", b.cfg.Addr, "auth", b.cfg.Secret != "")

	errCh := make(chan error, 1)
	go func() {
		if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		b.logger.Info("log ingress shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return b.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("log ingress: %w", err)
	}
}

// HandleLog implements POST /.
func (b *LogBridge) HandleLog(c echo.Context) error {
	start := time.Now()
	req := c.Request()

	if !b.authorized(req.Header.Get(echo.HeaderAuthorization)) {
		b.finish(IngressUnauthorized, 0, start, nil)
		return c.NoContent(http.StatusUnauthorized)
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, b.cfg.MaxBodyBytes+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(body)) > b.cfg.MaxBodyBytes {
		b.finish(IngressTooLarge, len(body), start, nil)
		return c.NoContent(http.StatusRequestEntityTooLarge)
	}

	text := string(body)
	if strings.TrimSpace(text) == "" {
		b.finish(IngressBlank, 0, start, nil)
		return c.NoContent(http.StatusOK)
	}

	ctx, cancel := context.WithTimeout(req.Context(), b.cfg.CallTimeout)
	defer cancel()

	var delay time.Duration
	if b.cfg.Limiter != nil {
		d, ok := b.cfg.Limiter.Take(b.cfg.CallTimeout)
		if !ok {
			c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
			b.finish(IngressThrottled, len(body), start, nil)
			return c.NoContent(http.StatusTooManyRequests)
		}
		delay = d
	}
	if err := b.forward(ctx, delay, text); err != nil {
		b.finish(IngressFailed, len(body), start, err)
		return c.NoContent(http.StatusBadGateway)
	}

	b.finish(IngressForwarded, len(body), start, nil)
	return c.NoContent(http.StatusOK)
}

func (b *LogBridge) forward(ctx context.Context, delay time.Duration, text string) error {
	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("throttled: %w", ctx.Err())
		case <-t.C:
		}
	}
	return b.cfg.Sender.SendPlain(ctx, b.cfg.LogChannelID, text)
}

func (b *LogBridge) authorized(presented string) bool {
	if b.cfg.Secret == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(b.cfg.Secret)) == 1
}

func (b *LogBridge) finish(outcome string, size int, start time.Time, err error) {
	elapsed := time.Since(start)
	switch outcome {
	case IngressForwarded:
		b.logger.Info("log forwarded", "channel_id", b.cfg.LogChannelID, "content_len", size, "took", elapsed)
	case IngressFailed:
		b.logger.Error("log forward failed", "channel_id", b.cfg.LogChannelID, "err", err)
	case IngressUnauthorized, IngressThrottled:
		b.logger.Warn("log ingress rejected", "reason", outcome)
	default:
		b.logger.Debug("log ingress ignored", "reason", outcome, "content_len", size)
	}

	payload := map[string]any{
		bus.KeyOutcome:   outcome,
		bus.KeyChannelID: b.cfg.LogChannelID,
		bus.KeyLatency:   elapsed,
	}
	if err != nil {
		payload[bus.KeyError] = err.Error()
	}
	b.cfg.Events.Emit(bus.Event{Type: bus.EventIngressHandled, Source: "ingress", Payload: payload})
}
