package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/veilwaf/veil/internal/config"
	"github.com/veilwaf/veil/internal/ratelimit"
	"github.com/veilwaf/veil/internal/types"
	"github.com/veilwaf/veil/internal/waf"
)

const defaultBlockBody = "request blocked"

type txKey struct{}

// Connector is a reverse proxy that runs one WAF transaction per request.
// Request phases run before the upstream is contacted, response phases run
// on the upstream response before it is written back.
type Connector struct {
	router    *Router
	proxies   map[string]*httputil.ReverseProxy
	engine    *waf.Engine
	logger    *logrus.Entry
	blockBody string

	limiter     *ratelimit.Limiter
	limitKey    ratelimit.KeyType
	limitStatus int
}

func New(cfg *config.Config, engine *waf.Engine, logger *logrus.Entry) (*Connector, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	router, err := NewRouter(cfg.Routes)
	if err != nil {
		return nil, err
	}
	c := &Connector{
		router:    router,
		proxies:   make(map[string]*httputil.ReverseProxy, len(cfg.Upstreams)),
		engine:    engine,
		logger:    logger.WithField("component", "connector"),
		blockBody: cfg.Engine.BlockBody,
	}
	if c.blockBody == "" {
		c.blockBody = defaultBlockBody
	}

	if rl := cfg.Server.RateLimit; rl.Enabled {
		limiter, err := ratelimit.NewLimiter(rl.RPS, rl.Burst, rl.MaxClients)
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		if c.limitKey, err = ratelimit.ParseKeyType(rl.Key); err != nil {
			return nil, err
		}
		c.limiter = limiter
		c.limitStatus = statusOr(rl.StatusCode, http.StatusTooManyRequests)
	}

	transport := newTransport(cfg.Engine.UpstreamTimeout)
	for _, upstream := range cfg.Upstreams {
		target, err := url.Parse(upstream.URL)
		if err != nil {
			return nil, fmt.Errorf("parse upstream %s: %w", upstream.Name, err)
		}
		proxy := httputil.NewSingleHostReverseProxy(target)
		proxy.Transport = transport
		proxy.ModifyResponse = c.inspectResponse
		proxy.ErrorHandler = c.upstreamError
		c.proxies[upstream.Name] = proxy
	}
	return c, nil
}

func (c *Connector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, ok := c.router.Match(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	proxy, ok := c.proxies[route.Upstream]
	if !ok {
		http.Error(w, "upstream not configured", http.StatusBadGateway)
		return
	}

	if c.limiter != nil {
		ip, _ := splitHostPort(r.RemoteAddr)
		if !c.limiter.Allow(c.limitKey.Key(ip, r.URL.Path), time.Now()) {
			c.logger.WithFields(logrus.Fields{"client_ip": ip, "route": route.ID}).Debug("rate limited")
			http.Error(w, "rate limit exceeded", c.limitStatus)
			return
		}
	}

	start := time.Now()
	tx := c.engine.NewTransaction(r.Context())
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	if err := route.apply(tx); err != nil {
		c.logger.WithError(err).WithField("route", route.ID).Warn("route overrides not applied")
	}
	defer func() {
		record := tx.Finalize()
		_ = tx.Close()
		c.logger.WithFields(logrus.Fields{
			"tx_id":       tx.ID(),
			"route":       route.ID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"verdict":     record.Verdict.Action,
			"score":       record.InboundScore,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("request done")
	}()

	out := tx.ProcessPhase(types.PhaseRequestHeaders, requestHeaders(r))
	if c.interrupted(rec, r, tx, out) {
		return
	}

	body, err := readBody(rec, r, tx.RequestBodyLimit())
	if err != nil {
		status, msg := http.StatusBadRequest, "bad request body"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status, msg = http.StatusRequestEntityTooLarge, "request body too large"
		}
		_ = tx.SetResponseStatus(status, r.Proto)
		http.Error(rec, msg, status)
		return
	}
	data := &waf.PhaseData{}
	if len(body) > 0 {
		data.Body = body
	}
	out = tx.ProcessPhase(types.PhaseRequestBody, data)
	if c.interrupted(rec, r, tx, out) {
		return
	}

	proxy.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), txKey{}, tx)))
}

// interrupted writes the response for an interrupting verdict and records
// the status sent to the client.
func (c *Connector) interrupted(w http.ResponseWriter, r *http.Request, tx *waf.Transaction, out waf.PhaseOutcome) bool {
	v := out.Verdict
	if !v.Kind.Interrupts() {
		return false
	}
	status := interruptStatus(v)
	_ = tx.SetResponseStatus(status, r.Proto)
	if v.Kind == waf.VerdictRedirect {
		http.Redirect(w, r, v.RedirectURL, status)
		return true
	}
	http.Error(w, c.blockBody, status)
	return true
}

func interruptStatus(v waf.Verdict) int {
	if v.Kind == waf.VerdictRedirect {
		return statusOr(v.Status, http.StatusFound)
	}
	return statusOr(v.Status, http.StatusForbidden)
}

// inspectResponse runs the response phases on the upstream response. Only
// the first ResponseBodyLimit bytes are inspected; the rest is streamed.
func (c *Connector) inspectResponse(resp *http.Response) error {
	tx, ok := resp.Request.Context().Value(txKey{}).(*waf.Transaction)
	if !ok {
		return nil
	}

	out := tx.ProcessPhase(types.PhaseResponseHeaders, &waf.PhaseData{
		Status:   resp.StatusCode,
		Protocol: resp.Proto,
		Headers:  waf.HeadersFrom(resp.Header),
	})
	if out.Verdict.Kind.Interrupts() {
		c.replaceResponse(resp, tx, out.Verdict)
		return nil
	}

	limit := c.engine.Config().ResponseBodyLimit
	head, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)))
	if err != nil {
		return fmt.Errorf("read upstream body: %w", err)
	}
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), resp.Body), resp.Body}

	out = tx.ProcessPhase(types.PhaseResponseBody, &waf.PhaseData{Body: head})
	if out.Verdict.Kind.Interrupts() {
		c.replaceResponse(resp, tx, out.Verdict)
	}
	return nil
}

func (c *Connector) replaceResponse(resp *http.Response, tx *waf.Transaction, v waf.Verdict) {
	_ = resp.Body.Close()

	header := http.Header{}
	status := interruptStatus(v)
	body := c.blockBody + "\n"
	if v.Kind == waf.VerdictRedirect {
		header.Set("Location", v.RedirectURL)
		body = ""
	}
	_ = tx.SetResponseStatus(status, resp.Proto)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("Content-Length", strconv.Itoa(len(body)))

	resp.StatusCode = status
	resp.Status = fmt.Sprintf("%d %s", status, http.StatusText(status))
	resp.Header = header
	resp.Body = io.NopCloser(strings.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.TransferEncoding = nil
	resp.Trailer = nil
}

func (c *Connector) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	msg := "upstream error"
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status, msg = http.StatusGatewayTimeout, "upstream timeout"
	case errors.As(err, &maxErr):
		status, msg = http.StatusRequestEntityTooLarge, "request body too large"
	}
	if tx, ok := r.Context().Value(txKey{}).(*waf.Transaction); ok {
		_ = tx.SetResponseStatus(status, r.Proto)
		c.logger.WithError(err).WithField("tx_id", tx.ID()).Warn("upstream request failed")
	}
	http.Error(w, msg, status)
}

func requestHeaders(r *http.Request) *waf.PhaseData {
	uri := r.RequestURI
	if !strings.HasPrefix(uri, "/") {
		uri = r.URL.RequestURI()
	}
	headers := waf.HeadersFrom(r.Header)
	if r.Host != "" {
		headers = append([]waf.Header{{Name: "Host", Value: r.Host}}, headers...)
	}
	return &waf.PhaseData{
		Connection: connection(r),
		Method:     r.Method,
		URI:        uri,
		Protocol:   r.Proto,
		Headers:    headers,
	}
}

func connection(r *http.Request) *waf.Connection {
	conn := &waf.Connection{}
	conn.ClientIP, conn.ClientPort = splitHostPort(r.RemoteAddr)
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		conn.ServerIP, conn.ServerPort = splitHostPort(addr.String())
	}
	return conn
}

func splitHostPort(hostport string) (string, int) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, 0
	}
	n, _ := strconv.Atoi(port)
	return host, n
}

// readBody buffers the request body and rewinds it for the upstream.
func readBody(w http.ResponseWriter, r *http.Request, limit int) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(limit))
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	return body, nil
}

func statusOr(status, fallback int) int {
	if status <= 0 {
		return fallback
	}
	return status
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func newTransport(timeout time.Duration) *http.Transport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
}
