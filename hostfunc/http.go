package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultMaxURLLength   = 8192
	DefaultMaxBodySize    = 1 << 20 // 1MB
	DefaultRequestTimeout = 30 * time.Second
)

// HTTPConfig restricts outbound requests. With no AllowedHosts every
// request is refused.
type HTTPConfig struct {
	AllowedHosts   []string
	MaxBodySize    int64
	MaxURLLength   int
	RequestTimeout time.Duration
}

type HTTP struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &HTTP{cfg: cfg, client: &http.Client{Timeout: cfg.RequestTimeout}}
}

var methods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// Request performs one request. Arguments: url (required), method, body,
// headers. The result is a dict of status, body and headers.
func (h *HTTP) Request(ctx context.Context, args map[string]any) (any, error) {
	method, _ := args["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)
	if !methods[method] {
		return nil, fmt.Errorf("unsupported method: %s", method)
	}

	target, err := h.checkURL(args["url"])
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if s, ok := args["body"].(string); ok && s != "" {
		if int64(len(s)) > h.cfg.MaxBodySize {
			return nil, errors.New("request body exceeds max size")
		}
		body = strings.NewReader(s)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	switch hs := args["headers"].(type) {
	case map[string]any:
		for k, v := range hs {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	case map[string]string:
		for k, v := range hs {
			req.Header.Set(k, v)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	headers := make(map[string]any, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return map[string]any{
		"status":  resp.StatusCode,
		"body":    string(data),
		"headers": headers,
	}, nil
}

func (h *HTTP) checkURL(arg any) (string, error) {
	raw, ok := arg.(string)
	if !ok || raw == "" {
		return "", errors.New("url required")
	}
	if len(raw) > h.cfg.MaxURLLength {
		return "", errors.New("url exceeds max length")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", errors.New("invalid url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("scheme must be http or https")
	}
	if len(h.cfg.AllowedHosts) == 0 {
		return "", errors.New("http not enabled")
	}
	if host := parsed.Hostname(); !h.isHostAllowed(host) {
		return "", fmt.Errorf("host not allowed: %s", host)
	}
	return raw, nil
}

// isHostAllowed matches IP addresses exactly and names exactly or as a
// subdomain of an allowed name.
func (h *HTTP) isHostAllowed(host string) bool {
	if ip, err := netip.ParseAddr(host); err == nil {
		for _, allowed := range h.cfg.AllowedHosts {
			if a, err := netip.ParseAddr(allowed); err == nil && a == ip {
				return true
			}
		}
		return false
	}
	host = strings.ToLower(host)
	for _, allowed := range h.cfg.AllowedHosts {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// NewHTTPGet returns a Func that always issues GET requests.
func NewHTTPGet(cfg HTTPConfig) Func {
	h := NewHTTP(cfg)
	return func(ctx context.Context, args map[string]any) (any, error) {
		args = maps.Clone(args)
		if args == nil {
			args = map[string]any{}
		}
		args["method"] = http.MethodGet
		return h.Request(ctx, args)
	}
}
