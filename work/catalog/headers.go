package catalog

import (
	"net/http"
	"sync"

	"github.com/grafana/regexp"

	"vidsniff/work/config"
	"vidsniff/work/logger"
	"vidsniff/work/utils"
)

// compiledRule holds one host pattern with the headers it forces
type compiledRule struct {
	pattern *regexp.Regexp
	headers map[string]string
	raw     config.HeaderRule
}

// HeaderRules is the host pattern -> header override table shared by the
// browser interceptor and the stream proxy. Patterns are compiled once and
// matched against the request hostname.
type HeaderRules struct {
	rules []compiledRule
	mu    sync.RWMutex
}

// NewHeaderRules compiles the given rules. Rules with invalid patterns are
// logged and skipped rather than failing startup.
func NewHeaderRules(rules []config.HeaderRule) *HeaderRules {
	h := &HeaderRules{}
	h.Replace(rules)
	return h
}

// Replace swaps the whole table, used when rules are edited through the admin API
func (h *HeaderRules) Replace(rules []config.HeaderRule) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Pattern == "" || len(rule.Headers) == 0 {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			logger.Error("{catalog/headers - Replace} failed to compile header rule pattern '%s': %v", rule.Pattern, err)
			continue
		}
		headers := make(map[string]string, len(rule.Headers))
		for k, v := range rule.Headers {
			headers[http.CanonicalHeaderKey(k)] = v
		}
		compiled = append(compiled, compiledRule{pattern: re, headers: headers, raw: rule})
		logger.Debug("{catalog/headers - Replace} compiled header rule '%s' (%d headers)", rule.Pattern, len(headers))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.rules = compiled
}

// Rules returns the uncompiled table in match order
func (h *HeaderRules) Rules() []config.HeaderRule {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]config.HeaderRule, 0, len(h.rules))
	for _, r := range h.rules {
		out = append(out, r.raw)
	}
	return out
}

// Match returns the merged overrides for every rule whose pattern matches the
// URL's host, later rules winning on conflicts. It returns nil when nothing matches.
func (h *HeaderRules) Match(rawURL string) map[string]string {
	host := utils.HostOf(rawURL)
	if host == "" {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var merged map[string]string
	for _, r := range h.rules {
		if !r.pattern.MatchString(host) {
			continue
		}
		if merged == nil {
			merged = make(map[string]string, len(r.headers))
		}
		for k, v := range r.headers {
			merged[k] = v
		}
	}
	return merged
}

// Apply sets the matching overrides on an outbound request and reports
// whether any rule matched. Headers the caller already set are kept.
func (h *HeaderRules) Apply(req *http.Request) bool {
	headers := h.Match(req.URL.String())
	for k, v := range headers {
		if req.Header.Get(k) != "" {
			continue
		}
		req.Header.Set(k, v)
	}
	return headers != nil
}
