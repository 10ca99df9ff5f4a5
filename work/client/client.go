package client

import (
	"net/http"
	"time"

	"vidsniff/work/config"
)

// HeaderRewriter applies host specific header overrides to an outbound
// request without replacing headers the caller already set
type HeaderRewriter interface {
	Apply(req *http.Request) bool
}

// HeaderSettingClient wraps http.Client to automatically set headers
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config
	rules  HeaderRewriter
}

// CustomResponseWriter wraps http.ResponseWriter to track status and bytes and implement Flusher
type CustomResponseWriter struct {
	http.ResponseWriter
	WroteHeader  bool
	statusCode   int
	bytesWritten int64
}

// NewHeaderSettingClient builds the shared outbound client. There is no overall
// timeout because the same client carries long media streams; callers bound
// individual requests with a context instead. rules may be nil.
func NewHeaderSettingClient(cfg *config.Config, rules HeaderRewriter) *HeaderSettingClient {
	client := &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: 30 * time.Second, // Only timeout for headers
		},
	}

	return &HeaderSettingClient{
		Client: client,
		config: cfg,
		rules:  rules,
	}
}

// Do sets default headers, applies the host rules and sends the request
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

// setHeaders layers caller headers over host rules over client defaults
func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	if hsc.rules != nil {
		hsc.rules.Apply(req)
	}
	if req.Header.Get("User-Agent") == "" && hsc.config != nil {
		req.Header.Set("User-Agent", hsc.config.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
}

// NewCustomResponseWriter wraps w for status and byte accounting
func NewCustomResponseWriter(w http.ResponseWriter) *CustomResponseWriter {
	return &CustomResponseWriter{
		ResponseWriter: w,
		WroteHeader:    false,
		statusCode:     0,
	}
}

func (crw *CustomResponseWriter) WriteHeader(statusCode int) {
	if crw.WroteHeader {
		return
	}

	crw.Header().Set("Cache-Control", "no-cache")

	crw.statusCode = statusCode
	crw.ResponseWriter.WriteHeader(statusCode)
	crw.WroteHeader = true
}

func (crw *CustomResponseWriter) Write(b []byte) (int, error) {
	if !crw.WroteHeader {
		crw.WriteHeader(http.StatusOK)
	}
	n, err := crw.ResponseWriter.Write(b)
	crw.bytesWritten += int64(n)
	return n, err
}

// StatusCode returns the status sent to the client, 0 if nothing was sent
func (crw *CustomResponseWriter) StatusCode() int {
	return crw.statusCode
}

// BytesWritten returns the body bytes sent to the client
func (crw *CustomResponseWriter) BytesWritten() int64 {
	return crw.bytesWritten
}

// Implement http.Flusher interface
func (crw *CustomResponseWriter) Flush() {
	if flusher, ok := crw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
