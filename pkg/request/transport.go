package request

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// apiTransport 为每个请求补齐 Accept、User-Agent 与 W3C trace 头
type apiTransport struct {
	base      http.RoundTripper
	userAgent string
}

func newAPITransport(base http.RoundTripper, userAgent string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &apiTransport{base: base, userAgent: userAgent}
}

func (t *apiTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTripper 不得修改调用方的请求
	req = req.Clone(req.Context())
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if t.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))
	return t.base.RoundTrip(req)
}
