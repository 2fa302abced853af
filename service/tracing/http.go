package tracing

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
)

type tracingTransport struct {
	http.RoundTripper

	continueOnly bool
	opts         []sentry.SpanOption
}

// NewTracingTransport creates an http transport that will trace requests via Sentry. If continueOnly is true,
// traces will only be generated if they'd contribute to an existing parent trace.
func NewTracingTransport(roundTripper http.RoundTripper, continueOnly bool, spanOptions ...sentry.SpanOption) http.RoundTripper {
	if roundTripper == nil {
		roundTripper = http.DefaultTransport
	}

	// If roundTripper is already a tracer, grab its underlying RoundTripper instead
	if existingTracer, ok := roundTripper.(*tracingTransport); ok {
		roundTripper = existingTracer.RoundTripper
	}

	return &tracingTransport{
		RoundTripper: roundTripper,
		continueOnly: continueOnly,
		opts:         spanOptions,
	}
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.continueOnly && sentry.TransactionFromContext(req.Context()) == nil {
		return t.RoundTripper.RoundTrip(req)
	}

	span, _ := StartSpan(req.Context(), "http."+strings.ToLower(req.Method), fmt.Sprintf("HTTP %s %s", req.Method, req.URL.Redacted()), t.opts...)
	defer FinishSpan(span)

	// Send sentry-trace header in case the receiving service can continue our trace
	req.Header.Add("sentry-trace", span.ToSentryTrace())

	response, err := t.RoundTripper.RoundTrip(req)
	if response != nil {
		AddEventDataToSpan(span, map[string]interface{}{
			"HTTP Status Code": response.StatusCode,
		})
	}

	return response, err
}
