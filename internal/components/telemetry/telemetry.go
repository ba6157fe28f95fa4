package telemetry

import "fmt"

// API is an abstraction over logging/metrics so that tests can assert on
// what a component reported instead of scraping log output.
//
// note: fault injection point
type API interface {
	// ReportBroken reports a component that has broken in a way that should
	// be addressed. The `id` names the component and method that broke
	// (ex. `bilibili_client.fetch-article`), not the specific line of the
	// implementation that failed. Formatting rules:
	// 1) all lowercase
	// 2) underscores inside large component names
	// 3) dashes for methods of a larger component
	ReportBroken(id string, params ...any)

	// ReportWarning reports a scenario that is not necessarily brokenness
	// but may be worth investigating. Same `id` rules as ReportBroken.
	ReportWarning(id string, params ...any)

	// ReportDebug reports debug information that is ignored in production.
	ReportDebug(msg string, params ...any)

	// ReportCount reports the current count of an event at the current time,
	// interpreted as a point over time rather than summed.
	ReportCount(id string, count int64)
}

// ScopedAPI attaches a namespace to another API, like creating a sub-logger
// with a fixed prefix.
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(fmt.Sprintf("%s: %s", s.namespace, msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(fmt.Sprintf("%s: %s", s.namespace, id), count)
}
