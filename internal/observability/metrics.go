package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MStockReservations       MetricKey = "stock_reservations_total"
	MPaymentVerifications    MetricKey = "payment_verifications_total"
)

// MetricSpec describes how a MetricKey is registered with the metrics backend.
type MetricSpec struct {
	Key    MetricKey
	Help   string
	Labels []string
}

// Counters lists every counter the service emits.
var Counters = []MetricSpec{
	{MUsecaseRequests, "Total number of use case invocations.", []string{"use_case", "outcome"}},
	{MHTTPRequests, "Total number of HTTP requests.", []string{"method", "route", "status"}},
	{MExternalRequests, "Calls to collaborators outside the process.", []string{"peer", "endpoint", "outcome"}},
	{MStockReservations, "Stock reservation attempts by outcome.", []string{"outcome"}},
	{MPaymentVerifications, "Payment verification attempts by outcome.", []string{"outcome"}},
}

// Histograms lists every histogram the service emits.
var Histograms = []MetricSpec{
	{MUsecaseDuration, "Duration of use case execution in seconds.", []string{"use_case"}},
	{MHTTPRequestDuration, "Duration of HTTP requests in seconds.", []string{"method", "route", "status"}},
	{MExternalRequestDuration, "Duration of calls to external collaborators in seconds.", []string{"peer", "endpoint"}},
}
