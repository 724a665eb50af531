package metrics

import (
	"fmt"
	"sync"
	"time"
)

// Metrics holds process-scoped application metrics. It is constructed once at
// startup rather than relied on as an import-order side effect.
type Metrics struct {
	mu sync.RWMutex

	TotalRequests      int64
	SuccessfulRequests int64
	FailedRequests     int64

	EndpointRequests map[string]int64
	EndpointErrors   map[string]int64
	EndpointLatency  map[string][]time.Duration

	// Collaborator calls: telephony, voice agent, language model, storage.
	ServiceCalls   map[string]int64
	ServiceErrors  map[string]int64
	ServiceLatency map[string][]time.Duration

	// Admission-control outcomes by denial code.
	PolicyApprovals int64
	PolicyDenials   map[string]int64

	StartTime time.Time
}

var globalMetrics = newMetrics()

func newMetrics() *Metrics {
	return &Metrics{
		EndpointRequests: make(map[string]int64),
		EndpointErrors:   make(map[string]int64),
		EndpointLatency:  make(map[string][]time.Duration),
		ServiceCalls:     make(map[string]int64),
		ServiceErrors:    make(map[string]int64),
		ServiceLatency:   make(map[string][]time.Duration),
		PolicyDenials:    make(map[string]int64),
		StartTime:        time.Now(),
	}
}

// RecordRequest records an API request
func RecordRequest(endpoint string, success bool, latency time.Duration) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.TotalRequests++
	if success {
		globalMetrics.SuccessfulRequests++
	} else {
		globalMetrics.FailedRequests++
		globalMetrics.EndpointErrors[endpoint]++
	}

	globalMetrics.EndpointRequests[endpoint]++

	// Keep only the last 100 latency measurements per endpoint.
	if len(globalMetrics.EndpointLatency[endpoint]) >= 100 {
		globalMetrics.EndpointLatency[endpoint] = globalMetrics.EndpointLatency[endpoint][1:]
	}
	globalMetrics.EndpointLatency[endpoint] = append(globalMetrics.EndpointLatency[endpoint], latency)
}

// RecordServiceCall records an outbound collaborator call
func RecordServiceCall(service string, success bool, latency time.Duration) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.ServiceCalls[service]++
	if !success {
		globalMetrics.ServiceErrors[service]++
	}

	if len(globalMetrics.ServiceLatency[service]) >= 100 {
		globalMetrics.ServiceLatency[service] = globalMetrics.ServiceLatency[service][1:]
	}
	globalMetrics.ServiceLatency[service] = append(globalMetrics.ServiceLatency[service], latency)
}

// RecordPolicyDecision records an admission-control outcome
func RecordPolicyDecision(allowed bool, code string) {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	if allowed {
		globalMetrics.PolicyApprovals++
	} else {
		globalMetrics.PolicyDenials[code]++
	}
}

// GetMetrics returns current metrics
func GetMetrics() map[string]interface{} {
	globalMetrics.mu.RLock()
	defer globalMetrics.mu.RUnlock()

	endpointAvgLatency := averageLatencies(globalMetrics.EndpointLatency)
	serviceAvgLatency := averageLatencies(globalMetrics.ServiceLatency)

	denials := make(map[string]int64, len(globalMetrics.PolicyDenials))
	for code, count := range globalMetrics.PolicyDenials {
		denials[code] = count
	}

	uptime := time.Since(globalMetrics.StartTime)

	return map[string]interface{}{
		"uptime_seconds": uptime.Seconds(),
		"requests": map[string]interface{}{
			"total":      globalMetrics.TotalRequests,
			"successful": globalMetrics.SuccessfulRequests,
			"failed":     globalMetrics.FailedRequests,
		},
		"endpoints": map[string]interface{}{
			"requests":            copyCounts(globalMetrics.EndpointRequests),
			"errors":              copyCounts(globalMetrics.EndpointErrors),
			"latency_avg_seconds": endpointAvgLatency,
		},
		"services": map[string]interface{}{
			"calls":               copyCounts(globalMetrics.ServiceCalls),
			"errors":              copyCounts(globalMetrics.ServiceErrors),
			"latency_avg_seconds": serviceAvgLatency,
		},
		"policy": map[string]interface{}{
			"approvals": globalMetrics.PolicyApprovals,
			"denials":   denials,
		},
	}
}

func averageLatencies(in map[string][]time.Duration) map[string]float64 {
	out := make(map[string]float64, len(in))
	for key, latencies := range in {
		if len(latencies) == 0 {
			continue
		}
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		out[key] = sum.Seconds() / float64(len(latencies))
	}
	return out
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// GetPrometheusMetrics returns metrics in Prometheus text format
func GetPrometheusMetrics() string {
	m := GetMetrics()
	var output string

	output += "# HELP call_runtime_uptime_seconds Process uptime in seconds\n"
	output += "# TYPE call_runtime_uptime_seconds gauge\n"
	output += fmt.Sprintf("call_runtime_uptime_seconds %.2f\n", m["uptime_seconds"].(float64))

	reqs := m["requests"].(map[string]interface{})
	output += "# HELP call_runtime_requests_total Total number of requests\n"
	output += "# TYPE call_runtime_requests_total counter\n"
	output += fmt.Sprintf("call_runtime_requests_total{status=\"total\"} %d\n", reqs["total"].(int64))
	output += fmt.Sprintf("call_runtime_requests_total{status=\"successful\"} %d\n", reqs["successful"].(int64))
	output += fmt.Sprintf("call_runtime_requests_total{status=\"failed\"} %d\n", reqs["failed"].(int64))

	endpoints := m["endpoints"].(map[string]interface{})
	endpointReqs := endpoints["requests"].(map[string]int64)
	output += "# HELP call_runtime_endpoint_requests_total Total requests per endpoint\n"
	output += "# TYPE call_runtime_endpoint_requests_total counter\n"
	for endpoint, count := range endpointReqs {
		output += fmt.Sprintf("call_runtime_endpoint_requests_total{endpoint=\"%s\"} %d\n", endpoint, count)
	}

	services := m["services"].(map[string]interface{})
	serviceCalls := services["calls"].(map[string]int64)
	output += "# HELP call_runtime_service_calls_total Total calls per collaborator\n"
	output += "# TYPE call_runtime_service_calls_total counter\n"
	for service, count := range serviceCalls {
		output += fmt.Sprintf("call_runtime_service_calls_total{service=\"%s\"} %d\n", service, count)
	}

	policy := m["policy"].(map[string]interface{})
	denials := policy["denials"].(map[string]int64)
	output += "# HELP call_runtime_policy_denials_total Admission denials by code\n"
	output += "# TYPE call_runtime_policy_denials_total counter\n"
	for code, count := range denials {
		output += fmt.Sprintf("call_runtime_policy_denials_total{code=\"%s\"} %d\n", code, count)
	}

	return output
}
