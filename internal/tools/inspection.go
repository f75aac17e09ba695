package tools

import (
	"context"
	"log/slog"
	"strings"
)

// PrometheusQuery is a mocked metrics data source. It stands in for a real
// PromQL client while the investigation pipeline is exercised end to end.
type PrometheusQuery struct {
	log *slog.Logger
}

func NewPrometheusQuery(log *slog.Logger) *PrometheusQuery {
	if log == nil {
		log = slog.Default()
	}
	return &PrometheusQuery{log: log}
}

func (t *PrometheusQuery) Name() string { return "query_prometheus" }

func (t *PrometheusQuery) Description() string {
	return "(MOCKED) Executes a PromQL query against the Prometheus monitoring system to get metrics. " +
		"Use this to get data about CPU, memory, latency, or error rates. " +
		`Example query: 'rate(http_requests_total{job="api"}[5m])'`
}

func (t *PrometheusQuery) Call(_ context.Context, query string) string {
	t.log.Info("executing mocked prometheus query", "query", query)

	if strings.Contains(query, "HighCpuUsage") {
		return `Mocked Prometheus Response:
[
    {"metric": {"pod": "billing-service-5c687d7f9-x7v9w"}, "value": [1678886400, "0.95"]},
    {"metric": {"pod": "frontend-6c7b8d8f9-a1b2c"}, "value": [1678886400, "0.15"]}
]
This data indicates that pod 'billing-service-5c687d7f9-x7v9w' has very high CPU usage (95%).`
	}
	return "Mocked Prometheus Response: No specific data for this query. Try a query related to the 'HighCpuUsage' alert."
}

// KubectlInspect is a mocked read-only cluster inspection tool.
type KubectlInspect struct {
	log *slog.Logger
}

func NewKubectlInspect(log *slog.Logger) *KubectlInspect {
	if log == nil {
		log = slog.Default()
	}
	return &KubectlInspect{log: log}
}

func (t *KubectlInspect) Name() string { return "kubectl" }

func (t *KubectlInspect) Description() string {
	return "(MOCKED) Executes a safe, read-only kubectl command on the Kubernetes cluster. " +
		"Use this to inspect the state of pods, services, and deployments. " +
		"Allowed commands start with 'get', 'describe'. " +
		"Example commands: 'describe pod billing-service-5c687d7f9-x7v9w', 'get events --sort-by=.metadata.creationTimestamp'"
}

func (t *KubectlInspect) Call(_ context.Context, command string) string {
	t.log.Info("executing mocked kubectl command", "command", command)

	if strings.Contains(command, "describe pod billing-service-5c687d7f9-x7v9w") {
		return `Mocked Kubectl Response:
Name:         billing-service-5c687d7f9-x7v9w
Namespace:    production
Status:       Running
Containers:
  billing-service:
    Image:      company/billing-service:v2.1.4
    Ports:      8080/TCP
    Environment:
      DATABASE_URL:           <set to the value of a secret>
      DOWNSTREAM_API_HOST:    http://payment-processor-svc:8000
Events:
  Type     Reason     Age   From     Message
  ----     ------     ----  ----     -------
  Warning  Unhealthy  5m    kubelet  Readiness probe failed: Get "http://:8080/healthz": context deadline exceeded
  Normal   Starting   25m   kubelet  Starting container billing-service`
	}
	return "Mocked Kubectl Response: Command not recognized or no specific output available for this mock."
}
