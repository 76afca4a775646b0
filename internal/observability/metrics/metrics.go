// Package metrics 以 Prometheus 文本格式汇总 HTTP 请求与命令任务的指标。
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var defaultBuckets = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

type httpKey struct {
	route  string
	method string
	code   string
}

type routeKey struct {
	route  string
	method string
}

type taskKey struct {
	agent   string
	outcome string
}

type histogram struct {
	counts []uint64
	sum    float64
	count  uint64
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for i, bound := range defaultBuckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

// Collector 保存进程内的全部计数。零值不可用，请使用 NewCollector。
type Collector struct {
	mu        sync.Mutex
	requests  map[httpKey]uint64
	latency   map[routeKey]*histogram
	tasks     map[taskKey]uint64
	execution map[string]*histogram
}

// NewCollector 创建空的指标集合。
func NewCollector() *Collector {
	return &Collector{
		requests:  make(map[httpKey]uint64),
		latency:   make(map[routeKey]*histogram),
		tasks:     make(map[taskKey]uint64),
		execution: make(map[string]*histogram),
	}
}

var defaultCollector = NewCollector()

// Default 返回进程级的指标集合。
func Default() *Collector { return defaultCollector }

// ObserveHTTPRequest 记录一次 HTTP 请求。route 应为路由模板而非原始路径。
func (c *Collector) ObserveHTTPRequest(route, method string, status int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[httpKey{route: route, method: method, code: strconv.Itoa(status)}]++
	key := routeKey{route: route, method: method}
	h := c.latency[key]
	if h == nil {
		h = &histogram{counts: make([]uint64, len(defaultBuckets))}
		c.latency[key] = h
	}
	h.observe(duration.Seconds())
}

// ObserveTask 记录一次任务处理结果，outcome 取 succeeded、agent_failed、retry 或 failed。
func (c *Collector) ObserveTask(agent, outcome string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[taskKey{agent: agent, outcome: outcome}]++
	if duration <= 0 {
		return
	}
	h := c.execution[agent]
	if h == nil {
		h = &histogram{counts: make([]uint64, len(defaultBuckets))}
		c.execution[agent] = h
	}
	h.observe(duration.Seconds())
}

// Handler 以 Prometheus 文本格式输出指标。
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, c.Render())
	})
}

// Render 生成当前快照。
func (c *Collector) Render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Grow(1024)

	b.WriteString("# HELP agenthost_http_requests_total Total number of HTTP requests processed.\n")
	b.WriteString("# TYPE agenthost_http_requests_total counter\n")
	reqKeys := make([]httpKey, 0, len(c.requests))
	for k := range c.requests {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		a, z := reqKeys[i], reqKeys[j]
		if a.route != z.route {
			return a.route < z.route
		}
		if a.method != z.method {
			return a.method < z.method
		}
		return a.code < z.code
	})
	for _, k := range reqKeys {
		fmt.Fprintf(&b, "agenthost_http_requests_total{route=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(k.route), escape(k.method), k.code, c.requests[k])
	}

	b.WriteString("# HELP agenthost_http_request_duration_seconds HTTP request duration in seconds.\n")
	b.WriteString("# TYPE agenthost_http_request_duration_seconds histogram\n")
	routes := make([]routeKey, 0, len(c.latency))
	for k := range c.latency {
		routes = append(routes, k)
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].route != routes[j].route {
			return routes[i].route < routes[j].route
		}
		return routes[i].method < routes[j].method
	})
	for _, k := range routes {
		labels := fmt.Sprintf("route=\"%s\",method=\"%s\"", escape(k.route), escape(k.method))
		writeHistogram(&b, "agenthost_http_request_duration_seconds", labels, c.latency[k])
	}

	b.WriteString("# HELP agenthost_tasks_total Command tasks handled by the worker pool.\n")
	b.WriteString("# TYPE agenthost_tasks_total counter\n")
	taskKeys := make([]taskKey, 0, len(c.tasks))
	for k := range c.tasks {
		taskKeys = append(taskKeys, k)
	}
	sort.Slice(taskKeys, func(i, j int) bool {
		if taskKeys[i].agent != taskKeys[j].agent {
			return taskKeys[i].agent < taskKeys[j].agent
		}
		return taskKeys[i].outcome < taskKeys[j].outcome
	})
	for _, k := range taskKeys {
		fmt.Fprintf(&b, "agenthost_tasks_total{agent=\"%s\",outcome=\"%s\"} %d\n",
			escape(k.agent), escape(k.outcome), c.tasks[k])
	}

	b.WriteString("# HELP agenthost_task_execution_seconds Agent execution time for queued commands.\n")
	b.WriteString("# TYPE agenthost_task_execution_seconds histogram\n")
	agents := make([]string, 0, len(c.execution))
	for name := range c.execution {
		agents = append(agents, name)
	}
	sort.Strings(agents)
	for _, name := range agents {
		writeHistogram(&b, "agenthost_task_execution_seconds", fmt.Sprintf("agent=\"%s\"", escape(name)), c.execution[name])
	}
	return b.String()
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	for i, bound := range defaultBuckets {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%s\"} %d\n", name, labels, formatFloat(bound), h.counts[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, h.count)
	fmt.Fprintf(b, "%s_sum{%s} %s\n", name, labels, formatFloat(h.sum))
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, h.count)
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return strings.ReplaceAll(value, "\n", "")
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
