package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcClientHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_client_handled_total",
			Help: "Total number of gRPC calls made to external collaborators.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_sessions",
			Help: "Number of connected event stream sessions.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket lifecycle events and inbound frames.",
		},
		[]string{"event"},
	)
	routerDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_router_deliveries_total",
			Help: "Events enqueued to sessions, by event type.",
		},
		[]string{"type"},
	)
	routerDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_router_drops_total",
			Help: "Events dropped by the router, by event type and reason.",
		},
		[]string{"type", "reason"},
	)
	sessionDisconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_session_disconnects_total",
			Help: "Closed sessions by reason.",
		},
		[]string{"reason"},
	)
	expiriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ttl_expiries_total",
			Help: "Presence and typing states cleared by their TTL.",
		},
		[]string{"kind"},
	)
	publishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_event_publish_errors_total",
			Help: "Total number of broker publish errors.",
		},
		[]string{"broker"},
	)
	friendshipRepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_friendship_repairs_total",
			Help: "One-sided friendship rows repaired by the reconciler.",
		},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcClientHandledTotal,
		wsActiveSessions,
		wsEventsTotal,
		routerDeliveriesTotal,
		routerDropsTotal,
		sessionDisconnectsTotal,
		expiriesTotal,
		publishErrorsTotal,
		friendshipRepairsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// GRPCClientMetricsUnaryInterceptor counts outbound calls by result code.
func GRPCClientMetricsUnaryInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		err := invoker(ctx, method, req, reply, cc, opts...)
		service, name := splitFullMethod(method)
		grpcClientHandledTotal.WithLabelValues(service, name, status.Code(err).String()).Inc()
		return err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive() {
	wsActiveSessions.Inc()
}

func DecWSActive() {
	wsActiveSessions.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncDelivery(eventType string) {
	routerDeliveriesTotal.WithLabelValues(eventType).Inc()
}

func IncDrop(eventType, reason string) {
	routerDropsTotal.WithLabelValues(eventType, reason).Inc()
}

func IncDisconnect(reason string) {
	sessionDisconnectsTotal.WithLabelValues(reason).Inc()
}

func IncExpiry(kind string) {
	expiriesTotal.WithLabelValues(kind).Inc()
}

func IncPublishError(broker string) {
	publishErrorsTotal.WithLabelValues(broker).Inc()
}

func IncFriendshipRepair(action string) {
	friendshipRepairsTotal.WithLabelValues(action).Inc()
}
