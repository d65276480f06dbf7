package websocket

import "github.com/prometheus/client_golang/prometheus"

var (
	wsStudents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "campus_chat_ws_student_connections",
			Help: "Current number of registered student websocket connections.",
		},
	)
	wsOperators = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "campus_chat_ws_operator_connections",
			Help: "Current number of registered operator websocket connections.",
		},
	)
	wsFramesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campus_chat_ws_frames_delivered_total",
			Help: "Total websocket frames handed to client send queues.",
		},
	)
	wsClaimsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "campus_chat_ws_claims_rejected_total",
			Help: "Total operator claim attempts rejected by arbitration.",
		},
	)
)

func init() {
	prometheus.MustRegister(wsStudents, wsOperators, wsFramesDelivered, wsClaimsRejected)
}
