package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// CodesIssued 签发的验证码数量
	CodesIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kimochi_verification_codes_issued_total",
			Help: "Total number of verification codes issued",
		},
		[]string{"purpose", "channel"},
	)

	// CodeVerifications 验证码校验结果
	CodeVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kimochi_verification_code_checks_total",
			Help: "Total number of verification code checks",
		},
		[]string{"purpose", "result"},
	)

	// TokenRejections 被拒绝的 Token 及原因
	TokenRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kimochi_token_rejections_total",
			Help: "Total number of rejected bearer tokens",
		},
		[]string{"reason"},
	)

	// NotificationFailures 通知投递失败次数
	NotificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kimochi_notification_failures_total",
			Help: "Total number of notification delivery failures",
		},
		[]string{"channel"},
	)

	QRSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kimochi_qr_sessions_total",
			Help: "QR handoff session events",
		},
		[]string{"flow", "event"},
	)

	BindingConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kimochi_binding_conflicts_total",
			Help: "Total number of rejected identity bindings owned by another account",
		},
	)
)

func init() {
	prometheus.MustRegister(
		CodesIssued,
		CodeVerifications,
		TokenRejections,
		NotificationFailures,
		QRSessions,
		BindingConflicts,
	)
}
