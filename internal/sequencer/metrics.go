package sequencer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var smsStored = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sms_messages_stored_total",
	Help: "Inbound SMS stored after deduplication.",
}, []string{"provider"})
