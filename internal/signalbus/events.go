package signalbus

import "github.com/squadcore/core/observability"

const (
	EventMessageSent  observability.EventType = "signalbus.message.sent"
	EventMessageAcked observability.EventType = "signalbus.message.acked"
)
