package utils

import (
	"github.com/nats-io/nats.go"
)

// StreamConfigEqual compares the stream config fields this service
// manages. Server-populated fields are ignored so an unchanged config
// never triggers an update.
func StreamConfigEqual(current, desired nats.StreamConfig) bool {
	if current.Name != desired.Name ||
		current.Storage != desired.Storage ||
		current.Retention != desired.Retention ||
		current.MaxAge != desired.MaxAge {
		return false
	}
	return stringSlicesEqual(current.Subjects, desired.Subjects)
}

// ConsumerConfigEqual compares the consumer config fields this service
// manages.
func ConsumerConfigEqual(current, desired nats.ConsumerConfig) bool {
	if current.Durable != desired.Durable ||
		current.DeliverGroup != desired.DeliverGroup ||
		current.AckPolicy != desired.AckPolicy ||
		current.MaxDeliver != desired.MaxDeliver ||
		current.AckWait != desired.AckWait ||
		current.MaxAckPending != desired.MaxAckPending ||
		current.ReplayPolicy != desired.ReplayPolicy ||
		current.DeliverPolicy != desired.DeliverPolicy {
		return false
	}
	return stringSlicesEqual(current.FilterSubjects, desired.FilterSubjects)
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
