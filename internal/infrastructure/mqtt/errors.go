package mqtt

import "errors"

// Sentinels returned by Client. Match them with errors.Is; most are
// wrapped with the broker's own error or the timeout that expired.
var (
	// ErrNotConnected means the broker link is down, either before the
	// first connect succeeded or after Close.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrConnectionFailed wraps the reason Connect gave up.
	ErrConnectionFailed = errors.New("mqtt: connect failed")

	// ErrPublishFailed covers oversized payloads, broker rejections and
	// publish timeouts.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed covers nil handlers, broker rejections and
	// subscribe timeouts.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when the broker does not confirm
	// dropping the command subscription.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS rejects a QoS outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: qos must be 0, 1 or 2")

	// ErrInvalidTopic rejects an empty topic.
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
