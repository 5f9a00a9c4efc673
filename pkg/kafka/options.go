package kafka

import "github.com/ava-labs/avalanche-msgbus/pkg/msgbus"

// ProducerOptions are per-call settings for Producer.Send. The zero value
// sends to the producer's default topic without extra headers.
//
// Builder methods return a modified copy and never change the receiver.
type ProducerOptions struct {
	topicOverride     string
	hasTopicOverride  bool
	additionalHeaders msgbus.RawHeaders
}

// NewProducerOptions returns empty options.
func NewProducerOptions() ProducerOptions {
	return ProducerOptions{}
}

// OverrideTopic sends to topic instead of the producer's default topic.
func (o ProducerOptions) OverrideTopic(topic string) ProducerOptions {
	o.topicOverride = topic
	o.hasTopicOverride = true
	return o
}

// AddHeader adds a header that is merged over the headers passed to Send.
// Adding the same key twice keeps the last value.
func (o ProducerOptions) AddHeader(key, value string) ProducerOptions {
	headers := o.additionalHeaders.Clone()
	headers[key] = value
	o.additionalHeaders = headers
	return o
}

// TopicOverride returns the override topic, if one was set.
func (o ProducerOptions) TopicOverride() (string, bool) {
	return o.topicOverride, o.hasTopicOverride
}

// AdditionalHeaders returns a copy of the headers added with AddHeader.
func (o ProducerOptions) AdditionalHeaders() msgbus.RawHeaders {
	return o.additionalHeaders.Clone()
}
