package gateway

import "fmt"

// Publisher abstracts the egress side of the broker session. The MQTT adapter
// implements it; tests substitute an in-memory recorder.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// ResponseRouter publishes backend responses and signed commands on the
// device-scoped egress topics. Delivery is at-least-once; duplicates on these
// paths are tolerable because responses are not replay-protected.
type ResponseRouter struct {
	pub Publisher
}

// NewResponseRouter wires a router over the given publisher.
func NewResponseRouter(pub Publisher) *ResponseRouter {
	return &ResponseRouter{pub: pub}
}

// Respond publishes body to device/<deviceID>/response.
func (r *ResponseRouter) Respond(deviceID string, body []byte) error {
	return r.pub.Publish(responseTopic(deviceID), body)
}

// Command publishes body to device/<deviceID>/command.
func (r *ResponseRouter) Command(deviceID string, body []byte) error {
	return r.pub.Publish(commandTopic(deviceID), body)
}

func responseTopic(deviceID string) string {
	return fmt.Sprintf("device/%s/response", deviceID)
}

func commandTopic(deviceID string) string {
	return fmt.Sprintf("device/%s/command", deviceID)
}
