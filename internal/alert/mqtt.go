package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTT publishes alerts as JSON messages to an MQTT broker, for operators
// who watch a dashboard or automation bus rather than a log stream.
type MQTT struct {
	broker   string
	topic    string
	clientID string
	qos      byte
}

func NewMQTT(broker, topic string) *MQTT {
	return &MQTT{
		broker:   broker,
		topic:    topic,
		clientID: "bill-herald",
		qos:      1,
	}
}

// Name returns the channel name for logging.
func (m *MQTT) Name() string { return "mqtt" }

// Send publishes the event to the configured topic. Each send uses a
// short-lived connection; alerts are rare enough that holding a session
// open is not worth the reconnect handling.
func (m *MQTT) Send(ctx context.Context, event Event) error {
	opts := mqtt.NewClientOptions().
		SetClientID(m.clientID).
		AddBroker(m.broker).
		SetConnectTimeout(10 * time.Second).
		SetWriteTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect timeout")
	}
	if tok.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", tok.Error())
	}
	defer client.Disconnect(250)

	payload := mqttPayload{
		Type:      string(event.Type),
		Message:   event.Message,
		NoticeNum: event.NoticeNum,
		Endpoints: event.Endpoints,
		Deleted:   event.Deleted,
		Error:     event.Error,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal mqtt payload: %w", err)
	}

	pub := client.Publish(m.topic, m.qos, false, body)
	if !pub.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt publish timeout")
	}
	if pub.Error() != nil {
		return fmt.Errorf("mqtt publish: %w", pub.Error())
	}
	return nil
}

type mqttPayload struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	NoticeNum int    `json:"notice_num,omitempty"`
	Endpoints int    `json:"endpoints,omitempty"`
	Deleted   int    `json:"deleted,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}
