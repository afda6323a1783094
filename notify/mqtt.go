// The notify package announces finished post-processing jobs on an MQTT
// topic as JSON, so that other systems can pick up new results.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/goblimey/go-rtkpost/rtkpost"
)

// publishTimeout limits the wait for the broker to acknowledge a message.
const publishTimeout = 10 * time.Second

// Publisher publishes job records to an MQTT topic.
type Publisher struct {
	client mqtt.Client
	topic  string
	logger *slog.Logger
}

// Connect connects to the broker, for example "tcp://localhost:1883", and
// returns a Publisher for the topic.
func Connect(broker, clientID, topic string, logger *slog.Logger) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(publishTimeout)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, token.Error())
	}
	return NewPublisher(client, topic, logger), nil
}

// NewPublisher creates a Publisher using a connected client.
func NewPublisher(client mqtt.Client, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{client: client, topic: topic, logger: logger}
}

// JobFinished publishes the record of a finished job.  The message goes to
// the topic followed by the job state, for example "rtkpost/jobs/Completed".
func (p *Publisher) JobFinished(ctx context.Context, run rtkpost.Run) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return err
	}
	topic := p.topic + "/" + run.State
	token := p.client.Publish(topic, 1, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return errors.New("mqtt publish timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	p.logger.Debug("published job", "topic", topic, "job", run.JobID)
	return nil
}

// Close disconnects from the broker, allowing a short time for work in
// progress.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
