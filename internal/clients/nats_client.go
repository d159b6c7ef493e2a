package clients

import (
	"encoding/json"
	"fmt"
	"time"

	"vault-backend/internal/config"
	"vault-backend/internal/metrics"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Event kinds published on the execution stream
const (
	EventDepositSettled  = "DepositSettled"
	EventWithdrawSettled = "WithdrawSettled"
	EventExecutionFailed = "ExecutionFailed"
)

// ExecutionEvent is the wire payload for one settled solver execution
type ExecutionEvent struct {
	ExecutionID string `json:"execution_id"`
	ChainID     int    `json:"chain_id"`
	Direction   string `json:"direction"`
	Strategy    string `json:"strategy"`
	Vault       string `json:"vault"`
	Owner       string `json:"owner"`
	Amount      string `json:"amount"`
	TxHash      string `json:"tx_hash,omitempty"`
	Error       string `json:"error,omitempty"`
	SettledAt   int64  `json:"settled_at"`
}

// NATSClient publishes execution events to JetStream
type NATSClient struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	streamName string
}

// NewNATSClient connects to NATS and ensures the execution event stream
func NewNATSClient(url, streamName string) (*NATSClient, error) {
	connectTimeout := 10 * time.Second
	if config.AppConfig != nil && config.AppConfig.NATS.Timeout > 0 {
		connectTimeout = time.Duration(config.AppConfig.NATS.Timeout) * time.Second
	}

	conn, err := nats.Connect(url,
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logrus.WithError(err).Warn("NATS disconnected")
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logrus.Info("NATS reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	client := &NATSClient{conn: conn, js: js, streamName: streamName}
	if err := client.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

// ensureStream creates the execution stream when it does not exist yet
func (c *NATSClient) ensureStream() error {
	if _, err := c.js.StreamInfo(c.streamName); err == nil {
		return nil
	}

	_, err := c.js.AddStream(&nats.StreamConfig{
		Name:      c.streamName,
		Subjects:  []string{"vault.*.solver.*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", c.streamName, err)
	}
	logrus.WithField("stream", c.streamName).Info("Created execution event stream")
	return nil
}

// PublishExecutionEvent publishes one settled execution on
// vault.<chainID>.solver.<kind>
func (c *NATSClient) PublishExecutionEvent(kind string, event *ExecutionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode execution event: %w", err)
	}

	subject := fmt.Sprintf("vault.%d.solver.%s", event.ChainID, kind)
	if _, err := c.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish execution event: %w", err)
	}

	metrics.NATSEventsPublished.WithLabelValues(kind).Inc()
	logrus.WithFields(logrus.Fields{
		"subject":      subject,
		"execution_id": event.ExecutionID,
	}).Debug("Published execution event")
	return nil
}

// Close shuts the connection down
func (c *NATSClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
