package shape

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// JobEvent is published after each completed toolkit operation.
type JobEvent struct {
	Tool      string `json:"tool"`
	Dataset   string `json:"dataset"`
	Features  int    `json:"features"`
	Removed   int    `json:"removed"`
	Detail    string `json:"detail"`
	Timestamp int64  `json:"timestamp"`
}

// Notifier publishes job events to MQTT. A nil *Notifier is valid and
// publishes nothing, so callers can ignore whether MQTT is configured.
type Notifier struct {
	client mqtt.Client
	prefix string
	qos    byte
	retain bool
}

// NewNotifier connects to the broker from the MQTT_BROKER env var or the
// config. Returns nil when no broker is configured.
func NewNotifier(cfg *Config) *Notifier {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && cfg != nil && cfg.MQTT.Broker != "" {
		broker = cfg.MQTT.Broker
	}
	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && cfg != nil && cfg.MQTT.ClientID != "" {
		clientID = cfg.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "shapekit"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && cfg != nil && cfg.MQTT.Username != "" {
		username = cfg.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && cfg != nil && cfg.MQTT.Password != "" {
			password = cfg.MQTT.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)

	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" && cfg != nil && cfg.MQTT.Prefix != "" {
		prefix = cfg.MQTT.Prefix
	}
	if prefix == "" {
		prefix = "shapekit"
	}

	n := &Notifier{
		client: mqtt.NewClient(opts),
		prefix: prefix,
		qos:    0,    // fire and forget for job events
		retain: true, // retain the latest event per topic
	}
	go n.connectWithRetry()
	return n
}

// NewNotifierWithClient wires a notifier to an existing MQTT client.
// Used for testing with mock clients.
func NewNotifierWithClient(client mqtt.Client, prefix string) *Notifier {
	return &Notifier{
		client: client,
		prefix: prefix,
		retain: true,
	}
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (n *Notifier) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := n.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// IsConnected returns true if the MQTT client is connected.
func (n *Notifier) IsConnected() bool {
	return n != nil && n.client != nil && n.client.IsConnected()
}

// PublishJob publishes the event to {prefix}/jobs and {prefix}/jobs/{tool}.
// The event's Timestamp is filled in when zero.
func (n *Notifier) PublishJob(ev *JobEvent) error {
	if n == nil {
		return nil
	}
	if n.client == nil || !n.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling job event: %w", err)
	}

	topics := []string{
		fmt.Sprintf("%s/jobs", n.prefix),
		fmt.Sprintf("%s/jobs/%s", n.prefix, ev.Tool),
	}
	for _, topic := range topics {
		token := n.client.Publish(topic, n.qos, n.retain, payload)
		if token.WaitTimeout(2*time.Second) && token.Error() != nil {
			return fmt.Errorf("publishing to %s: %w", topic, token.Error())
		}
	}

	log.Printf("Published job event for %s (%s)", ev.Tool, ev.Dataset)
	return nil
}

// Disconnect gracefully closes the MQTT connection.
func (n *Notifier) Disconnect() {
	if n == nil || n.client == nil {
		return
	}
	if n.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		n.client.Disconnect(250) // 250ms quiesce time
	}
}
