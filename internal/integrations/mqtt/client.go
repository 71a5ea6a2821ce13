// Package mqtt connects to the broker and publishes the application's messages.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"esp32-facecam/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Availability payloads published on the status topic
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

const publishTimeout = 5 * time.Second

// Client is the MQTT client publishing recognition events
type Client struct {
	config config.MQTTConfig

	// newClient builds the paho client; replaced in tests
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu        sync.Mutex
	client    mqtt.Client
	onConnect []func()
}

// NewClient creates an unconnected client
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{
		config:    cfg,
		newClient: mqtt.NewClient,
	}
}

// OnConnect registers a hook run after every (re)connect
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = append(c.onConnect, fn)
	c.mu.Unlock()
}

// Topic joins parts below the configured base topic
func (c *Client) Topic(parts ...string) string {
	base := strings.TrimSuffix(c.config.Topic, "/")
	if base == "" {
		base = "facecam"
	}
	return strings.Join(append([]string{base}, parts...), "/")
}

// Start connects to the broker. It is a no-op when MQTT is disabled.
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()

	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	// the broker marks us offline when the connection drops
	opts.SetWill(c.Topic("status"), PayloadOffline, 1, true)

	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.connectionLostHandler)

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	client := c.newClient(opts)
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Errorf("Failed to connect to MQTT broker: %v", token.Error())
		return token.Error()
	}

	log.Info("MQTT client connected successfully")
	return nil
}

// Stop publishes the offline state and disconnects
func (c *Client) Stop() {
	if !c.IsConnected() {
		return
	}
	if err := c.PublishRetain(c.Topic("status"), PayloadOffline); err != nil {
		log.Warnf("Failed to publish offline state: %v", err)
	}

	log.Info("Disconnecting MQTT client...")
	c.current().Disconnect(250)
	log.Info("MQTT client disconnected")
}

// IsConnected reports whether the broker connection is up
func (c *Client) IsConnected() bool {
	client := c.current()
	return client != nil && client.IsConnected()
}

func (c *Client) current() mqtt.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func (c *Client) onConnectHandler(client mqtt.Client) {
	log.Infof("Connected to MQTT broker at %s:%d", c.config.Broker, c.config.Port)

	token := client.Publish(c.Topic("status"), 1, true, PayloadOnline)
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		log.Errorf("Failed to publish online state: %v", token.Error())
	}

	c.mu.Lock()
	hooks := append([]func(){}, c.onConnect...)
	c.mu.Unlock()

	// paho calls this handler on its own goroutine; hooks may publish
	for _, hook := range hooks {
		go hook()
	}
}

func (c *Client) connectionLostHandler(client mqtt.Client, err error) {
	log.Errorf("MQTT connection lost: %v", err)
}

// PublishMessage publishes payload to topic. Strings and byte slices are sent as is,
// scalars formatted and everything else marshalled to JSON.
func (c *Client) PublishMessage(topic string, payload interface{}, retain bool) error {
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	var payloadBytes []byte
	var err error

	switch p := payload.(type) {
	case string:
		payloadBytes = []byte(p)
	case []byte:
		payloadBytes = p
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		payloadBytes = []byte(fmt.Sprintf("%v", p))
	default:
		payloadBytes, err = json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal payload to JSON: %w", err)
		}
	}

	token := c.current().Publish(topic, 1, retain, payloadBytes)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, err)
	}

	log.Debugf("Published message to topic: %s", topic)
	return nil
}

// PublishRetain publishes with the retain flag
func (c *Client) PublishRetain(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, true)
}

// Publish publishes without the retain flag
func (c *Client) Publish(topic string, payload interface{}) error {
	return c.PublishMessage(topic, payload, false)
}
