package mqttclient

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Client publishes transcription lifecycle events to an MQTT broker.
type Client struct {
	conn        mqtt.Client
	topicPrefix string
	connected   atomic.Bool
	published   atomic.Int64
	log         zerolog.Logger
}

type Options struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	c := &Client{
		topicPrefix: strings.Trim(opts.TopicPrefix, "/"),
		log:         opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) onConnect(_ mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("prefix", c.topicPrefix).Msg("mqtt connected")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// Topic returns the topic for an item: {prefix}/transcripts/{sourceId}/{path}.
func (c *Client) Topic(sourceID, relativePath string) string {
	return Topic(c.topicPrefix, sourceID, relativePath)
}

// Topic builds a transcript topic. MQTT wildcards in the path are replaced
// so a file name can never subscribe-match more than itself.
func Topic(prefix, sourceID, relativePath string) string {
	clean := strings.NewReplacer("+", "_", "#", "_").Replace(relativePath)
	clean = strings.Trim(clean, "/")
	parts := []string{"transcripts", sourceID, clean}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

// Publish sends payload as JSON without waiting for the broker. Terminal
// states are retained so late subscribers see the final outcome.
func (c *Client) Publish(sourceID, relativePath string, retained bool, payload any) {
	if !c.connected.Load() {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn().Err(err).Msg("mqtt payload encode failed")
		return
	}
	topic := c.Topic(sourceID, relativePath)
	token := c.conn.Publish(topic, 1, retained, data)
	go func() {
		if !token.WaitTimeout(10 * time.Second) {
			c.log.Warn().Str("topic", topic).Msg("mqtt publish timed out")
			return
		}
		if err := token.Error(); err != nil {
			c.log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
			return
		}
		c.published.Add(1)
	}()
}

// PublishedCount returns the number of publishes handed to the broker.
func (c *Client) PublishedCount() int64 {
	return c.published.Load()
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	c.conn.Disconnect(1000)
}
