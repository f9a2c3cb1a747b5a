package live

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Domenick1991/signupslots/config"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const publishTimeout = 2 * time.Second

// Change is pushed to open registration pages so they re-fetch availability.
type Change struct {
	FormID uuid.UUID `json:"form_id"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Publisher sends availability pings over MQTT on forms/<id>/availability.
type Publisher struct {
	client mqtt.Client
	qos    byte
}

var connectHandler mqtt.OnConnectHandler = func(client mqtt.Client) {
	log.Info().Msg("connected to MQTT broker")
}

var connectLostHandler mqtt.ConnectionLostHandler = func(client mqtt.Client, err error) {
	log.Warn().Err(err).Msg("MQTT connection lost")
}

func Connect(cfg config.MQTTConfig) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.OnConnect = connectHandler
	opts.OnConnectionLost = connectLostHandler

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return NewPublisher(client, cfg.QoS), nil
}

func NewPublisher(client mqtt.Client, qos byte) *Publisher {
	return &Publisher{client: client, qos: qos}
}

func Topic(formID uuid.UUID) string {
	return fmt.Sprintf("forms/%s/availability", formID)
}

func (p *Publisher) AvailabilityChanged(formID uuid.UUID, reason string) error {
	payload, err := json.Marshal(Change{FormID: formID, Reason: reason, At: time.Now().UTC()})
	if err != nil {
		return err
	}

	token := p.client.Publish(Topic(formID), p.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", Topic(formID))
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", Topic(formID), err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p != nil && p.client != nil {
		p.client.Disconnect(250)
	}
}
