package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/serial-env-uploader/pkg/config"
	"github.com/ericogr/serial-env-uploader/pkg/output"
	"github.com/ericogr/serial-env-uploader/pkg/sensor"
)

const (
	// defaults
	DefaultClientID   = "serial-env-uploader"
	DefaultStateTopic = "environment/state"
	discoveryTopicFmt = "%s/sensor/%s/config"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyUnitOfMeasurement   = "unit_of_measurement"
	keyDeviceClass         = "device_class"
	keyStateClass          = "state_class"
	keyValueTemplate       = "value_template"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyUniqueID            = "unique_id"
	stateClassMeasurement  = "measurement"
)

// entity describes one Home Assistant sensor derived from a reading field.
type entity struct {
	field       string
	unit        string
	deviceClass string
}

var entities = []entity{
	{field: "temperature", unit: "°C", deviceClass: "temperature"},
	{field: "humidity", unit: "%", deviceClass: "humidity"},
}

type MQTTOutput struct {
	client     mqtt.Client
	stateTopic string
}

func NewMQTT(cfg config.MQTTConfig, log *slog.Logger) (output.Output, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.StateTopic == "" {
		cfg.StateTopic = DefaultStateTopic
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	m := &MQTTOutput{client: client, stateTopic: cfg.StateTopic}

	// Home Assistant discovery, one retained config per entity
	if cfg.DiscoveryPrefix != "" {
		for _, e := range entities {
			uid := discoveryUniqueID(cfg, e)
			topic := fmt.Sprintf(discoveryTopicFmt, strings.TrimSuffix(cfg.DiscoveryPrefix, "/"), uid)
			payload := discoveryPayload(discoveryName(cfg, e), cfg.StateTopic, uid, e)
			if err := publishJSON(client, topic, true, payload); err != nil {
				log.Warn("mqtt discovery publish failed", "topic", topic, "error", err)
			}
		}
	}

	return m, nil
}

func (m *MQTTOutput) Publish(r sensor.Reading) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	token := m.client.Publish(m.stateTopic, 0, false, b)
	token.Wait()
	return token.Error()
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

// helper: human-friendly discovery name per entity
func discoveryName(cfg config.MQTTConfig, e entity) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = cfg.ClientID
	}
	return fmt.Sprintf("%s %s", name, e.field)
}

// helper: unique id per entity
func discoveryUniqueID(cfg config.MQTTConfig, e entity) string {
	return fmt.Sprintf("%s_%s", cfg.ClientID, e.field)
}

// helper: discovery payload for one entity reading from the shared state topic
func discoveryPayload(name, stateTopic, uniqueID string, e entity) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyUnitOfMeasurement:   e.unit,
		keyDeviceClass:         e.deviceClass,
		keyStateClass:          stateClassMeasurement,
		keyValueTemplate:       fmt.Sprintf("{{ value_json.%s }}", e.field),
		keyJSONAttributesTopic: stateTopic,
	}
	if uniqueID != "" {
		payload[keyUniqueID] = uniqueID
	}
	return payload
}

// helper: marshal and publish JSON payload
func publishJSON(client mqtt.Client, topic string, retained bool, payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	token := client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
