package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ericogr/serial-env-uploader/pkg/config"
	"github.com/ericogr/serial-env-uploader/pkg/sensor"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// recordingClient implements only Publish; other methods are never called.
type recordingClient struct {
	mqtt.Client
	msgs []published
}

func (c *recordingClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.msgs = append(c.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{}
}

func TestPublishReading(t *testing.T) {
	client := &recordingClient{}
	m := &MQTTOutput{client: client, stateTopic: "greenhouse/env"}

	if err := m.Publish(sensor.Reading{Temperature: 23.5, Humidity: 60.2, Timestamp: 1700000000}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(client.msgs) != 1 {
		t.Fatalf("messages: %d", len(client.msgs))
	}
	msg := client.msgs[0]
	if msg.topic != "greenhouse/env" || msg.retained {
		t.Fatalf("topic=%q retained=%v", msg.topic, msg.retained)
	}
	want := `{"temperature":23.5,"humidity":60.2,"timestamp":1700000000}`
	if string(msg.payload) != want {
		t.Fatalf("payload: got %s want %s", msg.payload, want)
	}
}

func TestDiscoveryPayload(t *testing.T) {
	cfg := config.MQTTConfig{ClientID: "shed", StateTopic: "shed/env"}
	e := entities[1]
	uid := discoveryUniqueID(cfg, e)
	if uid != "shed_humidity" {
		t.Fatalf("unique id: %q", uid)
	}
	if name := discoveryName(cfg, e); name != "shed humidity" {
		t.Fatalf("name: %q", name)
	}
	p := discoveryPayload(discoveryName(cfg, e), cfg.StateTopic, uid, e)
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got[keyValueTemplate] != "{{ value_json.humidity }}" || got[keyUnitOfMeasurement] != "%" || got[keyDeviceClass] != "humidity" {
		t.Fatalf("payload: %v", got)
	}
	if got[keyStateTopic] != "shed/env" || got[keyUniqueID] != "shed_humidity" {
		t.Fatalf("payload: %v", got)
	}
}

func TestPublishJSONRetained(t *testing.T) {
	client := &recordingClient{}
	if err := publishJSON(client, "homeassistant/sensor/x/config", true, map[string]interface{}{"a": 1}); err != nil {
		t.Fatal(err)
	}
	if len(client.msgs) != 1 || !client.msgs[0].retained || string(client.msgs[0].payload) != `{"a":1}` {
		t.Fatalf("messages: %+v", client.msgs)
	}
}
