package monitor

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nanocal/nanodaq/acquire"
	"github.com/nanocal/nanodaq/experiment"
)

// Publisher is the part of an MQTT client used here
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes summaries to <Topic>/drain and the state, retained, to <Topic>/state
type MQTT struct {
	Client Publisher
	Topic  string

	// Timeout bounds the wait for a state publication
	Timeout time.Duration
}

// NewMQTT connects to broker, e.g. tcp://localhost:1883
func NewMQTT(broker, topic string) (*MQTT, error) {
	host, _ := os.Hostname()
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(fmt.Sprintf("nanodaq-%s-%d", host, os.Getpid())).
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Printf("monitor: connected to MQTT broker at %s", broker)
	return &MQTT{Client: client, Topic: topic, Timeout: time.Second}, nil
}

func (m *MQTT) publish(sub string, retained bool, msg Message) mqtt.Token {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("monitor: encoding %s message: %v", msg.Type, err)
		return nil
	}
	return m.Client.Publish(m.Topic+"/"+sub, 0, retained, payload)
}

// Drained publishes a summary of d without waiting for the broker
func (m *MQTT) Drained(d acquire.Drain) {
	m.publish(TypeDrain, false, drainMessage(d))
}

// StateChanged publishes the new state and waits for it to be sent
func (m *MQTT) StateChanged(s experiment.State) {
	token := m.publish(TypeState, true, stateMessage(s))
	if token == nil {
		return
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	if !token.WaitTimeout(timeout) {
		log.Printf("monitor: state %s not acknowledged within %v", s, timeout)
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("monitor: publishing state %s: %v", s, err)
	}
}

// Close disconnects from the broker
func (m *MQTT) Close() error {
	m.Client.Disconnect(250)
	return nil
}
