package main

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ryansname/battmon/src/battery"
	"github.com/ryansname/battmon/src/ina260"
)

// MQTTMessage represents an outgoing MQTT message
type MQTTMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MQTTSender wraps a channel for sending MQTT messages about one battery
type MQTTSender struct {
	ch       chan<- MQTTMessage
	name     string
	deviceID string
}

// NewMQTTSender creates a new MQTTSender wrapping the given channel
func NewMQTTSender(ch chan<- MQTTMessage, batteryName string) *MQTTSender {
	return &MQTTSender{
		ch:       ch,
		name:     batteryName,
		deviceID: strings.ReplaceAll(strings.ToLower(batteryName), " ", "_"),
	}
}

// Send sends a raw MQTTMessage
func (s *MQTTSender) Send(msg MQTTMessage) {
	s.ch <- msg
}

// StateTopic is where every reading is published
func (s *MQTTSender) StateTopic() string {
	return "homeassistant/sensor/" + s.deviceID + "/state"
}

// WarningTopic is where broadcast warnings are published
func (s *MQTTSender) WarningTopic() string {
	return "battmon/" + s.deviceID + "/warning"
}

// CreateBatteryEntity creates a Home Assistant battery entity via MQTT discovery
func (s *MQTTSender) CreateBatteryEntity(
	entityName, entityClass, entityMeasure, jsonKey string,
	displayPrecision int,
) error {
	type haDeviceConfig struct {
		Identifiers  []string `json:"identifiers"`
		Name         string   `json:"name"`
		Manufacturer string   `json:"manufacturer,omitempty"`
		Model        string   `json:"model,omitempty"`
	}

	type haEntityConfig struct {
		Name             string         `json:"name,omitempty"`
		DeviceClass      string         `json:"device_class"`
		StateTopic       string         `json:"state_topic"`
		UnitOfMeasure    string         `json:"unit_of_measurement,omitempty"`
		ValueTemplate    string         `json:"value_template"`
		UniqueId         string         `json:"unique_id"`
		ExpireAfter      uint           `json:"expire_after,omitempty"`
		StateClass       string         `json:"state_class,omitempty"`
		DisplayPrecision int            `json:"suggested_display_precision,omitempty"`
		Device           haDeviceConfig `json:"device"`
	}

	config := haEntityConfig{
		Name:             entityName,
		DeviceClass:      entityClass,
		StateTopic:       s.StateTopic(),
		UnitOfMeasure:    entityMeasure,
		ValueTemplate:    "{{ value_json." + jsonKey + "}}",
		UniqueId:         s.deviceID + "_" + jsonKey,
		ExpireAfter:      60 * 5, // 5 minutes
		StateClass:       "measurement",
		DisplayPrecision: displayPrecision,
		Device: haDeviceConfig{
			Identifiers:  []string{s.deviceID},
			Name:         s.name,
			Manufacturer: "battmon",
			Model:        "INA260",
		},
	}

	configTopic := "homeassistant/sensor/" + s.deviceID + "_" + jsonKey + "/config"

	payload, err := json.Marshal(config)
	if err != nil {
		return err
	}

	s.Send(MQTTMessage{
		Topic:   configTopic,
		Payload: payload,
		QoS:     2,
		Retain:  true,
	})

	return nil
}

// CreateEntities announces the voltage, charge, current and power sensors
func (s *MQTTSender) CreateEntities() error {
	if err := s.CreateBatteryEntity("Voltage", "voltage", "V", "voltage", 3); err != nil {
		return err
	}
	if err := s.CreateBatteryEntity("Charge", "battery", "%", "percentage", 1); err != nil {
		return err
	}
	if err := s.CreateBatteryEntity("Current", "current", "A", "current", 3); err != nil {
		return err
	}
	return s.CreateBatteryEntity("Power", "power", "W", "power", 2)
}

// PublishState sends one reading to the state topic.
// Current keeps the sign the sensor reports.
func (s *MQTTSender) PublishState(reading ina260.Reading, result battery.Result) error {
	payload, err := json.Marshal(map[string]any{
		"voltage":    result.Voltage,
		"percentage": result.Percentage * 100,
		"band":       result.Band.String(),
		"current":    reading.Amps,
		"power":      reading.Watts,
	})
	if err != nil {
		return err
	}

	s.Send(MQTTMessage{
		Topic:   s.StateTopic(),
		Payload: payload,
		QoS:     0,
		Retain:  false,
	})
	return nil
}

// Broadcast publishes a warning message
func (s *MQTTSender) Broadcast(ctx context.Context, message string) error {
	msg := MQTTMessage{
		Topic:   s.WarningTopic(),
		Payload: []byte(message),
		QoS:     1,
		Retain:  false,
	}

	select {
	case s.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mqttSenderWorker handles outgoing MQTT messages, queuing them until a client connects
func mqttSenderWorker(
	ctx context.Context,
	outgoingChan <-chan MQTTMessage,
	clientChan <-chan mqtt.Client,
) {
	log.Println("MQTT sender worker started")

	var client mqtt.Client
	var messageQueue []MQTTMessage

	for {
		select {
		case newClient := <-clientChan:
			log.Println("MQTT sender worker received new client")
			client = newClient

			// Process any queued messages now that we have a client
			if client != nil && client.IsConnected() {
				queuedCount := len(messageQueue)
				for _, msg := range messageQueue {
					publish(client, msg)
				}
				messageQueue = nil
				if queuedCount > 0 {
					log.Printf("MQTT sender worker processed %d queued messages\n", queuedCount)
				}
			}

		case msg := <-outgoingChan:
			if client != nil && client.IsConnected() {
				publish(client, msg)
			} else {
				messageQueue = append(messageQueue, msg)
				log.Printf("MQTT sender worker queued message (total queued: %d)\n", len(messageQueue))
			}

		case <-ctx.Done():
			log.Println("MQTT sender worker stopped")
			return
		}
	}
}

func publish(client mqtt.Client, msg MQTTMessage) {
	token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
	token.Wait()
	if token.Error() != nil {
		log.Printf("Failed to publish to %s: %v\n", msg.Topic, token.Error())
	}
}
