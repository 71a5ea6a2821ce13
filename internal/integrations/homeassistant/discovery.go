package homeassistant

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultDiscoveryPrefix is Home Assistant's default discovery prefix
	DefaultDiscoveryPrefix = "homeassistant"

	// ComponentSensor is the discovery component used for every entity
	ComponentSensor = "sensor"

	// NodeID groups our entities below the discovery prefix
	NodeID = "facecam"
)

// SensorConfig is the MQTT discovery payload of one sensor
type SensorConfig struct {
	Name                string  `json:"name"`
	UniqueID            string  `json:"unique_id"`
	StateTopic          string  `json:"state_topic"`
	Icon                string  `json:"icon,omitempty"`
	JSONAttributesTopic string  `json:"json_attributes_topic,omitempty"`
	ValueTemplate       string  `json:"value_template,omitempty"`
	AvailabilityTopic   string  `json:"availability_topic,omitempty"`
	PayloadAvailable    string  `json:"payload_available,omitempty"`
	PayloadNotAvailable string  `json:"payload_not_available,omitempty"`
	Device              *Device `json:"device,omitempty"`
}

// Device groups the sensors in Home Assistant
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// DiscoveryManager announces one sensor per enrolled label, one for unknown faces
// and one for the active camera source
type DiscoveryManager struct {
	client  MessagePublisher
	prefix  string
	version string
}

// NewDiscoveryManager creates a manager; an empty prefix uses DefaultDiscoveryPrefix
func NewDiscoveryManager(client MessagePublisher, prefix, version string) *DiscoveryManager {
	if prefix == "" {
		prefix = DefaultDiscoveryPrefix
	}
	return &DiscoveryManager{client: client, prefix: prefix, version: version}
}

func (dm *DiscoveryManager) device() *Device {
	return &Device{
		Identifiers:  []string{"esp32_facecam"},
		Name:         "ESP32 FaceCam",
		Manufacturer: "esp32-facecam",
		Model:        "Face recognition camera",
		SWVersion:    dm.version,
	}
}

// RegisterLabels publishes the discovery configuration for labels. Duplicate labels
// share one sensor. Failures are logged and the remaining sensors still registered.
func (dm *DiscoveryManager) RegisterLabels(labels []string) error {
	device := dm.device()
	var failed int

	seen := make(map[string]bool)
	for _, label := range labels {
		id := NormalizeLabel(label)
		if seen[id] {
			continue
		}
		seen[id] = true

		if err := dm.registerLabelSensor(label, id, device); err != nil {
			log.Errorf("Failed to register sensor for %s: %v", label, err)
			failed++
		}
	}

	if err := dm.registerUnknownSensor(device); err != nil {
		log.Errorf("Failed to register sensor for unknown faces: %v", err)
		failed++
	}
	if err := dm.registerSourceSensor(device); err != nil {
		log.Errorf("Failed to register source sensor: %v", err)
		failed++
	}

	if failed > 0 {
		return fmt.Errorf("%d discovery configurations could not be published", failed)
	}
	log.Infof("Registered %d Home Assistant face sensors", len(seen))
	return nil
}

func (dm *DiscoveryManager) registerLabelSensor(label, id string, device *Device) error {
	matches := dm.client.Topic("matches", id)
	return dm.publish(id, SensorConfig{
		Name:                fmt.Sprintf("FaceCam %s", label),
		UniqueID:            fmt.Sprintf("facecam_%s", id),
		StateTopic:          matches,
		JSONAttributesTopic: matches,
		ValueTemplate:       "{{ value_json.source }}",
		Icon:                "mdi:face-recognition",
		Device:              device,
	})
}

func (dm *DiscoveryManager) registerUnknownSensor(device *Device) error {
	unknown := dm.client.Topic("unknown")
	return dm.publish("unknown", SensorConfig{
		Name:                "FaceCam Unknown",
		UniqueID:            "facecam_unknown",
		StateTopic:          unknown,
		JSONAttributesTopic: unknown,
		ValueTemplate:       "{{ value_json.count }}",
		Icon:                "mdi:account-question",
		Device:              device,
	})
}

func (dm *DiscoveryManager) registerSourceSensor(device *Device) error {
	source := dm.client.Topic("source")
	return dm.publish("source", SensorConfig{
		Name:                "FaceCam Source",
		UniqueID:            "facecam_source",
		StateTopic:          source,
		JSONAttributesTopic: source,
		ValueTemplate:       "{{ value_json.state }}",
		Icon:                "mdi:cctv",
		Device:              device,
	})
}

func (dm *DiscoveryManager) publish(objectID string, cfg SensorConfig) error {
	cfg.AvailabilityTopic = dm.client.Topic("status")
	cfg.PayloadAvailable = "online"
	cfg.PayloadNotAvailable = "offline"

	topic := fmt.Sprintf("%s/%s/%s/%s/config", dm.prefix, ComponentSensor, NodeID, objectID)
	if err := dm.client.PublishRetain(topic, cfg); err != nil {
		return fmt.Errorf("failed to publish discovery configuration: %w", err)
	}
	return nil
}
