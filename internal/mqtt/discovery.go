//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/light/espnow_lamp_desk/light/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name                string   `json:"name"`
	UniqueID            string   `json:"unique_id"`
	StateTopic          string   `json:"state_topic"`
	CommandTopic        string   `json:"command_topic,omitempty"`
	AvailabilityTopic   string   `json:"availability_topic"`
	ValueTemplate       string   `json:"value_template,omitempty"`
	DeviceClass         string   `json:"device_class,omitempty"`
	EntityCategory      string   `json:"entity_category,omitempty"`
	PayloadOn           string   `json:"payload_on,omitempty"`
	PayloadOff          string   `json:"payload_off,omitempty"`
	Brightness          bool     `json:"brightness,omitempty"`
	BrightnessScale     int      `json:"brightness_scale,omitempty"`
	SupportedColorModes []string `json:"supported_color_modes,omitempty"`
	Schema              string   `json:"schema,omitempty"`
	Device              haDevice `json:"device"`
}

// topicName sanitizes a node name for use as a topic level.
func topicName(name string) string {
	name = strings.ToLower(name)
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
}

// nodeIdentifier returns the unique identifier for the HA device registry.
func nodeIdentifier(name string) string {
	return "espnow_" + topicName(name)
}

// buildDiscovery returns the HA entities for a lamp node: a dimmable light
// driven through the set topic and a diagnostic binary sensor for pairing.
func buildDiscovery(name, prefix string) []discoveryMsg {
	base := prefix + "/" + topicName(name)
	stateTopic := base + "/state"
	avail := base + "/availability"
	nodeID := nodeIdentifier(name)

	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: "Espressif",
		Model:        "ESP-NOW lamp",
		Name:         name,
	}

	light := haDiscovery{
		Name:                name,
		UniqueID:            nodeID + "_light",
		StateTopic:          stateTopic,
		CommandTopic:        base + "/set",
		AvailabilityTopic:   avail,
		Brightness:          true,
		BrightnessScale:     100,
		SupportedColorModes: []string{"brightness"},
		Schema:              "json",
		Device:              haDev,
	}
	paired := haDiscovery{
		Name:              name + " Paired",
		UniqueID:          nodeID + "_paired",
		StateTopic:        stateTopic,
		AvailabilityTopic: avail,
		ValueTemplate:     "{{ 'ON' if value_json.bound else 'OFF' }}",
		DeviceClass:       "connectivity",
		EntityCategory:    "diagnostic",
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Device:            haDev,
	}
	return []discoveryMsg{
		{Topic: fmt.Sprintf("homeassistant/light/%s/light/config", nodeID), Payload: mustJSON(light)},
		{Topic: fmt.Sprintf("homeassistant/binary_sensor/%s/paired/config", nodeID), Payload: mustJSON(paired)},
	}
}

// buildRemoveDiscovery generates empty retained messages removing the node from HA.
func buildRemoveDiscovery(name string) []discoveryMsg {
	nodeID := nodeIdentifier(name)
	return []discoveryMsg{
		{Topic: fmt.Sprintf("homeassistant/light/%s/light/config", nodeID)},
		{Topic: fmt.Sprintf("homeassistant/binary_sensor/%s/paired/config", nodeID)},
	}
}
