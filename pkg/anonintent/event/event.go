// Package event defines the IntentEvent record, the closed set of event
// names, and the privacy rules every event passes through before it is
// queued: PII property removal and location precision reduction.
package event

import (
	"encoding/json"
	"strings"
	"time"
)

// Name identifies what kind of behavior an event records.
type Name string

// Known event names. Anything else is recorded as NameCustom with the
// caller's name preserved in IntentEvent.CustomName.
const (
	NamePageView       Name = "page_view"
	NameScreenView     Name = "screen_view"
	NameClick          Name = "click"
	NameTapToSave      Name = "tap_to_save"
	NameScroll         Name = "scroll"
	NameSearch         Name = "search"
	NameFormStart      Name = "form_start"
	NameFormComplete   Name = "form_complete"
	NameFormAbandon    Name = "form_abandon"
	NameContentView    Name = "content_view"
	NameContentSave    Name = "content_save"
	NameContentShare   Name = "content_share"
	NamePurchaseIntent Name = "purchase_intent"
	NameBrowseIntent   Name = "browse_intent"
	NameCompareIntent  Name = "compare_intent"
	NameExitIntent     Name = "exit_intent"
	NameSessionStart   Name = "session_start"
	NameSessionEnd     Name = "session_end"
	NameAppForeground  Name = "app_foreground"
	NameAppBackground  Name = "app_background"

	// NameCustom is the escape value for caller-defined names.
	NameCustom Name = "custom"
)

var knownNames = map[Name]struct{}{
	NamePageView: {}, NameScreenView: {}, NameClick: {}, NameTapToSave: {},
	NameScroll: {}, NameSearch: {}, NameFormStart: {}, NameFormComplete: {},
	NameFormAbandon: {}, NameContentView: {}, NameContentSave: {},
	NameContentShare: {}, NamePurchaseIntent: {}, NameBrowseIntent: {},
	NameCompareIntent: {}, NameExitIntent: {}, NameSessionStart: {},
	NameSessionEnd: {}, NameAppForeground: {}, NameAppBackground: {},
}

// Known reports whether n is one of the predefined names (NameCustom excluded).
func (n Name) Known() bool {
	_, ok := knownNames[n]
	return ok
}

// ParseName maps a caller-supplied name onto the closed enumeration.
// Unknown names return NameCustom and the trimmed original as custom.
func ParseName(s string) (Name, string) {
	trimmed := strings.TrimSpace(s)
	n := Name(strings.ToLower(trimmed))
	if n.Known() {
		return n, ""
	}
	return NameCustom, trimmed
}

// Environment is the deployment stage the host application runs in.
type Environment string

// Recognized environments.
const (
	EnvProduction  Environment = "production"
	EnvStaging     Environment = "staging"
	EnvDevelopment Environment = "development"
)

// Valid reports whether e is a recognized environment.
func (e Environment) Valid() bool {
	switch e {
	case EnvProduction, EnvStaging, EnvDevelopment:
		return true
	}
	return false
}

// Provenance records which build of which integration produced an event.
type Provenance struct {
	Platform    string
	Environment Environment
	SDKVersion  string
}

// DeviceMeta is coarse, non-identifying information about the host device.
// It never carries hardware identifiers, hostnames or user names.
type DeviceMeta struct {
	OS         string `json:"os,omitempty"`
	OSVersion  string `json:"osVersion,omitempty"`
	Arch       string `json:"arch,omitempty"`
	Model      string `json:"model,omitempty"`
	CPUCount   int    `json:"cpuCount,omitempty"`
	Locale     string `json:"locale,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	AppVersion string `json:"appVersion,omitempty"`
	Runtime    string `json:"runtime,omitempty"`
}

// IntentEvent is the unit of telemetry. Once queued it is never modified.
type IntentEvent struct {
	EventID     string         `json:"eventId"`
	EventName   Name           `json:"eventName"`
	CustomName  string         `json:"customName,omitempty"`
	AnonID      string         `json:"anonId"`
	SessionID   string         `json:"sessionId"`
	Timestamp   time.Time      `json:"timestamp"`
	Properties  map[string]any `json:"properties,omitempty"`
	DeviceMeta  *DeviceMeta    `json:"deviceMeta,omitempty"`
	Geo         *Geo           `json:"geo,omitempty"`
	Platform    string         `json:"platform"`
	Environment Environment    `json:"environment"`
	SDKVersion  string         `json:"sdkVersion"`
}

// Encode serializes an event to JSON.
func Encode(e *IntentEvent) ([]byte, error) {
	return json.Marshal(e)
}

// Decode deserializes an event from JSON.
func Decode(data []byte) (*IntentEvent, error) {
	var e IntentEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
