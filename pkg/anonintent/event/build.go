package event

import (
	"time"

	"github.com/google/uuid"

	aierrors "github.com/randalmurphal/anonintent/pkg/anonintent/errors"
)

// Stamp carries everything Build attaches to an event besides the caller's
// name and properties.
type Stamp struct {
	AnonID     string
	SessionID  string
	Provenance Provenance
	Device     *DeviceMeta
	Geo        *Geo
}

// Build creates a sanitized event captured at now.
//
// The returned slice lists property paths dropped because they could not
// be encoded. An error is returned only when the event as a whole cannot be
// serialized, in which case it must not be queued.
func Build(name Name, props map[string]any, stamp Stamp, now time.Time) (*IntentEvent, []string, error) {
	parsed, custom := ParseName(string(name))
	clean, dropped := SanitizeProperties(props)

	e := &IntentEvent{
		EventID:     uuid.NewString(),
		EventName:   parsed,
		CustomName:  custom,
		AnonID:      stamp.AnonID,
		SessionID:   stamp.SessionID,
		Timestamp:   now.UTC(),
		Properties:  clean,
		Geo:         stamp.Geo,
		Platform:    stamp.Provenance.Platform,
		Environment: stamp.Provenance.Environment,
		SDKVersion:  stamp.Provenance.SDKVersion,
	}
	if stamp.Device != nil {
		d := *stamp.Device
		e.DeviceMeta = &d
	}

	if _, err := Encode(e); err != nil {
		return nil, dropped, &aierrors.EncodeError{EventID: e.EventID, Err: err}
	}
	return e, dropped, nil
}
