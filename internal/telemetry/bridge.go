package telemetry

import (
	"encoding/json"

	"github.com/Iron-Ham/ptzexplore/internal/event"
)

// Bridge forwards bus events to pub, one topic per event type. It
// returns a function that detaches it.
func Bridge(bus *event.Bus, pub Publisher) func() {
	return bus.SubscribeAll(func(e event.Event) {
		payload, err := Payload(e)
		if err != nil {
			return
		}
		pub.Publish(e.EventType(), payload)
	})
}

// Payload flattens e into a JSON object with its type and timestamp.
func Payload(e event.Event) (map[string]any, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	payload["type"] = e.EventType()
	payload["timestamp"] = e.Timestamp().UTC().Format("2006-01-02T15:04:05.000000Z07:00")
	return payload, nil
}
