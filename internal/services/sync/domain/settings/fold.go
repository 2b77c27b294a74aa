package settings

import (
	"encoding/json"
	"maps"

	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
)

// Fold applies an event to the settings state without mutating the input maps.
func Fold(state State, evt event.Event) State {
	switch evt.Type {
	case EventTypePrivacyChanged:
		var payload PrivacySetPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil || payload.Scope == "" {
			return state
		}
		privacy := maps.Clone(state.Privacy)
		if privacy == nil {
			privacy = make(map[string]bool)
		}
		privacy[payload.Scope] = payload.Public
		state.Privacy = privacy
	case EventTypeDeviceRegistered, EventTypeDeviceUpdated:
		var payload DeviceRegisterPayload
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err != nil || payload.DeviceID == "" {
			return state
		}
		devices := maps.Clone(state.Devices)
		if devices == nil {
			devices = make(map[string]Device)
		}
		at := evt.Timestamp.UTC()
		device, known := devices[payload.DeviceID]
		if !known {
			device = Device{ID: payload.DeviceID, RegisteredAt: at}
		}
		device.Name = payload.Name
		device.Type = payload.Type
		device.UpdatedAt = at
		devices[payload.DeviceID] = device
		state.Devices = devices
	}
	return state
}

// FoldHandledTypes returns the event types folded by this package.
func FoldHandledTypes() []event.Type {
	return []event.Type{EventTypePrivacyChanged, EventTypeDeviceRegistered, EventTypeDeviceUpdated}
}
