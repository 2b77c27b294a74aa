package settings

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/louisbranch/castsync/internal/services/sync/domain/command"
	"github.com/louisbranch/castsync/internal/services/sync/domain/event"
)

const (
	CommandTypePrivacySet     command.Type = "privacy.set"
	CommandTypeDeviceRegister command.Type = "device.register"
	EventTypePrivacyChanged   event.Type   = "privacy.changed"
	EventTypeDeviceRegistered event.Type   = "device.registered"
	EventTypeDeviceUpdated    event.Type   = "device.updated"

	EntityTypePrivacy = "privacy"
	EntityTypeDevice  = "device"

	RejectionCodeScopeInvalid     = "SCOPE_INVALID"
	RejectionCodeDeviceIDRequired = "DEVICE_ID_REQUIRED"
	rejectionCodeCommandUnknown   = "COMMAND_TYPE_UNSUPPORTED"
	defaultDeviceType             = "other"
)

// Decide returns the decision for a settings command.
func Decide(state State, cmd command.Command, now func() time.Time) command.Decision {
	if now == nil {
		now = time.Now
	}
	switch cmd.Type {
	case CommandTypePrivacySet:
		var payload PrivacySetPayload
		_ = json.Unmarshal(cmd.PayloadJSON, &payload)
		scope, ok := NormalizeScope(payload.Scope)
		if !ok {
			return command.Reject(command.Rejection{Code: RejectionCodeScopeInvalid, Message: `scope must be "account" or "feed:<url>"`})
		}
		if current, set := state.Privacy[scope]; set && current == payload.Public {
			return command.NoOp()
		}
		payloadJSON, _ := json.Marshal(PrivacySetPayload{Scope: scope, Public: payload.Public})
		return command.Accept(command.NewEvent(cmd, EventTypePrivacyChanged, EntityTypePrivacy, scope, payloadJSON, now().UTC()))

	case CommandTypeDeviceRegister:
		var payload DeviceRegisterPayload
		_ = json.Unmarshal(cmd.PayloadJSON, &payload)
		deviceID := strings.TrimSpace(payload.DeviceID)
		if deviceID == "" {
			deviceID = cmd.Causation.DeviceID
		}
		if deviceID == "" {
			return command.Reject(command.Rejection{Code: RejectionCodeDeviceIDRequired, Message: "device id is required"})
		}
		name := strings.TrimSpace(payload.Name)
		if name == "" {
			name = cmd.Causation.DeviceName
		}
		deviceType := strings.ToLower(strings.TrimSpace(payload.Type))
		if deviceType == "" {
			deviceType = defaultDeviceType
		}
		payloadJSON, _ := json.Marshal(DeviceRegisterPayload{DeviceID: deviceID, Name: name, Type: deviceType})
		existing, known := state.Devices[deviceID]
		if !known {
			return command.Accept(command.NewEvent(cmd, EventTypeDeviceRegistered, EntityTypeDevice, deviceID, payloadJSON, now().UTC()))
		}
		if existing.Name == name && existing.Type == deviceType {
			return command.NoOp()
		}
		return command.Accept(command.NewEvent(cmd, EventTypeDeviceUpdated, EntityTypeDevice, deviceID, payloadJSON, now().UTC()))

	default:
		return command.Reject(command.Rejection{Code: rejectionCodeCommandUnknown, Message: "unsupported settings command " + string(cmd.Type)})
	}
}
