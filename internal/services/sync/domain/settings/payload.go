package settings

// PrivacySetPayload captures the payload for privacy.set commands and
// privacy.changed events.
type PrivacySetPayload struct {
	Scope  string `json:"scope"`
	Public bool   `json:"public"`
}

// DeviceRegisterPayload captures the payload for device.register commands and
// device.registered/device.updated events.
type DeviceRegisterPayload struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
}
