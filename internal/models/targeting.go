package models

// DeviceInfo describes the device that rendered or interacted with an ad.
// The typed fields are derived server-side from the User-Agent and network
// address; Client holds whatever the caller reported in deviceInfo.
type DeviceInfo struct {
	DeviceType string         `json:"deviceType,omitempty"` // "desktop", "mobile", "tablet" or "other"
	OS         string         `json:"os,omitempty"`
	Browser    string         `json:"browser,omitempty"`
	IsBot      bool           `json:"isBot,omitempty"`
	Country    string         `json:"country,omitempty"` // ISO 3166-1 alpha-2
	Client     map[string]any `json:"client,omitempty"`
}
