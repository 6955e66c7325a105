package domain

// PushKeys holds the two encryption keys a push subscription must carry,
// base64url encoded without padding.
type PushKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// DeviceInfo is best-effort metadata about the subscribing device.
type DeviceInfo struct {
	Platform  string `json:"platform,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Language  string `json:"language,omitempty"`
}

// PushSubscription is the payload registered with the notification backend.
type PushSubscription struct {
	Endpoint   string      `json:"endpoint"`
	Keys       PushKeys    `json:"keys"`
	DeviceInfo *DeviceInfo `json:"deviceInfo,omitempty"`
}

// Complete reports whether the subscription has an endpoint and both keys.
func (s PushSubscription) Complete() bool {
	return s.Endpoint != "" && s.Keys.P256dh != "" && s.Keys.Auth != ""
}
