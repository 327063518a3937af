package topic

// MQTT wildcards used when the update service subscribes across devices.
const (
	// Wildcard matches one level: "ota/v1/register/+" matches every device's register topic.
	Wildcard = "+"

	// MultiWildcard matches the remaining levels and must come last.
	MultiWildcard = "#"
)
