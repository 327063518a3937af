package paths

// Topic segments shared by the device agent and the fleet backend.
// Topics are built as {root}/{segment}/{deviceID}.

// Downstream: Cloud -> Device
const (
	// Command carries update directives.
	// Payload: { "commandID": "...", "type": "OTA", "parameters": { "version": "...", "url": "..." } }
	Command = "command"
)

// Upstream: Device -> Cloud
const (
	// Register announces the device, its running firmware and boot bank.
	Register = "register"

	// Online reports connectivity. The offline payload is the connection's last will.
	// Payload: { "online": true/false, "timestamp": ... }
	Online = "online"

	// CommandAck reports command execution status.
	// Payload: { "commandID": "...", "status": "Running", "message": "..." }
	CommandAck = "command/ack"

	// OTAProgress reports download progress of the active update.
	// Payload: { "commandID": "...", "percentage": 45, "bytesWritten": ..., "totalBytes": ... }
	OTAProgress = "ota/progress"
)
