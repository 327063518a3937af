package core

// Command is a downstream directive. OTA commands carry "version" and "url" parameters.
type Command struct {
	CommandID  string            `json:"commandID"`
	Type       string            `json:"type"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Timestamp  int64             `json:"timestamp,omitempty"`
}

// CommandState is the execution status reported for a command.
type CommandState string

const (
	CommandReceived  CommandState = "Received"
	CommandRunning   CommandState = "Running"
	CommandFailed    CommandState = "Failed"
	CommandSucceeded CommandState = "Succeeded"
	CommandUpToDate  CommandState = "UpToDate"
)

type CommandStatus struct {
	CommandID string       `json:"commandID"`
	Status    CommandState `json:"status"`
	Message   string       `json:"message,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

type Registration struct {
	DeviceID          string `json:"deviceID"`
	FirmwareVersion   string `json:"firmwareVersion"`
	PendingValidation bool   `json:"pendingValidation"`
	BootBank          int    `json:"bootBank"`
	Timestamp         int64  `json:"timestamp"`
}

type Progress struct {
	CommandID    string `json:"commandID"`
	Phase        string `json:"phase"`
	Percentage   int    `json:"percentage"`
	BytesWritten int64  `json:"bytesWritten"`
	TotalBytes   int64  `json:"totalBytes"`
}

// OnlineStatus carries no timestamp; the last-will copy would be stale.
type OnlineStatus struct {
	DeviceID string `json:"deviceID"`
	Online   bool   `json:"online"`
	Reason   string `json:"reason,omitempty"`
}
