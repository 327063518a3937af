package core

type EventType string

const (
	EventRegister      EventType = "agent.register"
	EventOnline        EventType = "agent.online"
	EventOTACommand    EventType = "ota.command"
	EventOTAProgress   EventType = "ota.progress"
	EventCommandStatus EventType = "command.status"
)
