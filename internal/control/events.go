package control

import "github.com/vibetunnel/core/internal/eventbus"

func eventSessionCreated(id string) eventbus.Event {
	return eventbus.Event{Type: eventbus.EventSessionCreated, SessionID: id}
}

func eventSessionExited(id string, exitCode int) eventbus.Event {
	return eventbus.Event{Type: eventbus.EventSessionExited, SessionID: id, Data: map[string]int{"exitCode": exitCode}}
}
