package common

// Action is the discriminator of every message exchanged between the
// foreground and the agent.
type Action string

// Inbound actions, foreground to agent.
const (
	ScheduleNotification Action = "scheduleNotification"
	CancelNotification   Action = "cancelNotification"
	UpdateCache          Action = "updateCache"
	CheckForUpdates      Action = "checkForUpdates"

	// ClientHello registers the sending instance's URL with the agent.
	ClientHello Action = "client.hello"
	// AgentStatus is the only call that expects a reply.
	AgentStatus Action = "agent.status"
)

// Outbound broadcasts, agent to every connected foreground instance.
const (
	CacheUpdated            Action = "cacheUpdated"
	CacheUpdatedWithChanges Action = "cacheUpdatedWithChanges"
	CacheChecked            Action = "cacheChecked"
	Focus                   Action = "focus"
)

// Inbound lists the actions the agent dispatcher accepts.
var Inbound = []Action{
	ScheduleNotification,
	CancelNotification,
	UpdateCache,
	CheckForUpdates,
	ClientHello,
}

// IsInbound reports whether a is an action the agent dispatches.
func IsInbound(a Action) bool {
	for _, v := range Inbound {
		if v == a {
			return true
		}
	}
	return false
}
