package directline

import "strings"

// Session binds one Telegram chat to a Direct Line conversation.
type Session struct {
	ConversationID string `json:"conversationId"`
	Token          string `json:"token"`
}

// ChannelAccount identifies an activity sender.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Activity is one event in a Direct Line conversation. Only message
// activities with text are relayed; everything else passes through the
// poll loop untouched.
type Activity struct {
	ID        string         `json:"id,omitempty"`
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	From      ChannelAccount `json:"from"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// ActivityTypeMessage is the only activity type the relay forwards.
const ActivityTypeMessage = "message"

// IsAgentMessage reports whether the activity is a text reply produced by
// the agent rather than an echo posted on behalf of a chat member. Relayed
// user activities carry a shared sender id prefix; group chats have several
// such senders, so the check is by prefix, not by exact id.
func (a Activity) IsAgentMessage(userPrefix string) bool {
	if a.Type != ActivityTypeMessage || a.Text == "" {
		return false
	}
	return userPrefix == "" || !strings.HasPrefix(a.From.ID, userPrefix)
}

// ActivitySet is the long-poll fetch result: ordered activities plus the
// watermark to echo on the next fetch.
type ActivitySet struct {
	Activities []Activity `json:"activities"`
	Watermark  string     `json:"watermark"`
}
