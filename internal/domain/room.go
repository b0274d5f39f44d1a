package domain

type (
	ServerID  int64
	ChannelID int64
	DMID      int64
	MessageID int64
)

// GlobalVoiceChannel is the channel id carried by the dedicated voice socket.
const GlobalVoiceChannel ChannelID = 0

// Message timestamps are kept as sent by the server.
type Message struct {
	ID          MessageID  `json:"id"`
	Content     string     `json:"content"`
	UserID      UserID     `json:"user_id"`
	ChannelID   *ChannelID `json:"channel_id,omitempty"`
	DMChannelID *DMID      `json:"dm_channel_id,omitempty"`
	ReplyToID   *MessageID `json:"reply_to_id,omitempty"`
	CreatedAt   string     `json:"created_at,omitempty"`
	EditedAt    *string    `json:"edited_at,omitempty"`
	User        *User      `json:"user,omitempty"`
}

// Channel returns the text channel id, or 0 for DM messages.
func (m Message) Channel() ChannelID {
	if m.ChannelID == nil {
		return 0
	}
	return *m.ChannelID
}
