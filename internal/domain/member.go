package domain

// VoiceParticipant is one member of a voice room roster, keyed by UserID.
type VoiceParticipant struct {
	UserID   UserID `json:"user_id"`
	Username string `json:"username"`
	Muted    bool   `json:"muted"`
	Video    bool   `json:"video"`
	Speaking bool   `json:"speaking"`
}

// VoiceFlags is the mutable part of a participant, broadcast on state changes.
type VoiceFlags struct {
	Muted    bool `json:"muted"`
	Video    bool `json:"video"`
	Speaking bool `json:"speaking"`
}

func (p VoiceParticipant) WithFlags(f VoiceFlags) VoiceParticipant {
	p.Muted, p.Video, p.Speaking = f.Muted, f.Video, f.Speaking
	return p
}
