package tts

import "strings"

// RimeSpeakers lists the arcana voices offered to callers, default first.
var RimeSpeakers = []string{"Luna", "Pola", "Ursa", "Sirius", "Andromeda"}

// DefaultSpeaker is used when a session names none.
const DefaultSpeaker = "Luna"

// IsRimeSpeaker reports whether name is one of RimeSpeakers, ignoring case.
func IsRimeSpeaker(name string) bool {
	for _, s := range RimeSpeakers {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// ElevenLabsVoices maps the speaker catalogue onto ElevenLabs voice IDs.
var ElevenLabsVoices = map[string]string{
	"luna":      "XB0fDUnXU5powFXDhCwa",
	"pola":      "9BWtsMINqrJLrRacOk9x",
	"ursa":      "21m00Tcm4TlvDq8ikWAM",
	"sirius":    "TxGEqnHWrfWFTfGW9XjX",
	"andromeda": "pFZP5JQG7iQjIQuC4Bku",
}

// ResolveElevenLabsVoice returns the voice ID for a speaker name,
// or the input unchanged if it's already a voice ID.
func ResolveElevenLabsVoice(name string) string {
	if id, ok := ElevenLabsVoices[strings.ToLower(name)]; ok {
		return id
	}
	return name
}
