// Package transcript holds the speaker-attributed segment model the grading
// engine operates on, the text normalizer shared by every detector, and the
// adapters that turn transcript files into segments.
package transcript

import (
	"slices"
	"strings"
)

// SpeakerID is the opaque label a diarizer attached to a segment.
type SpeakerID string

// Unknown is assigned when the source segment carries no speaker.
const Unknown SpeakerID = "UNKNOWN"

// Segment is one timestamped, speaker-attributed span of transcript text.
// Start <= End is expected but never enforced.
type Segment struct {
	Start   float64   `json:"start"`
	End     float64   `json:"end"`
	Speaker SpeakerID `json:"speaker"`
	Text    string    `json:"text"`
}

// Document is a parsed transcript file.
type Document struct {
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments"`
}

// Role is the logical part a speaker plays in a call.
type Role int

const (
	RoleOther Role = iota
	// RoleAsker is the call-taker / dispatcher.
	RoleAsker
	// RoleResponder is the caller.
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleAsker:
		return "asker"
	case RoleResponder:
		return "responder"
	default:
		return "other"
	}
}

// ParseRole maps "asker"/"responder" (and the dispatcher/caller aliases) to a Role.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asker", "dispatcher", "taker", "call_taker":
		return RoleAsker, true
	case "responder", "caller":
		return RoleResponder, true
	case "", "any", "all", "other":
		return RoleOther, true
	}
	return RoleOther, false
}

// Roles maps speaker labels to logical roles. A label may appear in only one
// list; when it appears in both, the asker mapping wins.
type Roles struct {
	Asker     []SpeakerID `json:"asker" yaml:"asker"`
	Responder []SpeakerID `json:"responder" yaml:"responder"`
}

// DefaultRoles is the labeling produced by the upstream diarizer.
func DefaultRoles() Roles {
	return Roles{
		Asker:     []SpeakerID{"SPEAKER_01"},
		Responder: []SpeakerID{"SPEAKER_00"},
	}
}

// IsZero reports whether no speaker is mapped to any role.
func (r Roles) IsZero() bool { return len(r.Asker) == 0 && len(r.Responder) == 0 }

// Fill returns r with each empty list taken from base. Labels already mapped
// by the explicit list are left out of the inherited one.
func (r Roles) Fill(base Roles) Roles {
	out := Roles{
		Asker:     append([]SpeakerID(nil), r.Asker...),
		Responder: append([]SpeakerID(nil), r.Responder...),
	}
	if len(out.Asker) == 0 {
		out.Asker = without(base.Asker, out.Responder)
	}
	if len(out.Responder) == 0 {
		out.Responder = without(base.Responder, out.Asker)
	}
	return out
}

func without(list, drop []SpeakerID) []SpeakerID {
	var out []SpeakerID
	for _, s := range list {
		if !slices.Contains(drop, s) {
			out = append(out, s)
		}
	}
	return out
}

// RoleOf returns the role the speaker plays.
func (r Roles) RoleOf(s SpeakerID) Role {
	for _, a := range r.Asker {
		if a == s {
			return RoleAsker
		}
	}
	for _, a := range r.Responder {
		if a == s {
			return RoleResponder
		}
	}
	return RoleOther
}

// Matches reports whether a segment spoken by s is in scope for role.
// RoleOther means every speaker is in scope.
func (r Roles) Matches(s SpeakerID, role Role) bool {
	if role == RoleOther {
		return true
	}
	return r.RoleOf(s) == role
}

// ParseSpeakers splits a comma separated list of speaker labels.
func ParseSpeakers(s string) []SpeakerID {
	var out []SpeakerID
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, SpeakerID(p))
		}
	}
	return out
}
