package domain

import (
	"strings"
	"time"
)

// Source tells where an inbound message originated.
type Source int

const (
	SourceUser    Source = iota // posted by a regular account
	SourceWebhook               // delivered through a channel webhook (including our own relays)
	SourceSystem                // platform-generated (joins, pins, boosts...)
)

func (s Source) String() string {
	switch s {
	case SourceUser:
		return "user"
	case SourceWebhook:
		return "webhook"
	case SourceSystem:
		return "system"
	default:
		return "unknown"
	}
}

// DisplayIdentity is the name and avatar a relayed message is shown under.
type DisplayIdentity struct {
	Name      string
	AvatarURL string
}

// InboundEvent is a single chat message as seen by the relay. It is built once
// by the gateway and never mutated afterwards.
type InboundEvent struct {
	MessageID   string
	AuthorID    string
	Author      DisplayIdentity
	Source      Source
	ChannelID   string
	ChannelName string // best effort; empty when the gateway could not resolve it
	Text        string
	Timestamp   time.Time
}

// Route names a destination channel. ID is authoritative; Name is only used
// when no ID was configured.
type Route struct {
	ID   string
	Name string
}

// Matches reports whether the channel identified by id/name is this route.
func (r Route) Matches(channelID, channelName string) bool {
	if r.ID != "" {
		return channelID == r.ID
	}
	if r.Name == "" || channelName == "" {
		return false
	}
	return strings.EqualFold(strings.TrimPrefix(channelName, "#"), strings.TrimPrefix(r.Name, "#"))
}

func (r Route) String() string {
	if r.ID != "" {
		return r.ID
	}
	return "#" + strings.TrimPrefix(r.Name, "#")
}
