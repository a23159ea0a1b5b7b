package domain

import "context"

// DeliveryHandle is a channel webhook the relay posts through.
type DeliveryHandle struct {
	ID        string
	Token     string
	ChannelID string
	Name      string
}

// Usable reports whether the handle can be executed. Webhooks created by other
// applications are listed without a token.
func (h DeliveryHandle) Usable() bool {
	return h.ID != "" && h.Token != ""
}

// ChannelInfo is the subset of channel metadata the relay needs.
type ChannelInfo struct {
	ID      string
	Name    string
	GuildID string
}

// ChatGateway is the chat platform as seen by the relay and the log bridge.
type ChatGateway interface {
	// SelfID is the account id the gateway is connected as. Empty until connected.
	SelfID() string
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	ListWebhooks(ctx context.Context, channelID string) ([]DeliveryHandle, error)
	CreateWebhook(ctx context.Context, channelID, name string) (DeliveryHandle, error)
	// Send posts text through a webhook under the given identity.
	Send(ctx context.Context, h DeliveryHandle, text string, as DisplayIdentity) error
	// SendPlain posts text as the bot account itself.
	SendPlain(ctx context.Context, channelID, text string) error
	// GetChannel returns ErrNotFound when the channel does not exist or is not visible.
	GetChannel(ctx context.Context, id string) (*ChannelInfo, error)
}
