package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"nanabot/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const (
	discordMaxMsgLen = 2000
)

// MessageHandler receives every inbound message the gateway accepts.
// It is called on its own goroutine per message.
type MessageHandler func(ctx context.Context, ev domain.InboundEvent)

// Discord implements domain.ChatGateway over a discordgo session.
type Discord struct {
	guildID      string
	resolveNames bool
	session      *discordgo.Session
	selfID       atomic.Value // string
	logger       *slog.Logger
}

// DiscordConfig configures the Discord gateway.
type DiscordConfig struct {
	Token   string
	GuildID string // when set, messages from other guilds are dropped
	// ResolveChannelNames fills InboundEvent.ChannelName, needed when the
	// relay routes by channel name instead of id.
	ResolveChannelNames bool
	Logger              *slog.Logger
}

// NewDiscord creates the session without connecting. REST calls work
// before Start; SelfID is empty until the gateway is ready.
func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("%w: discord token is required", domain.ErrConfig)
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Discord{
		guildID:      cfg.GuildID,
		resolveNames: cfg.ResolveChannelNames,
		session:      session,
		logger:       logger.With("component", "discord"),
	}
	d.selfID.Store("")
	return d, nil
}

func (d *Discord) Name() string { return "discord" }

// Start connects to the gateway and feeds accepted messages to handle until
// ctx is cancelled.
func (d *Discord) Start(ctx context.Context, handle MessageHandler) error {
	d.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		d.selfID.Store(r.User.ID)
		d.logger.Info("discord gateway ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})

	d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Message == nil || m.Author == nil {
			return
		}
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}

		var channelName string
		if d.resolveNames {
			if ch, err := d.GetChannel(ctx, m.ChannelID); err == nil {
				channelName = ch.Name
			} else {
				d.logger.Debug("channel lookup failed", "channel_id", m.ChannelID, "err", err)
			}
		}

		handle(ctx, eventFromMessage(m.Message, channelName))
	})

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	if u := d.session.State.User; u != nil {
		d.selfID.Store(u.ID)
		d.logger.Info("discord bot connected", "user", u.Username)
	}

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return d.session.Close()
}

// SelfID returns the bot's user id, or "" before the gateway is ready.
func (d *Discord) SelfID() string {
	id, _ := d.selfID.Load().(string)
	return id
}

// Self fetches the bot account over REST. Used to check a token without
// opening the gateway.
func (d *Discord) Self(ctx context.Context) (string, error) {
	u, err := d.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return "", mapDiscordError(err)
	}
	return u.Username, nil
}

func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return mapDiscordError(d.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (d *Discord) ListWebhooks(ctx context.Context, channelID string) ([]domain.DeliveryHandle, error) {
	hooks, err := d.session.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapDiscordError(err)
	}
	handles := make([]domain.DeliveryHandle, 0, len(hooks))
	for _, w := range hooks {
		handles = append(handles, handleFromWebhook(w))
	}
	return handles, nil
}

func (d *Discord) CreateWebhook(ctx context.Context, channelID, name string) (domain.DeliveryHandle, error) {
	w, err := d.session.WebhookCreate(channelID, name, "", discordgo.WithContext(ctx))
	if err != nil {
		return domain.DeliveryHandle{}, mapDiscordError(err)
	}
	return handleFromWebhook(w), nil
}

// Send executes the webhook once per chunk with the author's name and avatar.
func (d *Discord) Send(ctx context.Context, h domain.DeliveryHandle, text string, as domain.DisplayIdentity) error {
	if !h.Usable() {
		return fmt.Errorf("%w: webhook %q has no token", domain.ErrHandleGone, h.ID)
	}
	for _, chunk := range splitMessage(text, discordMaxMsgLen) {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		_, err := d.session.WebhookExecute(h.ID, h.Token, false, &discordgo.WebhookParams{
			Content:         chunk,
			Username:        as.Name,
			AvatarURL:       as.AvatarURL,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		}, discordgo.WithContext(ctx))
		if err != nil {
			return mapDiscordError(err)
		}
	}
	return nil
}

// SendPlain posts text as the bot account.
func (d *Discord) SendPlain(ctx context.Context, channelID, text string) error {
	for _, chunk := range splitMessage(text, discordMaxMsgLen) {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		if _, err := d.session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return mapDiscordError(err)
		}
	}
	return nil
}

// GetChannel answers from the state cache when it can.
func (d *Discord) GetChannel(ctx context.Context, id string) (*domain.ChannelInfo, error) {
	if ch, err := d.session.State.Channel(id); err == nil {
		return &domain.ChannelInfo{ID: ch.ID, Name: ch.Name, GuildID: ch.GuildID}, nil
	}
	ch, err := d.session.Channel(id, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapDiscordError(err)
	}
	return &domain.ChannelInfo{ID: ch.ID, Name: ch.Name, GuildID: ch.GuildID}, nil
}

func eventFromMessage(m *discordgo.Message, channelName string) domain.InboundEvent {
	ev := domain.InboundEvent{
		MessageID:   m.ID,
		ChannelID:   m.ChannelID,
		ChannelName: channelName,
		Text:        m.Content,
		Timestamp:   m.Timestamp,
		Source:      sourceOf(m),
	}
	if m.Author != nil {
		ev.AuthorID = m.Author.ID
		ev.Author = identityOf(m.Author)
	}
	return ev
}

func sourceOf(m *discordgo.Message) domain.Source {
	switch {
	case m.WebhookID != "":
		return domain.SourceWebhook
	case m.Type != discordgo.MessageTypeDefault && m.Type != discordgo.MessageTypeReply:
		return domain.SourceSystem
	default:
		return domain.SourceUser
	}
}

// identityOf prefers the account's display name over its username.
// AvatarURL falls back to the default avatar when none is set.
func identityOf(u *discordgo.User) domain.DisplayIdentity {
	name := u.GlobalName
	if name == "" {
		name = u.Username
	}
	return domain.DisplayIdentity{Name: name, AvatarURL: u.AvatarURL("")}
}

func handleFromWebhook(w *discordgo.Webhook) domain.DeliveryHandle {
	return domain.DeliveryHandle{ID: w.ID, Token: w.Token, ChannelID: w.ChannelID, Name: w.Name}
}

// mapDiscordError translates REST failures into domain errors so callers can
// use errors.Is without importing discordgo.
func mapDiscordError(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) {
		return err
	}
	if rest.Message != nil {
		switch rest.Message.Code {
		case discordgo.ErrCodeUnknownWebhook:
			return fmt.Errorf("%w: %v", domain.ErrHandleGone, err)
		case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownMessage:
			return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
		}
	}
	if rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	return err
}

// splitMessage splits a message into chunks that fit within maxLen bytes,
// trying to split on newlines and never inside a UTF-8 sequence.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
