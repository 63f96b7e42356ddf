package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"

	discordpkg "github.com/foxseedlab/voicecal/internal/discord"
)

// Discord rejects messages longer than this.
const maxMessageLength = 2000

type Client struct {
	session   *discordgo.Session
	token     string
	botUserID string
}

func NewClient(token string) *Client {
	return &Client{token: token}
}

func (c *Client) Connect(ctx context.Context) error {
	s, err := discordgo.New("Bot " + c.token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	c.session = s
	s.Identify.Intents = discordgo.MakeIntent(discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates)
	s.State.TrackVoice = true
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	if s.State.User != nil {
		c.botUserID = s.State.User.ID
	}
	slog.Info("discord gateway connected", "bot_user_id", c.botUserID)
	return nil
}

func (c *Client) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

func (c *Client) JoinVoiceChannel(guildID, channelID string) (discordpkg.VoiceConnection, error) {
	// The bot listens, so it joins unmuted and undeafened.
	vc, err := c.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("join voice channel %s: %w", channelID, err)
	}
	return &voiceConnection{vc: vc, done: make(chan struct{})}, nil
}

func (c *Client) SendChannelMessage(channelID, content string) error {
	if content == "" {
		return nil
	}
	_, err := c.session.ChannelMessageSend(channelID, truncateMessage(content))
	return err
}

// truncateMessage cuts content to maxMessageLength characters without
// splitting a rune.
func truncateMessage(content string) string {
	n := 0
	for i := range content {
		if n == maxMessageLength {
			return content[:i]
		}
		n++
	}
	return content
}

func (c *Client) RegisterVoiceStateUpdateHandler(handler func(discordpkg.VoiceStateEvent)) {
	c.session.AddHandler(func(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		if ev, ok := c.voiceStateEvent(vs); ok {
			handler(ev)
		}
	})
}

func (c *Client) voiceStateEvent(vs *discordgo.VoiceStateUpdate) (discordpkg.VoiceStateEvent, bool) {
	if vs == nil || vs.VoiceState == nil || vs.GuildID == "" || vs.UserID == "" {
		return discordpkg.VoiceStateEvent{}, false
	}
	before := ""
	if vs.BeforeUpdate != nil {
		before = vs.BeforeUpdate.ChannelID
	}
	// Mute and deafen toggles arrive as voice state updates too.
	if before == vs.ChannelID {
		return discordpkg.VoiceStateEvent{}, false
	}
	return discordpkg.VoiceStateEvent{
		GuildID:         vs.GuildID,
		UserID:          vs.UserID,
		UserIsBot:       c.isBot(vs.UserID, vs.VoiceState),
		BeforeChannelID: before,
		AfterChannelID:  vs.ChannelID,
	}, true
}

func (c *Client) RegisterSlashCommandHandler(handler func(discordpkg.SlashCommandEvent)) {
	c.session.AddHandler(func(s *discordgo.Session, ic *discordgo.InteractionCreate) {
		if ic == nil || ic.Type != discordgo.InteractionApplicationCommand {
			return
		}
		data := ic.ApplicationCommandData()
		userID := interactionUserID(ic)
		if data.Name == "" || userID == "" {
			return
		}
		slog.Info("slash command received", "guild_id", ic.GuildID, "channel_id", ic.ChannelID, "command", data.Name, "user_id", userID)
		handler(discordpkg.SlashCommandEvent{
			GuildID:     ic.GuildID,
			ChannelID:   ic.ChannelID,
			CommandName: data.Name,
			UserID:      userID,
			RespondEphemeral: func(content string) error {
				return s.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
					Type: discordgo.InteractionResponseChannelMessageWithSource,
					Data: &discordgo.InteractionResponseData{
						Content: content,
						Flags:   discordgo.MessageFlagsEphemeral,
					},
				})
			},
		})
	})
}

func interactionUserID(ic *discordgo.InteractionCreate) string {
	if ic.Member != nil && ic.Member.User != nil {
		return ic.Member.User.ID
	}
	if ic.User != nil {
		return ic.User.ID
	}
	return ""
}

func (c *Client) UpsertGuildSlashCommands(guildID string, defs []discordpkg.SlashCommandDefinition) error {
	appID := c.applicationID()
	if appID == "" {
		return errors.New("discord application id is not available")
	}
	existing, err := c.session.ApplicationCommands(appID, guildID)
	if err != nil {
		return fmt.Errorf("list slash commands: %w", err)
	}
	byName := make(map[string]*discordgo.ApplicationCommand, len(existing))
	for _, cmd := range existing {
		if cmd != nil && cmd.Name != "" {
			byName[cmd.Name] = cmd
		}
	}
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		payload := &discordgo.ApplicationCommand{Name: def.Name, Description: def.Description}
		cmd, ok := byName[def.Name]
		switch {
		case !ok:
			_, err = c.session.ApplicationCommandCreate(appID, guildID, payload)
		case cmd.Description != def.Description:
			_, err = c.session.ApplicationCommandEdit(appID, guildID, cmd.ID, payload)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("upsert slash command %q: %w", def.Name, err)
		}
	}
	return nil
}

func (c *Client) GetUserVoiceChannelID(guildID, userID string) (string, error) {
	if c.session == nil {
		return "", nil
	}
	if c.session.State != nil {
		if vs, err := c.session.State.VoiceState(guildID, userID); err == nil && vs != nil {
			return vs.ChannelID, nil
		}
	}

	// The state cache is cold until the guild create event arrives.
	vs, err := c.session.UserVoiceState(guildID, userID)
	if err != nil {
		if isRESTNotFound(err) {
			return "", nil
		}
		return "", err
	}
	if vs == nil {
		return "", nil
	}
	return vs.ChannelID, nil
}

func isRESTNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == http.StatusNotFound
}

func (c *Client) isBot(userID string, state *discordgo.VoiceState) bool {
	if state != nil && state.Member != nil && state.Member.User != nil {
		return state.Member.User.Bot
	}
	if c.botUserID != "" && c.botUserID == userID {
		return true
	}
	if c.session == nil {
		return false
	}
	u, err := c.session.User(userID)
	if err != nil {
		return false
	}
	return u.Bot
}

func (c *Client) applicationID() string {
	if c.session == nil || c.session.State == nil {
		return ""
	}
	if c.session.State.Application != nil && c.session.State.Application.ID != "" {
		return c.session.State.Application.ID
	}
	if c.session.State.User != nil {
		return c.session.State.User.ID
	}
	return ""
}

// discordgo never closes OpusRecv, so done ends the receive loop.
type voiceConnection struct {
	vc        *discordgo.VoiceConnection
	done      chan struct{}
	closeOnce sync.Once
}

func (v *voiceConnection) Disconnect() error {
	v.closeOnce.Do(func() { close(v.done) })
	return v.vc.Disconnect()
}

func (v *voiceConnection) ReceiveAudio(callback func(userID string, opus []byte)) {
	if v.vc.OpusRecv == nil {
		return
	}
	var (
		mu         sync.RWMutex
		ssrcToUser = make(map[uint32]string)
	)
	v.vc.AddHandler(func(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
		if !vs.Speaking {
			return
		}
		mu.Lock()
		ssrcToUser[uint32(vs.SSRC)] = vs.UserID
		mu.Unlock()
	})
	for {
		var (
			p  *discordgo.Packet
			ok bool
		)
		select {
		case <-v.done:
			return
		case p, ok = <-v.vc.OpusRecv:
			if !ok {
				return
			}
		}
		if p == nil || len(p.Opus) == 0 {
			continue
		}
		mu.RLock()
		userID := ssrcToUser[p.SSRC]
		mu.RUnlock()
		if userID == "" {
			userID = strconv.FormatUint(uint64(p.SSRC), 10)
		}
		callback(userID, p.Opus)
	}
}
