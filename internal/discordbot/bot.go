package discordbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/foxseedlab/voicecal/internal/audio"
	"github.com/foxseedlab/voicecal/internal/discord"
	"github.com/foxseedlab/voicecal/internal/session"
	"github.com/foxseedlab/voicecal/internal/transcriber"
)

const (
	TransportName = "discord"

	CommandSchedule = "schedule"
	CommandCancel   = "schedule-cancel"
	CommandStop     = "schedule-stop"

	messageNotConfigured  = "This server is not configured for scheduling."
	messageJoinVoiceFirst = "Join a voice channel first, then run /schedule again."
	messageAlreadyRunning = "A scheduling session is already running in that voice channel."
	messageStartFailed    = "I couldn't start a scheduling session. Please try again."
	messageListening      = "I'm listening. Tell me what you'd like to schedule."
	messageNoSession      = "You don't have a scheduling session running."
	messageCancelSent     = "Cancelling the current request."
	messageStopped        = "Scheduling session stopped."
	messageSessionEnded   = "The scheduling session has ended."
	messageTranscriptFmt  = "> %s"
)

var Commands = []discord.SlashCommandDefinition{
	{Name: CommandSchedule, Description: "Start a voice scheduling session in your voice channel"},
	{Name: CommandCancel, Description: "Cancel the meeting request being discussed"},
	{Name: CommandStop, Description: "End your voice scheduling session"},
}

// Sessions is the part of the session registry the bot drives.
type Sessions interface {
	Open(ctx context.Context, opts session.OpenOptions) (*session.Session, error)
	Submit(ctx context.Context, id string, ev session.Event) error
	Close(id, reason string) bool
}

type Config struct {
	GuildID  string
	Language string
}

// Bot bridges Discord voice channels and scheduling sessions. Each guild
// voice channel hosts at most one session, owned by the user who started it.
// Only that user's audio is transcribed.
type Bot struct {
	cfg        Config
	discord    discord.Client
	stt        transcriber.Transcriber
	newDecoder audio.DecoderFactory
	sessions   Sessions

	mu     sync.Mutex
	active map[string]*voiceSession
	wg     sync.WaitGroup
}

type voiceSession struct {
	key            string
	sessionID      string
	userID         string
	guildID        string
	voiceChannelID string
	textChannelID  string

	voice  discord.VoiceConnection
	cancel context.CancelFunc

	// audioMu serializes packet handling with release, so the decoder and
	// writer are never closed mid-packet.
	audioMu sync.Mutex
	decoder audio.Decoder
	writer  transcriber.StreamWriter
	stopped atomic.Bool
}

func New(cfg Config, dc discord.Client, stt transcriber.Transcriber, newDecoder audio.DecoderFactory, sessions Sessions) *Bot {
	return &Bot{
		cfg:        cfg,
		discord:    dc,
		stt:        stt,
		newDecoder: newDecoder,
		sessions:   sessions,
		active:     make(map[string]*voiceSession),
	}
}

// Run connects to Discord and serves commands until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.discord.Connect(ctx); err != nil {
		return fmt.Errorf("connect discord: %w", err)
	}
	b.discord.RegisterSlashCommandHandler(b.HandleSlashCommand)
	b.discord.RegisterVoiceStateUpdateHandler(b.HandleVoiceStateUpdate)
	if err := b.discord.UpsertGuildSlashCommands(b.cfg.GuildID, Commands); err != nil {
		_ = b.discord.Close()
		return fmt.Errorf("register slash commands: %w", err)
	}
	slog.Info("discord transport ready", "guild_id", b.cfg.GuildID)

	<-ctx.Done()
	b.StopAll(session.StopReasonServerShutdown)
	b.Wait()
	return b.discord.Close()
}

func (b *Bot) HandleSlashCommand(ev discord.SlashCommandEvent) {
	if ev.GuildID != b.cfg.GuildID {
		slog.Info("ignoring slash command for different guild", "guild_id", ev.GuildID, "configured_guild_id", b.cfg.GuildID)
		b.respond(ev, messageNotConfigured)
		return
	}
	switch ev.CommandName {
	case CommandSchedule:
		b.respond(ev, b.startForUser(ev))
	case CommandCancel:
		id := b.findByUser(ev.GuildID, ev.UserID)
		if id == "" {
			b.respond(ev, messageNoSession)
			return
		}
		if err := b.sessions.Submit(context.Background(), id, session.CancelRequested{}); err != nil {
			slog.Warn("failed to submit cancel", "error", err, "session_id", id)
		}
		b.respond(ev, messageCancelSent)
	case CommandStop:
		id := b.findByUser(ev.GuildID, ev.UserID)
		if id == "" {
			b.respond(ev, messageNoSession)
			return
		}
		b.stop(id, session.StopReasonUserStopped)
		b.respond(ev, messageStopped)
	default:
		slog.Warn("unknown slash command", "command", ev.CommandName)
	}
}

// HandleVoiceStateUpdate closes a session when its owner leaves or moves out
// of the voice channel.
func (b *Bot) HandleVoiceStateUpdate(ev discord.VoiceStateEvent) {
	if ev.UserIsBot || ev.GuildID != b.cfg.GuildID || ev.BeforeChannelID == "" {
		return
	}
	b.mu.Lock()
	var id string
	if vs, ok := b.active[channelKey(ev.GuildID, ev.BeforeChannelID)]; ok && vs.userID == ev.UserID {
		id = vs.sessionID
	}
	b.mu.Unlock()
	if id == "" {
		return
	}
	slog.Info("session owner left voice channel", "session_id", id, "user_id", ev.UserID, "channel_id", ev.BeforeChannelID)
	b.stop(id, session.StopReasonConnectionClosed)
}

func (b *Bot) startForUser(ev discord.SlashCommandEvent) string {
	voiceChannelID, err := b.discord.GetUserVoiceChannelID(ev.GuildID, ev.UserID)
	if err != nil {
		slog.Error("failed to resolve user voice channel", "error", err, "user_id", ev.UserID)
		return messageStartFailed
	}
	if voiceChannelID == "" {
		return messageJoinVoiceFirst
	}
	err = b.start(ev.GuildID, voiceChannelID, ev.ChannelID, ev.UserID)
	switch {
	case errors.Is(err, errChannelBusy):
		return messageAlreadyRunning
	case err != nil:
		slog.Error("failed to start voice session", "error", err, "guild_id", ev.GuildID, "channel_id", voiceChannelID)
		return messageStartFailed
	}
	return messageListening
}

var errChannelBusy = errors.New("voice channel already has a session")

func (b *Bot) start(guildID, voiceChannelID, textChannelID, userID string) error {
	key := channelKey(guildID, voiceChannelID)
	b.mu.Lock()
	if _, busy := b.active[key]; busy {
		b.mu.Unlock()
		return errChannelBusy
	}
	vs := &voiceSession{
		key:            key,
		userID:         userID,
		guildID:        guildID,
		voiceChannelID: voiceChannelID,
		textChannelID:  textChannelID,
	}
	// Reserve the channel while joining.
	b.active[key] = vs
	b.mu.Unlock()

	if err := b.connect(vs); err != nil {
		b.mu.Lock()
		delete(b.active, key)
		b.mu.Unlock()
		vs.release()
		return err
	}
	return nil
}

func (b *Bot) connect(vs *voiceSession) error {
	voice, err := b.discord.JoinVoiceChannel(vs.guildID, vs.voiceChannelID)
	if err != nil {
		return err
	}
	vs.voice = voice

	decoder, err := b.newDecoder()
	if err != nil {
		return fmt.Errorf("create audio decoder: %w", err)
	}
	vs.decoder = decoder

	s, err := b.sessions.Open(context.Background(), session.OpenOptions{
		Transport: TransportName,
		Emitter:   session.EmitterFunc(b.postOutcome(vs.textChannelID)),
	})
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	b.mu.Lock()
	vs.sessionID = s.ID()
	b.mu.Unlock()

	streamCtx, cancel := context.WithCancel(context.Background())
	vs.cancel = cancel
	writer, err := b.stt.StartStreaming(streamCtx, vs.sessionID, transcriber.StreamConfig{
		Language:     b.cfg.Language,
		SampleRateHz: audio.SampleRateHz,
		Channels:     audio.Channels,
	}, &transcriptReceiver{bot: b, vs: vs})
	if err != nil {
		b.sessions.Close(vs.sessionID, session.StopReasonConnectionClosed)
		<-s.Done()
		return fmt.Errorf("start transcriber: %w", err)
	}
	vs.writer = writer
	slog.Info("voice session started", "session_id", vs.sessionID, "guild_id", vs.guildID, "channel_id", vs.voiceChannelID, "user_id", vs.userID)

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.receiveAudio(vs)
	}()
	go func() {
		defer b.wg.Done()
		<-s.Done()
		b.finish(vs)
	}()
	return nil
}

func (b *Bot) receiveAudio(vs *voiceSession) {
	var packets, dropped int64
	vs.voice.ReceiveAudio(func(userID string, opus []byte) {
		if userID != vs.userID {
			dropped++
			return
		}
		vs.audioMu.Lock()
		defer vs.audioMu.Unlock()
		if vs.stopped.Load() {
			dropped++
			return
		}
		packets++
		if packets == 1 || packets%500 == 0 {
			slog.Debug("received opus packets", "session_id", vs.sessionID, "packets", packets, "dropped", dropped)
		}
		pcm, err := vs.decoder.Decode(opus)
		if err != nil {
			slog.Warn("failed to decode opus packet", "error", err, "session_id", vs.sessionID)
			return
		}
		if len(pcm) == 0 {
			return
		}
		if err := vs.writer.Write(pcm); err != nil {
			slog.Error("failed to write pcm to transcriber", "error", err, "session_id", vs.sessionID)
		}
	})
	slog.Info("voice receive loop stopped", "session_id", vs.sessionID, "packets", packets, "dropped", dropped)
}

func (b *Bot) postOutcome(channelID string) func(context.Context, string, session.Outcome) error {
	return func(_ context.Context, _ string, o session.Outcome) error {
		return b.discord.SendChannelMessage(channelID, session.Render(o))
	}
}

func (b *Bot) onTranscript(vs *voiceSession, text string) {
	text = strings.TrimSpace(text)
	if text == "" || vs.stopped.Load() {
		return
	}
	if err := b.discord.SendChannelMessage(vs.textChannelID, fmt.Sprintf(messageTranscriptFmt, text)); err != nil {
		slog.Warn("failed to echo transcript", "error", err, "session_id", vs.sessionID)
	}
	err := b.sessions.Submit(context.Background(), vs.sessionID, session.Utterance{Text: text})
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		b.stop(vs.sessionID, session.StopReasonIdleTimeout)
	case err != nil:
		slog.Warn("failed to submit utterance", "error", err, "session_id", vs.sessionID)
	}
}

// stop closes the scheduling session. Voice resources are released once its
// worker has exited.
func (b *Bot) stop(sessionID, reason string) {
	if !b.sessions.Close(sessionID, reason) {
		slog.Debug("session already closed", "session_id", sessionID, "reason", reason)
	}
}

func (b *Bot) finish(vs *voiceSession) {
	b.mu.Lock()
	if b.active[vs.key] == vs {
		delete(b.active, vs.key)
	}
	b.mu.Unlock()
	vs.release()
	if err := b.discord.SendChannelMessage(vs.textChannelID, messageSessionEnded); err != nil {
		slog.Warn("failed to post session end", "error", err, "session_id", vs.sessionID)
	}
	slog.Info("voice session finished", "session_id", vs.sessionID, "channel_id", vs.voiceChannelID)
}

// StopAll closes every voice session the bot owns.
func (b *Bot) StopAll(reason string) {
	b.mu.Lock()
	ids := make([]string, 0, len(b.active))
	for _, vs := range b.active {
		if vs.sessionID != "" {
			ids = append(ids, vs.sessionID)
		}
	}
	b.mu.Unlock()
	for _, id := range ids {
		b.stop(id, reason)
	}
}

// Wait blocks until every voice session's goroutines have exited.
func (b *Bot) Wait() {
	b.wg.Wait()
}

func (b *Bot) ActiveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}

func (b *Bot) findByUser(guildID, userID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, vs := range b.active {
		if vs.guildID == guildID && vs.userID == userID && vs.sessionID != "" {
			return vs.sessionID
		}
	}
	return ""
}

func (b *Bot) respond(ev discord.SlashCommandEvent, content string) {
	if ev.RespondEphemeral == nil {
		return
	}
	if err := ev.RespondEphemeral(content); err != nil {
		slog.Warn("failed to respond to slash command", "error", err, "command", ev.CommandName)
	}
}

func (vs *voiceSession) release() {
	if !vs.stopped.CompareAndSwap(false, true) {
		return
	}
	if vs.cancel != nil {
		vs.cancel()
	}
	vs.audioMu.Lock()
	if vs.writer != nil {
		_ = vs.writer.Close()
	}
	if vs.decoder != nil {
		vs.decoder.Close()
	}
	vs.audioMu.Unlock()
	if vs.voice != nil {
		if err := vs.voice.Disconnect(); err != nil {
			slog.Warn("failed to disconnect voice", "error", err, "session_id", vs.sessionID)
		}
	}
}

func channelKey(guildID, channelID string) string {
	return guildID + ":" + channelID
}

type transcriptReceiver struct {
	bot *Bot
	vs  *voiceSession
}

func (r *transcriptReceiver) OnResult(_ int, text string, isFinal bool) {
	if !isFinal {
		return
	}
	r.bot.onTranscript(r.vs, text)
}

func (r *transcriptReceiver) OnError(err error) {
	if errors.Is(err, context.Canceled) || r.vs.stopped.Load() {
		slog.Info("transcriber stream ended", "session_id", r.vs.sessionID)
		return
	}
	slog.Error("transcriber stream failed", "error", err, "session_id", r.vs.sessionID)
	r.bot.stop(r.vs.sessionID, session.StopReasonConnectionClosed)
}
