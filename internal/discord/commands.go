package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/mindbridge/internal/app"
	"github.com/MrWong99/mindbridge/internal/transcript"
	discordaudio "github.com/MrWong99/mindbridge/pkg/audio/discord"
)

// maxMessageLen is Discord's message content limit.
const maxMessageLen = 2000

// Sessions is the part of [app.SessionManager] the commands drive.
type Sessions interface {
	StartOn(ctx context.Context, d app.Devices) error
	Stop() error
	Status() app.Status
}

var _ Sessions = (*app.SessionManager)(nil)

// VoiceLocator returns the voice channel a guild member is in, or "".
type VoiceLocator func(guildID, userID string) string

// DeviceFunc builds the microphone and speaker for a voice channel.
type DeviceFunc func(channelID string) app.Devices

// StateVoiceLocator looks members up in the gateway state cache of s.
func StateVoiceLocator(s *discordgo.Session) VoiceLocator {
	return func(guildID, userID string) string {
		vs, err := s.State.VoiceState(guildID, userID)
		if err != nil || vs == nil {
			return ""
		}
		return vs.ChannelID
	}
}

// ChannelDevices joins voice channels of guildID through s.
func ChannelDevices(s *discordgo.Session, guildID string, opts ...discordaudio.SpeakerOption) DeviceFunc {
	return func(channelID string) app.Devices {
		ch := discordaudio.NewChannel(s, guildID, channelID)
		return app.Devices{
			Input:  ch.Microphone(),
			Output: ch.Speaker(opts...),
			Label:  channelID,
		}
	}
}

// SessionCommands implements /mindbridge start|stop|transcript|status.
type SessionCommands struct {
	sessions Sessions
	perms    *PermissionChecker
	locate   VoiceLocator
	devices  DeviceFunc

	// fallback is joined when the member is not in a voice channel.
	fallback     string
	startTimeout time.Duration
}

// SessionCommandsOption configures [SessionCommands].
type SessionCommandsOption func(*SessionCommands)

// WithFallbackChannel joins channelID when the invoking member is not in a
// voice channel.
func WithFallbackChannel(channelID string) SessionCommandsOption {
	return func(c *SessionCommands) { c.fallback = channelID }
}

// WithStartTimeout bounds device and provider acquisition. Default 30s.
func WithStartTimeout(d time.Duration) SessionCommandsOption {
	return func(c *SessionCommands) { c.startTimeout = d }
}

// NewSessionCommands returns the session command group.
func NewSessionCommands(sessions Sessions, perms *PermissionChecker, locate VoiceLocator, devices DeviceFunc, opts ...SessionCommandsOption) *SessionCommands {
	c := &SessionCommands{
		sessions:     sessions,
		perms:        perms,
		locate:       locate,
		devices:      devices,
		startTimeout: 30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Register adds the command group to router.
func (c *SessionCommands) Register(router *CommandRouter) {
	router.RegisterCommand("mindbridge/start", c.Definition(), c.handleStart)
	router.RegisterHandler("mindbridge/stop", c.handleStop)
	router.RegisterHandler("mindbridge/transcript", c.handleTranscript)
	router.RegisterHandler("mindbridge/status", c.handleStatus)
}

// Definition returns the /mindbridge application command.
func (c *SessionCommands) Definition() *discordgo.ApplicationCommand {
	sub := func(name, desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        name,
			Description: desc,
		}
	}
	return &discordgo.ApplicationCommand{
		Name:        "mindbridge",
		Description: "Talk to the MindBridge assistant",
		Options: []*discordgo.ApplicationCommandOption{
			sub("start", "Start a voice session in your voice channel"),
			sub("stop", "End the voice session"),
			sub("transcript", "Show the conversation so far"),
			sub("status", "Show the session status"),
		},
	}
}

func (c *SessionCommands) handleStart(r Responder, i *discordgo.InteractionCreate) {
	if !c.perms.Allowed(i) {
		RespondEphemeral(r, i, "You are not allowed to start sessions.")
		return
	}
	channelID := c.locate(i.GuildID, userID(i))
	if channelID == "" {
		channelID = c.fallback
	}
	if channelID == "" {
		RespondEphemeral(r, i, "Join a voice channel first.")
		return
	}

	DeferReply(r, i)
	ctx, cancel := context.WithTimeout(context.Background(), c.startTimeout)
	defer cancel()

	err := c.sessions.StartOn(ctx, c.devices(channelID))
	switch {
	case err == nil:
		FollowUp(r, i, fmt.Sprintf("Session started in <#%s>.", channelID))
	case errors.Is(err, app.ErrSessionActive):
		FollowUp(r, i, "A session is already running.")
	default:
		FollowUp(r, i, fmt.Sprintf("Could not start the session: %v", err))
	}
}

func (c *SessionCommands) handleStop(r Responder, i *discordgo.InteractionCreate) {
	if !c.perms.Allowed(i) {
		RespondEphemeral(r, i, "You are not allowed to stop sessions.")
		return
	}
	if err := c.sessions.Stop(); err != nil {
		RespondError(r, i, err)
		return
	}
	RespondEphemeral(r, i, "Session ended.")
}

func (c *SessionCommands) handleTranscript(r Responder, i *discordgo.InteractionCreate) {
	st := c.sessions.Status()
	if len(st.History) == 0 && st.PendingClient == "" && st.PendingAssistant == "" {
		RespondEphemeral(r, i, "Nothing has been said yet.")
		return
	}
	RespondEphemeral(r, i, formatTranscript(st))
}

func (c *SessionCommands) handleStatus(r Responder, i *discordgo.InteractionCreate) {
	RespondEmbed(r, i, statusEmbed(c.sessions.Status()))
}

func userID(i *discordgo.InteractionCreate) string {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID
	case i.User != nil:
		return i.User.ID
	}
	return ""
}

// formatTranscript renders the history followed by the turn in progress.
// Only the most recent lines that fit one message are kept.
func formatTranscript(st app.Status) string {
	lines := make([]string, 0, len(st.History)+2)
	for _, e := range st.History {
		lines = append(lines, formatLine(e.Role, e.Text, false))
	}
	if st.PendingClient != "" {
		lines = append(lines, formatLine(transcript.RoleClient, st.PendingClient, true))
	}
	if st.PendingAssistant != "" {
		lines = append(lines, formatLine(transcript.RoleAssistant, st.PendingAssistant, true))
	}

	size := 0
	start := len(lines)
	for start > 0 {
		n := len(lines[start-1]) + 1
		if size+n > maxMessageLen {
			break
		}
		size += n
		start--
	}
	if start == len(lines) {
		return tail(lines[len(lines)-1], maxMessageLen)
	}
	return strings.Join(lines[start:], "\n")
}

// tail returns the last n bytes of s without splitting a rune.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}

func formatLine(role transcript.Role, text string, pending bool) string {
	who := "You"
	if role == transcript.RoleAssistant {
		who = "MindBridge"
	}
	if pending {
		return fmt.Sprintf("**%s**: _%s…_", who, text)
	}
	return fmt.Sprintf("**%s**: %s", who, text)
}
