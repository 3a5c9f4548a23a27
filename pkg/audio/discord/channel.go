// Package discord lets a Discord voice channel act as the microphone and the
// speaker of a voice session.
//
// A [Channel] joins the voice channel when the first of its devices is
// opened and leaves when the last one is closed. [Microphone] decodes the
// Opus packets of the channel into PCM frames; [Speaker] is a software mixer
// whose output is Opus-encoded and sent to the channel.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// voiceConn is the part of a discordgo voice connection the devices use.
type voiceConn interface {
	Recv() <-chan *discordgo.Packet
	Send() chan<- []byte
	Speaking(bool) error
	Disconnect() error
}

type discordConn struct {
	vc *discordgo.VoiceConnection
}

func (c discordConn) Recv() <-chan *discordgo.Packet { return c.vc.OpusRecv }
func (c discordConn) Send() chan<- []byte            { return c.vc.OpusSend }
func (c discordConn) Speaking(b bool) error          { return c.vc.Speaking(b) }
func (c discordConn) Disconnect() error              { return c.vc.Disconnect() }

// Channel is one guild voice channel shared by a [Microphone] and a
// [Speaker]. It is safe for concurrent use.
type Channel struct {
	guildID   string
	channelID string
	join      func(ctx context.Context) (voiceConn, error)

	mu   sync.Mutex
	conn voiceConn
	refs int
}

// NewChannel returns a Channel for channelID in guildID. Nothing is joined
// until a device is opened.
func NewChannel(s *discordgo.Session, guildID, channelID string) *Channel {
	c := &Channel{guildID: guildID, channelID: channelID}
	c.join = func(context.Context) (voiceConn, error) {
		// mute=false, deaf=false: the session both listens and speaks.
		vc, err := s.ChannelVoiceJoin(guildID, channelID, false, false)
		if err != nil {
			return nil, err
		}
		return discordConn{vc: vc}, nil
	}
	return c
}

// ChannelID returns the voice channel ID.
func (c *Channel) ChannelID() string { return c.channelID }

// Microphone returns the channel's input device.
func (c *Channel) Microphone() *Microphone { return &Microphone{ch: c, now: time.Now} }

// Speaker returns the channel's output device.
func (c *Channel) Speaker(opts ...SpeakerOption) *Speaker {
	s := &Speaker{ch: c}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (c *Channel) acquire(ctx context.Context) (voiceConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := c.join(ctx)
		if err != nil {
			return nil, fmt.Errorf("discord: join voice channel %q: %w", c.channelID, err)
		}
		slog.Info("discord: joined voice channel", "guild_id", c.guildID, "channel_id", c.channelID)
		c.conn = conn
	}
	c.refs++
	return c.conn, nil
}

func (c *Channel) release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs == 0 {
		return nil
	}
	c.refs--
	if c.refs > 0 {
		return nil
	}
	conn := c.conn
	c.conn = nil
	slog.Info("discord: leaving voice channel", "guild_id", c.guildID, "channel_id", c.channelID)
	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("discord: leave voice channel %q: %w", c.channelID, err)
	}
	return nil
}
