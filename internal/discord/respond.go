package discord

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Responder answers interactions. *discordgo.Session satisfies it.
type Responder interface {
	InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(i *discordgo.Interaction, wait bool, params *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ Responder = (*discordgo.Session)(nil)

// Every reply MindBridge sends is only visible to the invoking member.
func reply(r Responder, i *discordgo.InteractionCreate, kind discordgo.InteractionResponseType, data discordgo.InteractionResponseData) {
	data.Flags |= discordgo.MessageFlagsEphemeral
	if err := r.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{Type: kind, Data: &data}); err != nil {
		slog.Warn("discord: reply failed", "interaction", i.ID, "type", kind, "err", err)
	}
}

// RespondEphemeral answers i with a private text message.
func RespondEphemeral(r Responder, i *discordgo.InteractionCreate, content string) {
	reply(r, i, discordgo.InteractionResponseChannelMessageWithSource, discordgo.InteractionResponseData{Content: content})
}

// RespondEmbed answers i with a private embed.
func RespondEmbed(r Responder, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	reply(r, i, discordgo.InteractionResponseChannelMessageWithSource, discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{embed},
	})
}

func RespondError(r Responder, i *discordgo.InteractionCreate, err error) {
	RespondEphemeral(r, i, fmt.Sprintf("Error: %v", err))
}

// DeferReply acknowledges i within Discord's three second window. The
// answer is sent later with [FollowUp].
func DeferReply(r Responder, i *discordgo.InteractionCreate) {
	reply(r, i, discordgo.InteractionResponseDeferredChannelMessageWithSource, discordgo.InteractionResponseData{})
}

func FollowUp(r Responder, i *discordgo.InteractionCreate, content string) {
	params := &discordgo.WebhookParams{Content: content, Flags: discordgo.MessageFlagsEphemeral}
	if _, err := r.FollowupMessageCreate(i.Interaction, true, params); err != nil {
		slog.Warn("discord: follow-up failed", "interaction", i.ID, "err", err)
	}
}
