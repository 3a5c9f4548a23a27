package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/mindbridge/internal/app"
)

const (
	colorActive     = 0x2ECC71
	colorConnecting = 0xF1C40F
	colorIdle       = 0xE74C3C
)

// statusEmbed renders the session status card.
func statusEmbed(st app.Status) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:     "MindBridge session",
		Color:     colorIdle,
		Timestamp: time.Now().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "State", Value: st.State, Inline: true},
		},
	}
	switch st.State {
	case "active":
		e.Color = colorActive
	case "connecting":
		e.Color = colorConnecting
	}

	if st.Devices != "" {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Channel", Value: "<#" + st.Devices + ">", Inline: true})
	}
	if st.StartedAt != nil && st.State != "idle" {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:   "Uptime",
			Value:  time.Since(*st.StartedAt).Truncate(time.Second).String(),
			Inline: true,
		})
	}
	if st.State == "active" {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:   "Input level",
			Value:  fmt.Sprintf("%.0f%%", st.InputLevel*100),
			Inline: true,
		})
	}
	e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
		Name:   "Turns",
		Value:  fmt.Sprintf("%d", len(st.History)),
		Inline: true,
	})
	if st.Profile != nil {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Specialist", Value: st.Profile.Name})
	}
	for _, r := range st.Referrals {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:  "Referral " + r.Code,
			Value: fmt.Sprintf("%s on %s at %s", r.PreferredPsychologist, r.AppointmentDate, r.AppointmentTime),
		})
	}
	if st.LastError != "" {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: "Last error", Value: st.LastError})
	}
	return e
}
