// Package mock records what the Discord command handlers send.
package mock

import (
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// InteractionResponder is an in-memory discord.Responder.
type InteractionResponder struct {
	// Err fails every call when set. Calls are still recorded.
	Err error

	mu        sync.Mutex
	responses []*discordgo.InteractionResponse
	followUps []*discordgo.WebhookParams
}

func (m *InteractionResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	m.responses = append(m.responses, resp)
	m.mu.Unlock()
	return m.Err
}

func (m *InteractionResponder) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, params *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	m.followUps = append(m.followUps, params)
	m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "followup"}, nil
}

// Responses returns the initial interaction responses in send order.
func (m *InteractionResponder) Responses() []*discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.responses)
}

// LastResponse is nil when nothing was sent.
func (m *InteractionResponder) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return last(m.responses)
}

// LastFollowUp is nil when nothing was sent.
func (m *InteractionResponder) LastFollowUp() *discordgo.WebhookParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return last(m.followUps)
}

func last[T any](s []*T) *T {
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}
