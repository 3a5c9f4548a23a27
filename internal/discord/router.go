package discord

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc answers one slash command interaction.
type HandlerFunc func(r Responder, i *discordgo.InteractionCreate)

// CommandRouter maps "command" and "command/subcommand" keys to handlers.
type CommandRouter struct {
	mu       sync.RWMutex
	defs     []*discordgo.ApplicationCommand
	handlers map[string]HandlerFunc
}

func NewCommandRouter() *CommandRouter {
	return &CommandRouter{handlers: make(map[string]HandlerFunc)}
}

// RegisterCommand adds the top-level definition cmd and routes key to h.
// A definition with an already registered name replaces the earlier one.
func (r *CommandRouter) RegisterCommand(key string, cmd *discordgo.ApplicationCommand, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = slices.DeleteFunc(r.defs, func(d *discordgo.ApplicationCommand) bool { return d.Name == cmd.Name })
	r.defs = append(r.defs, cmd)
	r.handlers[key] = h
}

// RegisterHandler routes key to h. The parent command must be registered
// with [CommandRouter.RegisterCommand].
func (r *CommandRouter) RegisterHandler(key string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key] = h
}

// ApplicationCommands returns the definitions to upload, one per name.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.defs)
}

// Handle runs the handler for an application command interaction.
// Components, autocomplete and modals are dropped.
func (r *CommandRouter) Handle(resp Responder, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		slog.Debug("discord: ignoring interaction", "type", i.Type)
		return
	}
	key := interactionKey(i.ApplicationCommandData())

	r.mu.RLock()
	h := r.handlers[key]
	r.mu.RUnlock()

	if h == nil {
		slog.Warn("discord: no handler", "key", key)
		RespondEphemeral(resp, i, "Unknown command.")
		return
	}
	h(resp, i)
}

func interactionKey(data discordgo.ApplicationCommandInteractionData) string {
	if len(data.Options) == 0 || data.Options[0].Type != discordgo.ApplicationCommandOptionSubCommand {
		return data.Name
	}
	return data.Name + "/" + data.Options[0].Name
}
