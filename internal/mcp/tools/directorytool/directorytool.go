// Package directorytool exposes the specialist directory to the assistant as
// three built-in tools:
//   - "getPsychologistAvailability" returns every specialist's slots and profile.
//   - "showSpecialistProfile" surfaces one specialist's profile card.
//   - "requestHumanReferral" records an intake request and returns a
//     confirmation code.
//
// Showing a profile and recording a referral are visible to the application
// through the callbacks set with [WithProfileFunc] and [WithReferralFunc].
package directorytool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/mindbridge/internal/directory"
	"github.com/MrWong99/mindbridge/internal/mcp/tools"
	"github.com/MrWong99/mindbridge/pkg/provider/live"
)

// Tool names as declared to the model.
const (
	AvailabilityTool = "getPsychologistAvailability"
	ProfileTool      = "showSpecialistProfile"
	ReferralTool     = "requestHumanReferral"
)

const (
	profileShown    = "Profile popup triggered near agent."
	profileNotFound = "Profile not found."
)

// Option configures the handlers returned by [Tools].
type Option func(*handlers)

// WithProfileFunc sets the callback run after a profile was found for
// "showSpecialistProfile".
func WithProfileFunc(fn func(directory.Profile)) Option {
	return func(h *handlers) { h.onProfile = fn }
}

// WithReferralFunc sets the callback run after a referral was recorded.
func WithReferralFunc(fn func(directory.Record)) Option {
	return func(h *handlers) { h.onReferral = fn }
}

type handlers struct {
	dir        *directory.Directory
	store      directory.ReferralStore
	onProfile  func(directory.Profile)
	onReferral func(directory.Record)
}

// Tools returns the directory tools backed by dir and store.
func Tools(dir *directory.Directory, store directory.ReferralStore, opts ...Option) []tools.Tool {
	h := &handlers{dir: dir, store: store}
	for _, o := range opts {
		o(h)
	}

	referralProps := map[string]any{}
	for _, f := range referralFields {
		referralProps[f] = map[string]any{"type": "string"}
	}

	return []tools.Tool{
		{
			Definition: live.ToolDefinition{
				Name:        AvailabilityTool,
				Description: "Check available dates and times for human psychologists.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
			Handler: h.availability,
			Timeout: 2 * time.Second,
		},
		{
			Definition: live.ToolDefinition{
				Name:        ProfileTool,
				Description: "Displays a visual pop-up card for a specific specialist.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"specialistName": map[string]any{
							"type":        "string",
							"description": "The full name of the psychologist to display.",
						},
					},
					"required": []string{"specialistName"},
				},
			},
			Handler: h.showProfile,
			Timeout: 2 * time.Second,
		},
		{
			Definition: live.ToolDefinition{
				Name:        ReferralTool,
				Description: "Call this ONLY when a user explicitly asks for a human psychologist or referral.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": referralProps,
					"required":   referralFields,
				},
			},
			Handler: h.referral,
			Timeout: 5 * time.Second,
		},
	}
}

var referralFields = []string{
	"userName", "location", "concern", "specialistType",
	"preferredPsychologist", "appointmentDate", "appointmentTime",
}

func (h *handlers) availability(_ context.Context, _ string) (string, error) {
	return marshal(map[string]any{"result": h.dir.Availability()})
}

type profileArgs struct {
	SpecialistName string `json:"specialistName"`
}

func (h *handlers) showProfile(_ context.Context, args string) (string, error) {
	var a profileArgs
	if err := decodeArgs(args, &a); err != nil {
		return "", err
	}
	if strings.TrimSpace(a.SpecialistName) == "" {
		return "", errors.New("specialistName is required")
	}

	p, ok := h.dir.Lookup(a.SpecialistName)
	if !ok {
		return marshal(map[string]any{"result": profileNotFound})
	}
	if h.onProfile != nil {
		h.onProfile(p)
	}
	return marshal(map[string]any{"result": profileShown})
}

func (h *handlers) referral(ctx context.Context, args string) (string, error) {
	var r directory.Referral
	if err := decodeArgs(args, &r); err != nil {
		return "", err
	}
	c, err := h.store.Record(ctx, r)
	if err != nil {
		return "", err
	}
	if h.onReferral != nil {
		h.onReferral(directory.Record{Referral: r, Confirmation: c})
	}
	return marshal(map[string]any{"status": "success", "confirmationCode": c.Code})
}

func decodeArgs(args string, v any) error {
	if strings.TrimSpace(args) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(args), v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}
