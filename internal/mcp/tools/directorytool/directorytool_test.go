package directorytool_test

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"testing"

	"github.com/MrWong99/mindbridge/internal/directory"
	"github.com/MrWong99/mindbridge/internal/mcp/tools"
	"github.com/MrWong99/mindbridge/internal/mcp/tools/directorytool"
)

func toolByName(t *testing.T, ts []tools.Tool, name string) tools.Tool {
	t.Helper()
	for _, tool := range ts {
		if tool.Definition.Name == name {
			return tool
		}
	}
	t.Fatalf("tool %q not found", name)
	return tools.Tool{}
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("output %q is not a JSON object: %v", s, err)
	}
	return m
}

func TestTools_Declarations(t *testing.T) {
	t.Parallel()

	ts := directorytool.Tools(directory.Default(), directory.NewMemStore())
	if len(ts) != 3 {
		t.Fatalf("len(Tools) = %d; want 3", len(ts))
	}
	ref := toolByName(t, ts, directorytool.ReferralTool)
	required, _ := ref.Definition.Parameters["required"].([]string)
	if len(required) != 7 {
		t.Errorf("referral required fields = %v; want 7", required)
	}
	prof := toolByName(t, ts, directorytool.ProfileTool)
	if req, _ := prof.Definition.Parameters["required"].([]string); len(req) != 1 || req[0] != "specialistName" {
		t.Errorf("profile required = %v; want [specialistName]", req)
	}
	for _, tool := range ts {
		if tool.Timeout <= 0 {
			t.Errorf("%s timeout = %v; want positive", tool.Definition.Name, tool.Timeout)
		}
	}
}

func TestAvailability(t *testing.T) {
	t.Parallel()

	ts := directorytool.Tools(directory.Default(), directory.NewMemStore())
	out, err := toolByName(t, ts, directorytool.AvailabilityTool).Handler(context.Background(), "{}")
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}

	var got struct {
		Result directory.Availability `json:"result"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Result.Availability) != 4 || len(got.Result.Profiles) != 4 {
		t.Errorf("result has %d availability and %d profile entries; want 4 and 4",
			len(got.Result.Availability), len(got.Result.Profiles))
	}
	if slots := got.Result.Availability["Elena Rodriguez"]; len(slots) != 2 || slots[1].ID != "e2" {
		t.Errorf("Elena Rodriguez slots = %v; want e1, e2", slots)
	}
}

func TestShowProfile(t *testing.T) {
	t.Parallel()

	var shown []directory.Profile
	ts := directorytool.Tools(directory.Default(), directory.NewMemStore(),
		directorytool.WithProfileFunc(func(p directory.Profile) { shown = append(shown, p) }))
	handler := toolByName(t, ts, directorytool.ProfileTool).Handler
	ctx := context.Background()

	out, err := handler(ctx, `{"specialistName":"doctor sarah chen"}`)
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if got := decode(t, out)["result"]; got != "Profile popup triggered near agent." {
		t.Errorf("result = %v; want popup message", got)
	}
	if len(shown) != 1 || shown[0].Name != "Dr. Sarah Chen" {
		t.Errorf("shown = %v; want Dr. Sarah Chen", shown)
	}

	out, err = handler(ctx, `{"specialistName":"zyx"}`)
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if got := decode(t, out)["result"]; got != "Profile not found." {
		t.Errorf("result = %v; want not found", got)
	}
	if len(shown) != 1 {
		t.Errorf("callback ran for an unknown name")
	}

	if _, err := handler(ctx, `{}`); err == nil {
		t.Error("Handler({}) error = nil; want missing name error")
	}
	if _, err := handler(ctx, `not json`); err == nil {
		t.Error("Handler(not json) error = nil; want error")
	}
}

func TestReferral(t *testing.T) {
	t.Parallel()

	store := directory.NewMemStore()
	var recorded []directory.Record
	ts := directorytool.Tools(directory.Default(), store,
		directorytool.WithReferralFunc(func(r directory.Record) { recorded = append(recorded, r) }))
	handler := toolByName(t, ts, directorytool.ReferralTool).Handler
	ctx := context.Background()

	args := `{"userName":"Sana","location":"Islamabad","concern":"Grief","specialistType":"Trauma",` +
		`"preferredPsychologist":"Mark Thompson","appointmentDate":"2026-02-10","appointmentTime":"04:00 PM"}`
	out, err := handler(ctx, args)
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	m := decode(t, out)
	if m["status"] != "success" {
		t.Errorf("status = %v; want success", m["status"])
	}
	code, _ := m["confirmationCode"].(string)
	if !regexp.MustCompile(`^MB-\d{4}$`).MatchString(code) {
		t.Errorf("confirmationCode = %q; want MB-NNNN", code)
	}
	if len(recorded) != 1 || recorded[0].UserName != "Sana" || recorded[0].Code != code {
		t.Errorf("recorded = %+v; want Sana with code %s", recorded, code)
	}

	recs, _ := store.List(ctx)
	if len(recs) != 1 {
		t.Errorf("store has %d records; want 1", len(recs))
	}

	_, err = handler(ctx, `{"userName":"Sana"}`)
	if err == nil || !strings.Contains(err.Error(), "location") {
		t.Errorf("Handler(incomplete) error = %v; want validation error naming location", err)
	}
	if len(recorded) != 1 {
		t.Error("callback ran for an invalid referral")
	}
}
