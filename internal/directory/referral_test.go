package directory_test

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/mindbridge/internal/directory"
)

var codePattern = regexp.MustCompile(`^MB-(\d{4})$`)

func validReferral() directory.Referral {
	return directory.Referral{
		UserName:              "Ayesha",
		Location:              "Lahore",
		Concern:               "Panic attacks before exams",
		SpecialistType:        "CBT",
		PreferredPsychologist: "Dr. Sarah Chen",
		AppointmentDate:       "2026-01-15",
		AppointmentTime:       "09:00 AM",
	}
}

func TestNewConfirmationCode(t *testing.T) {
	t.Parallel()

	for range 500 {
		code := directory.NewConfirmationCode()
		m := codePattern.FindStringSubmatch(code)
		if m == nil {
			t.Fatalf("NewConfirmationCode() = %q; want MB-NNNN", code)
		}
		n, _ := strconv.Atoi(m[1])
		if n < 1000 || n > 9999 {
			t.Fatalf("NewConfirmationCode() = %q; want number in [1000, 9999]", code)
		}
	}
}

func TestReferral_Validate(t *testing.T) {
	t.Parallel()

	if err := validReferral().Validate(); err != nil {
		t.Fatalf("Validate() = %v; want nil", err)
	}

	r := validReferral()
	r.Location = " "
	r.AppointmentTime = ""
	err := r.Validate()
	if err == nil {
		t.Fatal("Validate() = nil; want error")
	}
	for _, field := range []string{"location", "appointmentTime"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("Validate() = %v; want it to mention %s", err, field)
		}
	}
	if strings.Contains(err.Error(), "userName") {
		t.Errorf("Validate() = %v; should not mention userName", err)
	}
}

func TestMemStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := directory.NewMemStore()

	c, err := s.Record(ctx, validReferral())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !codePattern.MatchString(c.Code) {
		t.Errorf("Code = %q; want MB-NNNN", c.Code)
	}
	if c.ID == "" || c.RecordedAt.IsZero() {
		t.Errorf("Confirmation = %+v; want id and timestamp", c)
	}

	if _, err := s.Record(ctx, directory.Referral{}); err == nil {
		t.Error("Record(empty) error = nil; want validation error")
	}

	recs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("len(List) = %d; want 1", len(recs))
	}
	if recs[0].ID != c.ID || recs[0].UserName != "Ayesha" {
		t.Errorf("List()[0] = %+v; want recorded referral", recs[0])
	}
}

func TestMemStore_Concurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := directory.NewMemStore()
	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			if _, err := s.Record(ctx, validReferral()); err != nil {
				t.Errorf("Record: %v", err)
			}
		})
	}
	wg.Wait()

	recs, _ := s.List(ctx)
	ids := make(map[string]bool)
	for _, r := range recs {
		ids[r.ID] = true
	}
	if len(recs) != 20 || len(ids) != 20 {
		t.Errorf("got %d records with %d distinct ids; want 20 and 20", len(recs), len(ids))
	}
}
