package model

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/LeventeLantos/dispatch-engine/internal/apperror"
)

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"+36 (30) 123-4567", "+36301234567"},
		{"  0036 30 123 4567 ", "0036301234567"},
		{"36+30", "3630"},
		{"abc", ""},
		{"+", ""},
		{"", ""},
	}

	for _, tc := range cases {
		if got := NormalizePhone(tc.in); got != tc.want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFileMeta_Size(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 2, 3, 10, 1024} {
		raw := make([]byte, n)
		f := FileMeta{Base64: base64.StdEncoding.EncodeToString(raw)}
		if got := f.Size(); got != int64(n) {
			t.Fatalf("Size() for %d bytes = %d", n, got)
		}
	}
}

func TestFileMeta_Watermarkable(t *testing.T) {
	t.Parallel()

	if !(FileMeta{MimeType: "application/pdf"}).Watermarkable() {
		t.Fatalf("expected pdf to be watermarkable")
	}
	if !(FileMeta{MimeType: "image/png"}).Watermarkable() {
		t.Fatalf("expected png to be watermarkable")
	}
	if (FileMeta{MimeType: "text/csv"}).Watermarkable() {
		t.Fatalf("expected csv not to be watermarkable")
	}
}

func TestJob_Validate(t *testing.T) {
	t.Parallel()

	ok := Job{Time: "09:05", Recipients: []Recipient{{Phone: "+361"}}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []Job{
		{Time: "25:00", Recipients: []Recipient{{Phone: "+361"}}},
		{Time: "10:00"},
		{Time: "10:00", Recipients: []Recipient{{Name: "no phone"}}},
		{Time: "10:00", Recipients: []Recipient{{Phone: "1"}}, SchemaVersion: 9},
	}
	for i, j := range cases {
		err := j.Validate()
		var ve apperror.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("case %d: expected ValidationError, got %v", i, err)
		}
	}
}

func TestJob_MinuteOfDay(t *testing.T) {
	t.Parallel()

	m, err := Job{Time: "10:29"}.MinuteOfDay()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != 629 {
		t.Fatalf("expected 629, got %d", m)
	}

	if _, err := (Job{Time: "nope"}).MinuteOfDay(); err == nil {
		t.Fatalf("expected error for invalid time")
	}
}

func TestContact_Validate(t *testing.T) {
	t.Parallel()

	if err := (Contact{Phone: "+1", EndDate: "2026-01-31"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Contact{Phone: "+1", EndDate: "31/01/2026"}).Validate(); err == nil {
		t.Fatalf("expected error for bad date")
	}
	if err := (Contact{}).Validate(); err == nil {
		t.Fatalf("expected error for missing phone")
	}
}
