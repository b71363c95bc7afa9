package protocol

import "testing"

func TestParseCommand(t *testing.T) {
	cases := []struct {
		subject string
		want    Command
	}{
		{"Adjust Columns", CommandAdjustColumns},
		{"  adjust   columns ", CommandAdjustColumns},
		{"RE: Change Format", CommandAdjustColumns},
		{"Fwd: Re: adjust format", CommandAdjustColumns},
		{"Here", CommandHere},
		{"Re: HERE", CommandHere},
		{"here!", CommandHere},
		{"Help", CommandHelp},
		{"Weekly pipeline export", CommandNone},
		{"Here is the file", CommandNone},
		{"", CommandNone},
	}
	for _, tc := range cases {
		if got := ParseCommand(tc.subject); got != tc.want {
			t.Fatalf("ParseCommand(%q) = %q, want %q", tc.subject, got, tc.want)
		}
	}
}

func TestCleanSubject(t *testing.T) {
	if got := CleanSubject("Re: Fwd:  Pipeline   Report "); got != "Pipeline Report" {
		t.Fatalf("unexpected subject %q", got)
	}
}

func TestAllowList(t *testing.T) {
	a := NewAllowList([]string{"Alice@Example.com", " ", "Bob <bob@example.com>"})
	if a.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", a.Len())
	}
	for _, from := range []string{"alice@example.com", "\"Alice A.\" <ALICE@example.com>", "bob@example.com"} {
		if !a.Allowed(from) {
			t.Fatalf("expected %q allowed", from)
		}
	}
	if a.Allowed("eve@example.com") || a.Allowed("") {
		t.Fatalf("unexpected allow")
	}
	var nilList *AllowList
	if nilList.Allowed("alice@example.com") {
		t.Fatalf("nil list must deny")
	}
}
