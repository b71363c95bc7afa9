package parser

import "testing"

func TestNormalizeColumnName_IgnoresPunctuationAndCase(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"SF Number", "sf-number", " SF_Number: ", "SF\nNumber"} {
		if got := NormalizeColumnName(in); got != "sfnumber" {
			t.Fatalf("NormalizeColumnName(%q)=%q, want %q", in, got, "sfnumber")
		}
	}
}

func TestWordForm_KeepsAmpersandWords(t *testing.T) {
	t.Parallel()

	if got := WordForm("T&E"); got != "te" {
		t.Fatalf("WordForm(T&E)=%q", got)
	}
	if got := WordForm("Ceiling Value ($)"); got != "ceiling value" {
		t.Fatalf("WordForm=%q, want %q", got, "ceiling value")
	}
	if got := WordForm("GovWin IQ  Opportunity-ID"); got != "govwin iq opportunity id" {
		t.Fatalf("WordForm=%q", got)
	}
}

func TestContainsWord_WholeWordsOnly(t *testing.T) {
	t.Parallel()

	if !ContainsWord("total contract ceiling value", "ceiling value") {
		t.Fatalf("expected whole-word hit")
	}
	if ContainsWord("ceilingvalue", "ceiling value") {
		t.Fatalf("unexpected hit without word boundary")
	}
	if ContainsWord("stages", "stage") {
		t.Fatalf("unexpected partial-word hit")
	}
}

func TestCleanHeader(t *testing.T) {
	t.Parallel()

	if got := CleanHeader("  Anticipated\nRFP   Date\t"); got != "Anticipated RFP Date" {
		t.Fatalf("CleanHeader=%q", got)
	}
}
