package main

import "testing"

func TestResolveDirectiveAbbreviation(t *testing.T) {
	name, err := resolveDirective("top")
	if err != nil || name != "topic" {
		t.Fatalf("expected topic, got %q err=%v", name, err)
	}
	if _, err := resolveDirective("i"); err == nil {
		t.Fatalf("expected ambiguous error for 'i' (interval vs iddelim vs intids)")
	}
	if _, err := resolveDirective("bogus"); err == nil {
		t.Fatalf("expected unrecognized error for 'bogus'")
	}
}

func TestApplyDirectiveSuccessFail(t *testing.T) {
	ctrl := control{success: true}
	if err := applyDirective(&ctrl, "fail"); err != nil {
		t.Fatal(err)
	}
	if ctrl.success {
		t.Fatalf("expected success=false after bare fail directive")
	}
	if err := applyDirective(&ctrl, "fail false"); err != nil {
		t.Fatal(err)
	}
	if !ctrl.success {
		t.Fatalf("expected success=true after 'fail false' directive")
	}
	if err := applyDirective(&ctrl, "success"); err != nil {
		t.Fatal(err)
	}
	if !ctrl.success {
		t.Fatalf("expected success=true after bare success directive")
	}
}

func TestApplyDirectiveTopicAndIntids(t *testing.T) {
	ctrl := control{topic: "data:ready", eqdelim: "="}
	if err := applyDirective(&ctrl, "topic other:topic"); err != nil {
		t.Fatal(err)
	}
	if ctrl.topic != "other:topic" {
		t.Fatalf("expected topic updated, got %q", ctrl.topic)
	}
	if err := applyDirective(&ctrl, "intids visit ccd"); err != nil {
		t.Fatal(err)
	}
	if len(ctrl.intIDs) != 2 || ctrl.intIDs[0] != "visit" || ctrl.intIDs[1] != "ccd" {
		t.Fatalf("expected intIDs [visit ccd], got %v", ctrl.intIDs)
	}
}

func TestApplyDirectiveRejectsFormatWithArgs(t *testing.T) {
	ctrl := control{}
	if err := applyDirective(&ctrl, "format %(visit)d"); err == nil {
		t.Fatalf("expected format directive with args to be rejected")
	}
}

func TestParseDatasetLineDefaultGrammar(t *testing.T) {
	ctrl := control{eqdelim: "=", intIDs: []string{"visit", "ccd"}}
	ds, err := parseDatasetLine(ctrl, "PostISR visit=8193 ccd=22 snap=0")
	if err != nil {
		t.Fatal(err)
	}
	if ds.Type != "PostISR" {
		t.Fatalf("expected type PostISR, got %q", ds.Type)
	}
	if ds.Ids["visit"] != 8193 {
		t.Fatalf("expected visit parsed as int 8193, got %v (%T)", ds.Ids["visit"], ds.Ids["visit"])
	}
	if ds.Ids["snap"] != "0" {
		t.Fatalf("expected snap to remain a string, got %v (%T)", ds.Ids["snap"], ds.Ids["snap"])
	}
}

func TestParseDatasetLineRejectsMultipleTypes(t *testing.T) {
	ctrl := control{eqdelim: "="}
	if _, err := parseDatasetLine(ctrl, "PostISR OtherType visit=8193"); err == nil {
		t.Fatalf("expected error for multiple dataset type tokens")
	}
}

func TestParseDatasetLineCustomIddelim(t *testing.T) {
	ctrl := control{eqdelim: "=", iddelim: ","}
	ds, err := parseDatasetLine(ctrl, "PostISR,visit=8193,ccd=22")
	if err != nil {
		t.Fatal(err)
	}
	if ds.Type != "PostISR" || ds.Ids["visit"] != "8193" {
		t.Fatalf("unexpected dataset: %+v", ds)
	}
}
