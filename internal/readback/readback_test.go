package readback

import (
	"testing"

	"github.com/ppiankov/callguard/internal/model"
)

func TestDeriveIsShortDeterministicPrefix(t *testing.T) {
	cases := map[string]string{
		"abcdef12-3456-7890": "por-abcdef12",
		"ABCDEF1234":         "por-abcdef12",
		"t1":                 "por-t1",
		"---":                "",
		"":                   "",
	}
	for in, want := range cases {
		if got := Derive(in); got != want {
			t.Errorf("Derive(%q) = %q, want %q", in, got, want)
		}
	}
	if Derive("task-42") != Derive("task-42") {
		t.Error("derive must be deterministic")
	}
}

func TestMatches(t *testing.T) {
	if !Matches("abcdef12-xyz", "por-abcdef12") {
		t.Error("expected match")
	}
	if Matches("---", "") {
		t.Error("empty derived token must never match")
	}
}

func TestValidateNoTokenPasses(t *testing.T) {
	s := &model.CapabilitySession{TaskID: "t1"}
	if v := Validate(model.ToolCall{}, s); len(v) != 0 {
		t.Errorf("expected pass, got %v", v)
	}
}

func TestValidateMismatchFails(t *testing.T) {
	s := &model.CapabilitySession{TaskID: "t1", PorToken: model.Token("por-abcdef12")}
	call := model.ToolCall{ToolID: model.IntID(1), PorToken: model.Token("por-xxxxxxx")}

	v := Validate(call, s)
	if len(v) != 1 || v[0].Kind != model.KindMissingPoR {
		t.Fatalf("expected MISSING_POR, got %v", v)
	}
	if v[0].Detail["reason"] != "mismatch" {
		t.Errorf("expected reason=mismatch, got %v", v[0].Detail)
	}
}

func TestValidateAbsentFails(t *testing.T) {
	s := &model.CapabilitySession{TaskID: "t1", PorToken: model.Token("por-t1")}
	v := Validate(model.ToolCall{ToolID: model.IntID(1)}, s)
	if len(v) != 1 || v[0].Detail["reason"] != "absent" {
		t.Fatalf("expected absent MISSING_POR, got %v", v)
	}
}

func TestValidateEmptyStringIsNotUnset(t *testing.T) {
	s := &model.CapabilitySession{TaskID: "t1", PorToken: model.Token("")}
	if v := Validate(model.ToolCall{}, s); len(v) != 1 {
		t.Errorf("session with empty token set must still require an echo, got %v", v)
	}
	if v := Validate(model.ToolCall{PorToken: model.Token("")}, s); len(v) != 0 {
		t.Errorf("matching empty token must pass, got %v", v)
	}
}

func TestValidateMatchPasses(t *testing.T) {
	s := &model.CapabilitySession{TaskID: "t1", PorToken: model.Token("por-test123")}
	if v := Validate(model.ToolCall{PorToken: model.Token("por-test123")}, s); len(v) != 0 {
		t.Errorf("expected pass, got %v", v)
	}
}

func TestAcknowledge(t *testing.T) {
	s := &model.CapabilitySession{TaskID: "t1", PorToken: model.Token("por-t1")}

	status, v := Acknowledge(s, "  por-t1 ")
	if !status.OK || len(v) != 0 {
		t.Errorf("expected ok ack, got %+v %v", status, v)
	}

	status, v = Acknowledge(s, "por-zz")
	if status.OK || len(v) != 1 || v[0].Kind != model.KindPoRMismatch {
		t.Errorf("expected por.mismatch, got %+v %v", status, v)
	}
	if s.PorStatus.OK {
		t.Error("acknowledge must not mutate the session")
	}
}
