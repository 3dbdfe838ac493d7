package channel

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func runCLI(t *testing.T, ft *fakeTwin, input string) string {
	t.Helper()
	var out bytes.Buffer
	c := NewCLI(CLIConfig{Twin: ft, Logger: testLogger(), In: strings.NewReader(input), Out: &out, Enhanced: true})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return out.String()
}

func TestCLI_AskPrintsAnswerAndSources(t *testing.T) {
	ft := &fakeTwin{}
	out := runCLI(t, ft, "What do you build?\n/quit\n")
	if !strings.Contains(out, "I build Go services.") || !strings.Contains(out, "Backend Skills (skills, 0.87)") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if len(ft.requests) != 1 || !ft.requests[0].Enhanced {
		t.Fatalf("unexpected requests %+v", ft.requests)
	}
}

func TestCLI_TypeSwitchesSession(t *testing.T) {
	ft := &fakeTwin{}
	out := runCLI(t, ft, "/type executive\nfirst\nsecond\n/type none\nthird\n")
	if len(ft.requests) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(ft.requests))
	}
	if ft.requests[0].InterviewType != "executive" || ft.requests[1].InterviewType != "executive" {
		t.Fatalf("type should persist across questions: %+v", ft.requests)
	}
	if ft.requests[2].InterviewType != "" {
		t.Fatal("/type none should clear the type")
	}
	if !strings.Contains(out, "You [executive]> ") {
		t.Fatalf("prompt should show the type:\n%s", out)
	}
}

func TestCLI_UnknownType(t *testing.T) {
	ft := &fakeTwin{}
	out := runCLI(t, ft, "/type pirate\nq\n")
	if !strings.Contains(out, `Unknown interview type "pirate"`) {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if ft.requests[0].InterviewType != "" {
		t.Fatal("unknown type must not be applied")
	}
}
