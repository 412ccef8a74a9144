package runner

import (
	"context"
	"errors"
	"testing"
)

func TestScriptedExactAndPrefix(t *testing.T) {
	s := NewScripted().
		On("xrandr --query", "Screen 0").
		OnPrefix("import -window root", []byte("PNG"))

	out, err := s.Run(context.Background(), Cmd("xrandr", "--query"))
	if err != nil || string(out) != "Screen 0" {
		t.Fatalf("exact match: out=%q err=%v", out, err)
	}

	out, err = s.Run(context.Background(), Cmd("import", "-window", "root", "-crop", "10x10+0+0", "png:-"))
	if err != nil || string(out) != "PNG" {
		t.Fatalf("prefix match: out=%q err=%v", out, err)
	}

	if _, err := s.Run(context.Background(), Cmd("wmctrl", "-l")); err == nil {
		t.Fatalf("expected unscripted command to fail")
	}

	if got := len(s.Calls()); got != 3 {
		t.Fatalf("recorded %d calls, want 3", got)
	}
	if !s.Ran("xrandr") || s.Ran("grim") {
		t.Fatalf("Ran() bookkeeping wrong: %v", s.CallLines())
	}
}

func TestScriptedMissingTool(t *testing.T) {
	s := NewScripted().Missing("grim")
	if s.LookPath("grim") {
		t.Fatalf("grim should be missing")
	}
	_, err := s.Run(context.Background(), Cmd("grim", "-"))
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestOutputRejectsEmpty(t *testing.T) {
	s := NewScripted().On("grim -", "  \n")
	_, err := Output(context.Background(), s, Cmd("grim", "-"))
	if !errors.Is(err, ErrEmptyOutput) {
		t.Fatalf("expected ErrEmptyOutput, got %v", err)
	}
}

func TestScriptedHonoursCancelledContext(t *testing.T) {
	s := NewScripted().On("xrandr --query", "x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Run(ctx, Cmd("xrandr", "--query")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExecMissingTool(t *testing.T) {
	_, err := NewExec().Run(context.Background(), Cmd("deskshot-definitely-not-a-tool"))
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestCommandString(t *testing.T) {
	if got := Cmd("grim", "-o", "DP-1", "-").String(); got != "grim -o DP-1 -" {
		t.Fatalf("String() = %q", got)
	}
	if got := Cmd("xrandr").String(); got != "xrandr" {
		t.Fatalf("String() = %q", got)
	}
}
