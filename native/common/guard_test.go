package common

import (
	"errors"
	"testing"
)

type pauses map[string]bool

func (p pauses) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	if err := Guard(nil, "deposit"); err != nil {
		t.Fatalf("nil view: %v", err)
	}
	view := pauses{"deposit": true}
	if err := Guard(view, "deposit"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
	if err := Guard(view, "pool"); err != nil {
		t.Fatalf("pool should be open: %v", err)
	}
}

func TestReentrancyGuard(t *testing.T) {
	var g ReentrancyGuard
	release, err := g.Enter()
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := g.Enter(); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected reentrant call, got %v", err)
	}
	release()
	release()
	if g.Entered() {
		t.Fatalf("guard still held after release")
	}
	again, err := g.Enter()
	if err != nil {
		t.Fatalf("re-enter after release: %v", err)
	}
	again()
}
