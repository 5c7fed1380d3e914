package engine

import (
	"context"
	"errors"
	"image"
	"testing"

	"panostitch/internal/stitch"
)

type stubEngine struct {
	name      string
	available bool
	closed    int
}

func (s *stubEngine) Name() string { return s.name }
func (s *stubEngine) Check() Status {
	if !s.available {
		return Status{Available: false, Error: errors.New("missing")}
	}
	return Status{Available: true, Detail: "stub"}
}
func (s *stubEngine) Load(context.Context, string) (stitch.Image, error) { return nil, nil }
func (s *stubEngine) Stitch(context.Context, []stitch.Image) (stitch.Status, stitch.Image, error) {
	return stitch.StatusOK, nil, nil
}
func (s *stubEngine) Export(stitch.Image) (image.Image, error) { return nil, nil }
func (s *stubEngine) Close() error {
	s.closed++
	return nil
}

func TestSelectFollowsPreferenceOrder(t *testing.T) {
	m := NewManager("opencv", []string{"hugin", "imagemagick"})
	m.Register(&stubEngine{name: "imagemagick", available: true})
	m.Register(&stubEngine{name: "opencv", available: false})
	m.Register(&stubEngine{name: "hugin", available: true})

	e, err := m.Select("")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if e.Name() != "hugin" {
		t.Fatalf("expected hugin fallback, got %s", e.Name())
	}
}

func TestSelectByName(t *testing.T) {
	m := NewManager("opencv", nil)
	m.Register(&stubEngine{name: "opencv", available: false})
	m.Register(&stubEngine{name: "imagemagick", available: true})

	if _, err := m.Select("opencv"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := m.Select("gimp"); !errors.Is(err, ErrUnknownEngine) {
		t.Fatalf("expected ErrUnknownEngine, got %v", err)
	}
	e, err := m.Select("imagemagick")
	if err != nil || e.Name() != "imagemagick" {
		t.Fatalf("expected imagemagick, got %v %v", e, err)
	}
}

func TestSelectNothingAvailable(t *testing.T) {
	m := NewManager("opencv", []string{"hugin"})
	m.Register(&stubEngine{name: "opencv"})
	if _, err := m.Select(""); !errors.Is(err, ErrNoEngine) {
		t.Fatalf("expected ErrNoEngine, got %v", err)
	}
}

func TestStatusAndClose(t *testing.T) {
	m := NewManager("hugin", []string{"opencv"})
	a := &stubEngine{name: "opencv", available: true}
	b := &stubEngine{name: "hugin"}
	c := &stubEngine{name: "imagemagick", available: true}
	m.Register(a)
	m.Register(b)
	m.Register(c)

	st := m.Status()
	if len(st) != 3 || st[0].Name != "hugin" || st[1].Name != "opencv" || st[2].Name != "imagemagick" {
		t.Fatalf("unexpected status order %+v", st)
	}
	if st[0].Available || !st[1].Available {
		t.Fatalf("unexpected availability %+v", st)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if a.closed != 1 || b.closed != 1 || c.closed != 1 {
		t.Fatalf("expected every engine closed once")
	}
}
