//go:build !gocv
// +build !gocv

package opencv

import (
	"context"
	"errors"
	"testing"

	"panostitch/internal/engine"
)

var _ engine.Engine = (*Engine)(nil)

func TestStubIsUnavailable(t *testing.T) {
	e := New("panorama")
	if st := e.Check(); st.Available || !errors.Is(st.Error, ErrNotBuilt) {
		t.Fatalf("expected unavailable stub, got %+v", st)
	}
	if _, err := e.Load(context.Background(), "a.jpg"); !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("expected ErrNotBuilt, got %v", err)
	}

	m := engine.NewManager(Name, nil)
	m.Register(e)
	if _, err := m.Select(""); !errors.Is(err, engine.ErrNoEngine) {
		t.Fatalf("expected manager to find nothing, got %v", err)
	}
}
