package camera_test

import (
	"context"
	"errors"
	"testing"

	"github.com/seeing-things/zwo/internal/camera"
)

type fakeEnumerator struct {
	infos []camera.Info
}

func (f fakeEnumerator) Enumerate(ctx context.Context) ([]camera.Info, error) {
	return f.infos, nil
}

func noPrompt([]camera.Info) (int, error) {
	return 0, errors.New("prompt should not have been called")
}

func TestSelectAutoPicksOnlyCamera(t *testing.T) {
	en := fakeEnumerator{infos: []camera.Info{{Index: 0, Name: "ASI178MM"}}}
	info, err := camera.Select(context.Background(), en, "", noPrompt)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if info.Name != "ASI178MM" {
		t.Errorf("Name = %q, want ASI178MM", info.Name)
	}
}

func TestSelectByUniqueSubstring(t *testing.T) {
	en := fakeEnumerator{infos: []camera.Info{
		{Index: 0, Name: "ASI178MM"},
		{Index: 1, Name: "ASI294MC"},
	}}
	info, err := camera.Select(context.Background(), en, "178", noPrompt)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if info.Index != 0 {
		t.Errorf("Index = %d, want 0", info.Index)
	}
}

func TestSelectNoMatchIsError(t *testing.T) {
	en := fakeEnumerator{infos: []camera.Info{{Index: 0, Name: "ASI178MM"}}}
	_, err := camera.Select(context.Background(), en, "nonexistent", noPrompt)
	if err == nil {
		t.Fatal("Select() error = nil, want error for no matches")
	}
}

func TestSelectAmbiguousPrompts(t *testing.T) {
	en := fakeEnumerator{infos: []camera.Info{
		{Index: 0, Name: "ASI178MM"},
		{Index: 1, Name: "ASI178MC"},
	}}
	called := false
	prompt := func(infos []camera.Info) (int, error) {
		called = true
		if len(infos) != 2 {
			t.Errorf("prompt got %d candidates, want 2", len(infos))
		}
		return 1, nil
	}
	info, err := camera.Select(context.Background(), en, "178", prompt)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if !called {
		t.Error("prompt was not invoked for an ambiguous match")
	}
	if info.Name != "ASI178MC" {
		t.Errorf("Name = %q, want ASI178MC", info.Name)
	}
}

func TestSelectNoCamerasIsError(t *testing.T) {
	en := fakeEnumerator{}
	_, err := camera.Select(context.Background(), en, "", noPrompt)
	if err == nil {
		t.Fatal("Select() error = nil, want error for zero cameras")
	}
}
