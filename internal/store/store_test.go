package store

import (
	"errors"
	"testing"
)

func TestStore_GetSet(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set("theme", "dark"); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("theme", "light"); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get("theme")
	if err != nil {
		t.Fatal(err)
	}
	if got != "light" {
		t.Fatalf("got %q, want last written value", got)
	}
}

func TestStore_ClientIDStableAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	first, err := s.ClientID()
	if err != nil {
		t.Fatal(err)
	}
	if first == "" {
		t.Fatal("empty client id")
	}
	if again, _ := s.ClientID(); again != first {
		t.Fatalf("client id changed within one session: %q vs %q", first, again)
	}
	s.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	second, err := s2.ClientID()
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Fatalf("client id not persisted: %q vs %q", first, second)
	}
}
