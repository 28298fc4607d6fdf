package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func openTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadger("", true)
	if err != nil {
		t.Fatalf("OpenBadger() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// forEachStore runs the same behavioural test against every implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("badger", func(t *testing.T) { fn(t, openTestBadger(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
}

func TestStore_GetMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.Get(context.Background(), "nobody")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStore_PutGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		cred := &Credential{
			AthleteID:    "1001",
			Name:         "Anna Berg",
			Profile:      "https://example.com/a.jpg",
			AccessToken:  "at",
			RefreshToken: "rt",
			ExpiresAt:    1700000000,
		}
		if err := s.Put(ctx, "1001", cred); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		got, err := s.Get(ctx, "1001")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if *got != *cred {
			t.Errorf("Get() = %+v, want %+v", got, cred)
		}
	})
}

func TestStore_UpdateTokensKeepsProfile(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Put(ctx, "7", &Credential{AthleteID: "7", Name: "Ben", AccessToken: "old", RefreshToken: "r0", ExpiresAt: 1}); err != nil {
			t.Fatal(err)
		}

		err := s.UpdateTokens(ctx, "7", TokenSet{AccessToken: "new", RefreshToken: "r1", ExpiresAt: 99})
		if err != nil {
			t.Fatalf("UpdateTokens() error = %v", err)
		}

		got, _ := s.Get(ctx, "7")
		if got.AccessToken != "new" || got.RefreshToken != "r1" || got.ExpiresAt != 99 {
			t.Errorf("tokens not updated: %+v", got)
		}
		if got.Name != "Ben" {
			t.Errorf("profile field lost: %+v", got)
		}

		if err := s.UpdateTokens(ctx, "missing", TokenSet{}); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing id, got %v", err)
		}
	})
}

func TestStore_ClaimSlot(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		steps := []struct {
			id      string
			want    int
			wantErr error
		}{
			{"a", 1, nil},
			{"a", 1, nil}, // reconnecting keeps the slot
			{"b", 2, nil},
			{"c", 0, ErrSlotsFull},
			{"b", 2, nil},
		}
		for _, step := range steps {
			got, err := s.ClaimSlot(ctx, step.id)
			if !errors.Is(err, step.wantErr) {
				t.Fatalf("ClaimSlot(%q) error = %v, want %v", step.id, err, step.wantErr)
			}
			if got != step.want {
				t.Fatalf("ClaimSlot(%q) = %d, want %d", step.id, got, step.want)
			}
		}

		slots, err := s.Slots(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if slots != [SlotCount]string{"a", "b"} {
			t.Errorf("Slots() = %v", slots)
		}
	})
}

func TestStore_ClaimSlotConcurrent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const contenders = 10

		var wg sync.WaitGroup
		results := make([]int, contenders)
		errs := make([]error, contenders)
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = s.ClaimSlot(ctx, fmt.Sprintf("athlete-%d", i))
			}(i)
		}
		wg.Wait()

		won := map[int]string{}
		for i := range results {
			if errs[i] != nil {
				if !errors.Is(errs[i], ErrSlotsFull) {
					t.Errorf("contender %d: unexpected error %v", i, errs[i])
				}
				continue
			}
			if prev, dup := won[results[i]]; dup {
				t.Errorf("slot %d won twice (%s and athlete-%d)", results[i], prev, i)
			}
			won[results[i]] = fmt.Sprintf("athlete-%d", i)
		}
		if len(won) != SlotCount {
			t.Errorf("expected %d winners, got %d", SlotCount, len(won))
		}

		slots, _ := s.Slots(ctx)
		for n, id := range won {
			if slots[n-1] != id {
				t.Errorf("slot %d holds %q, winner was %q", n, slots[n-1], id)
			}
		}
	})
}
