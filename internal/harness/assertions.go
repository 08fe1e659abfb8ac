package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	return buf.String()
}

func (h *Harness) check(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertPosted:
		return h.assertPosted(a)
	case AssertEntry:
		return h.assertEntry(ctx, a)
	case AssertNoEntry:
		return h.assertNoEntry(ctx, a)
	case AssertSynced, AssertNotSynced:
		return h.assertSynced(ctx, a, a.Type == AssertSynced)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertPosted compares every network call of the platform across all runs.
func (h *Harness) assertPosted(a Assertion) error {
	got := h.adapters[a.Platform].Posted()
	want := a.Posts
	if want == nil {
		want = []string{}
	}
	if got == nil {
		got = []string{}
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertPosted,
			Expected: fmt.Sprintf("%s posted %v", a.Platform, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

func (h *Harness) assertEntry(ctx context.Context, a Assertion) error {
	blob, found, err := h.store.GetEntry(ctx, a.Post, a.Platform)
	if err != nil {
		return err
	}
	if !found {
		return &AssertionError{
			Type:     AssertEntry,
			Expected: fmt.Sprintf("%s/%s = %s", a.Platform, a.Post, a.Value),
			Actual:   "no entry",
		}
	}
	equal, err := jsonEqual(blob, []byte(a.Value))
	if err != nil {
		return fmt.Errorf("assertion %s %s/%s: %w", AssertEntry, a.Platform, a.Post, err)
	}
	if !equal {
		return &AssertionError{
			Type:     AssertEntry,
			Expected: fmt.Sprintf("%s/%s = %s", a.Platform, a.Post, a.Value),
			Actual:   string(blob),
		}
	}
	return nil
}

func (h *Harness) assertNoEntry(ctx context.Context, a Assertion) error {
	blob, found, err := h.store.GetEntry(ctx, a.Post, a.Platform)
	if err != nil {
		return err
	}
	if found {
		return &AssertionError{
			Type:     AssertNoEntry,
			Expected: fmt.Sprintf("no entry for %s/%s", a.Platform, a.Post),
			Actual:   string(blob),
		}
	}
	return nil
}

func (h *Harness) assertSynced(ctx context.Context, a Assertion, want bool) error {
	for _, id := range a.Posts {
		got, err := h.store.IsSynced(ctx, id)
		if err != nil {
			return err
		}
		if got != want {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("post %s synced=%t", id, want),
				Actual:   fmt.Sprintf("synced=%t", got),
			}
		}
	}
	return nil
}

func jsonEqual(a, b []byte) (bool, error) {
	var va, vb any
	if err := json.Unmarshal(a, &va); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return false, err
	}
	return reflect.DeepEqual(va, vb), nil
}
