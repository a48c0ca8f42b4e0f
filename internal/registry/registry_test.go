package registry_test

import (
	"strings"
	"testing"

	"github.com/rohde-schwarz/tracy/internal/registry"
)

func assertEqual[X comparable](t *testing.T, want, have X) {
	t.Helper()
	if want != have {
		t.Fatalf("want %v, have %v", want, have)
	}
}

func TestCanonicalizeFoldsAndTruncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("A", 40)
	got, ok := registry.Canonicalize(long, registry.MaxNameLen)
	assertEqual(t, true, ok)
	assertEqual(t, strings.Repeat("a", registry.MaxNameLen), got)
}

func TestCanonicalizeRejectsNonASCII(t *testing.T) {
	t.Parallel()

	_, ok := registry.Canonicalize("Überprüfung", registry.MaxNameLen)
	assertEqual(t, false, ok)
}

func TestCanonicalizeRejectsEmpty(t *testing.T) {
	t.Parallel()

	_, ok := registry.Canonicalize("", registry.MaxNameLen)
	assertEqual(t, false, ok)
}

func TestRegisterUniqueness(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	assertEqual(t, error(nil), reg.Register("tp"))

	err := reg.Register("tp")
	if err != registry.ErrAlreadyExists {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
}

func TestCaseFoldingCollision(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	upper, ok := registry.Canonicalize("ABC", registry.MaxNameLen)
	assertEqual(t, true, ok)
	assertEqual(t, error(nil), reg.Register(upper))

	lower, ok := registry.Canonicalize("abc", registry.MaxNameLen)
	assertEqual(t, true, ok)

	err := reg.Register(lower)
	if err != registry.ErrAlreadyExists {
		t.Fatalf("want ErrAlreadyExists after case-folded collision, got %v", err)
	}
}

func TestIsEnabledDefaultsFalse(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	assertEqual(t, error(nil), reg.Register("tp"))
	assertEqual(t, false, reg.IsEnabled("tp"))
	assertEqual(t, false, reg.IsEnabled("missing"))
}

func TestSetEnabledAndClear(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	assertEqual(t, error(nil), reg.Register("tp1"))
	assertEqual(t, error(nil), reg.Register("tp2"))

	found := reg.SetEnabled([]string{"tp1", "missing"}, true)
	if len(found) != 2 || !found[0] || found[1] {
		t.Fatalf("unexpected SetEnabled result: %v", found)
	}
	assertEqual(t, true, reg.IsEnabled("tp1"))
	assertEqual(t, false, reg.IsEnabled("tp2"))

	reg.ClearEnabledFlags()
	assertEqual(t, false, reg.IsEnabled("tp1"))
}

func TestSnapshotNamesPreservesInsertionOrder(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	for _, n := range []string{"c", "a", "b"} {
		assertEqual(t, error(nil), reg.Register(n))
	}

	got := reg.SnapshotNames()
	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("want %v, have %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want %v, have %v", want, got)
		}
	}
}

func TestPoisonedRegistryReportsDisabled(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	assertEqual(t, error(nil), reg.Register("tp"))
	reg.SetEnabled([]string{"tp"}, true)
	assertEqual(t, true, reg.IsEnabled("tp"))

	reg.Poison()
	assertEqual(t, false, reg.IsEnabled("tp"))
}
