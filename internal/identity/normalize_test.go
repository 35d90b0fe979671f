package identity

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNormalizeUUIDPassthrough(t *testing.T) {
	n := NewNormalizer("pazar")

	raw := "6BA7B810-9DAD-11D1-80B4-00C04FD430C8"
	got := n.Normalize(raw, "sess-1")
	if got != strings.ToLower(raw) {
		t.Fatalf("uuid not passed through lowercased: %q", got)
	}
}

func TestNormalizePhoneIsDeterministic(t *testing.T) {
	n := NewNormalizer("pazar")

	a := n.Normalize("whatsapp:+90 555 111 22 33", "sess-a")
	b := n.Normalize("+905551112233", "sess-b")
	if a != b {
		t.Fatalf("same phone diverged: %q vs %q", a, b)
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("derived id is not a uuid: %q", a)
	}
}

func TestNormalizeEmptyFallsBackToSession(t *testing.T) {
	n := NewNormalizer("pazar")

	a := n.Normalize("", "sess-1")
	b := n.Normalize("", "sess-1")
	c := n.Normalize("", "sess-2")
	if a != b {
		t.Fatalf("session fallback not stable: %q vs %q", a, b)
	}
	if a == c {
		t.Fatal("different sessions derived the same owner")
	}
}

func TestNormalizeNamespaceSeparation(t *testing.T) {
	a := NewNormalizer("pazar").Normalize("+905551112233", "")
	b := NewNormalizer("other").Normalize("+905551112233", "")
	if a == b {
		t.Fatal("different namespaces derived the same owner")
	}
}

func TestContactPhone(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"whatsapp:+905551112233", "+905551112233"},
		{"+90 555 111 22 33", "+905551112233"},
		{"web-user-42", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ContactPhone(tc.in); got != tc.want {
			t.Fatalf("ContactPhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
