package signaling

import (
	"testing"

	"github.com/tori/voicematch/internal/protocol"
)

func TestParseRoom(t *testing.T) {
	a, b, err := parseRoom("1_2")
	if err != nil || a != 1 || b != 2 {
		t.Fatalf("parseRoom(1_2) = %d, %d, %v", a, b, err)
	}

	// Canonical names order by decimal string, so the numerically larger
	// id can come first.
	a, b, err = parseRoom("10_9")
	if err != nil || a != 10 || b != 9 {
		t.Fatalf("parseRoom(10_9) = %d, %d, %v", a, b, err)
	}

	for _, bad := range []string{"", "12", "a_b", "1_", "_2"} {
		if _, _, err := parseRoom(bad); err == nil {
			t.Errorf("parseRoom(%q): expected error", bad)
		}
	}
}

func TestRoleOf(t *testing.T) {
	// The numerically smaller id creates the offer, regardless of the
	// order the room name puts them in.
	if got := roleOf(9, 10, 9); got != protocol.RoleOffer {
		t.Errorf("roleOf(9) = %q", got)
	}
	if got := roleOf(10, 10, 9); got != protocol.RoleAnswer {
		t.Errorf("roleOf(10) = %q", got)
	}
	if got := roleOf(1, 1, 2); got != protocol.RoleOffer {
		t.Errorf("roleOf(1) = %q", got)
	}
	if got := roleOf(2, 1, 2); got != protocol.RoleAnswer {
		t.Errorf("roleOf(2) = %q", got)
	}
}
