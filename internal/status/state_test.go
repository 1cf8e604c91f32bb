package status

import (
	"slices"
	"testing"
)

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
	}{
		{Sending, Sent},
		{Sending, Failed},
		{Sent, Delivered},
		{Sent, Read},
		{Sent, Failed},
		{Delivered, Read},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			got, ok := Advance(tt.from, tt.to)
			if !ok {
				t.Fatalf("Advance(%s, %s) rejected", tt.from, tt.to)
			}
			if got != tt.to {
				t.Errorf("status = %s, want %s", got, tt.to)
			}
		})
	}
}

// TestNoRegression verifies that a late "delivered" never pulls a read
// message back, and that terminal states stay put.
func TestNoRegression(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
	}{
		{Read, Delivered},
		{Read, Sent},
		{Delivered, Sent},
		{Delivered, Delivered},
		{Read, Read},
		{Delivered, Failed},
		{Failed, Sent},
		{Sent, Sending},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			got, ok := Advance(tt.from, tt.to)
			if ok {
				t.Fatalf("Advance(%s, %s) should be rejected", tt.from, tt.to)
			}
			if got != tt.from {
				t.Errorf("status = %s, want unchanged %s", got, tt.from)
			}
		})
	}
}

func TestSources(t *testing.T) {
	if got := Sources(Delivered); !slices.Equal(got, []Status{Sent}) {
		t.Errorf("Sources(delivered) = %v, want [sent]", got)
	}
	if got := Sources(Read); !slices.Equal(got, []Status{Sent, Delivered}) {
		t.Errorf("Sources(read) = %v, want [sent delivered]", got)
	}
	if got := Sources(Failed); !slices.Equal(got, []Status{Sending, Sent}) {
		t.Errorf("Sources(failed) = %v, want [sending sent]", got)
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{Read, Failed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if Sent.Terminal() {
		t.Error("sent should not be terminal")
	}
}

func TestParse(t *testing.T) {
	if s, err := Parse("delivered"); err != nil || s != Delivered {
		t.Errorf("Parse(delivered) = %v, %v", s, err)
	}
	if _, err := Parse("seen"); err == nil {
		t.Error("Parse(seen) should fail")
	}
}
