package session

import "testing"

func TestMachineLifecycle(t *testing.T) {
	var seen []State
	m := newMachine(func(_, to State) { seen = append(seen, to) })
	if m.Current() != Connecting {
		t.Fatalf("initial state = %s, want connecting", m.Current())
	}
	for _, to := range []State{Active, Closing, Closed} {
		if err := m.Transition(to); err != nil {
			t.Fatalf("Transition(%s): %v", to, err)
		}
	}
	if len(seen) != 3 || seen[2] != Closed {
		t.Errorf("observed transitions = %v", seen)
	}
}

func TestMachineRejectsInvalid(t *testing.T) {
	tests := []struct {
		path []State
		bad  State
	}{
		{nil, Closed},
		{[]State{Active}, Connecting},
		{[]State{Active}, Closed},
		{[]State{Active, Closing}, Active},
		{[]State{Closing, Closed}, Closing},
	}
	for _, tt := range tests {
		m := newMachine(nil)
		for _, s := range tt.path {
			if err := m.Transition(s); err != nil {
				t.Fatalf("setup Transition(%s): %v", s, err)
			}
		}
		before := m.Current()
		if err := m.Transition(tt.bad); err == nil {
			t.Errorf("%s -> %s should fail", before, tt.bad)
		}
		if m.Current() != before {
			t.Errorf("state changed on rejected transition")
		}
	}
}

func TestConnectingCanAbort(t *testing.T) {
	m := newMachine(nil)
	if err := m.Transition(Closing); err != nil {
		t.Fatal(err)
	}
	if err := m.Transition(Closed); err != nil {
		t.Fatal(err)
	}
}
