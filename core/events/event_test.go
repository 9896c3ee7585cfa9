package events

import "testing"

type named string

func (n named) EventType() string { return string(n) }

type recorder struct {
	seen []string
}

func (r *recorder) Emit(evt Event) { r.seen = append(r.seen, evt.EventType()) }

func TestMultiFansOutInOrder(t *testing.T) {
	first, second := &recorder{}, &recorder{}
	m := Multi{first, nil, second, NoopEmitter{}}

	m.Emit(named("vault.deposited"))
	m.Emit(named("vault.borrowed"))

	for i, r := range []*recorder{first, second} {
		if len(r.seen) != 2 || r.seen[0] != "vault.deposited" || r.seen[1] != "vault.borrowed" {
			t.Fatalf("emitter %d saw %v", i, r.seen)
		}
	}
}
