package eventbus

import "testing"

func TestPublishFansOutWithoutBlocking(t *testing.T) {
	t.Parallel()

	b := New()
	fast, unsubFast := b.Subscribe(4)
	defer unsubFast()
	slow, unsubSlow := b.Subscribe(1)
	defer unsubSlow()

	for i := 0; i < 3; i++ {
		b.Publish(Event{Type: TypeTaskDone, Data: i})
	}

	if got := len(fast); got != 3 {
		t.Fatalf("fast subscriber got %d events, want 3", got)
	}
	if got := len(slow); got != 1 {
		t.Fatalf("slow subscriber got %d events, want 1", got)
	}
	if ev := <-fast; ev.Time.IsZero() || ev.Type != TypeTaskDone {
		t.Fatalf("event = %+v", ev)
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: TypePass})

	nch, nunsub := Nop{}.Subscribe(8)
	nunsub()
	if _, ok := <-nch; ok {
		t.Fatal("nop channel should be closed")
	}
}
