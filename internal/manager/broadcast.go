package manager

import (
	"sync"

	"github.com/aws-samples/nacos-lambda-sidecar/internal/config"
)

// completionGroup is the reference-counted barrier behind spec §4.5's
// "completion channel": one reference is held by the refresh cycle that
// created it, one by every target.pending it is stored in, and — handed
// out here — one per subscriber a changed Target was actually delivered
// to. The channel closes only once every reference has been released,
// which is what lets a cancelled long-poll/bi-stream handler (which
// releases on exit, matched or not — see broadcaster.subscribe's cancel
// func) unblock the coordinator even though its client went away.
//
// This is deliberately not a bare counter field on TargetState: spec §9
// warns against modeling the barrier as "shared mutable refcount fields"
// on record types precisely because that invites read/write races between
// the manager's single-threaded map and concurrently-running front-end
// goroutines. completionGroup owns its own mutex and is the only thing
// that touches its counter.
type completionGroup struct {
	mu     sync.Mutex
	refs   int
	closed bool
	ch     chan struct{}
}

func newCompletionGroup() *completionGroup {
	return &completionGroup{refs: 1, ch: make(chan struct{}, 1)}
}

// hold adds one reference. Must be called before the corresponding
// release so the group never observes a false zero crossing.
func (g *completionGroup) hold() {
	g.mu.Lock()
	g.refs++
	g.mu.Unlock()
}

// signal delivers one "a target's change is being propagated" item to the
// coordinator. It never blocks: the channel has capacity 1 and the exact
// count is not load-bearing, only "at least one happened" is (spec §4.5
// step 4).
func (g *completionGroup) signal() {
	select {
	case g.ch <- struct{}{}:
	default:
	}
}

// release drops one reference, closing the channel exactly once when the
// count reaches zero.
func (g *completionGroup) release() {
	g.mu.Lock()
	g.refs--
	shouldClose := g.refs == 0 && !g.closed
	if shouldClose {
		g.closed = true
	}
	g.mu.Unlock()
	if shouldClose {
		close(g.ch)
	}
}

func (g *completionGroup) done() <-chan struct{} { return g.ch }

// ChangeEvent is what a changed-target subscriber receives: the Target
// that changed, and an Ack that must be called exactly once — whether or
// not the event matched anything this subscriber cares about — to release
// the completion reference that came with it.
type ChangeEvent struct {
	Target  config.Target
	release func()
}

// Ack releases the completion reference carried by this event. Safe to
// call on the zero value (a subscriber that never received a real event).
func (e ChangeEvent) Ack() {
	if e.release != nil {
		e.release()
	}
}

// broadcaster is the O(1)-per-event, lossy-on-slow-subscriber fanout
// described in spec §4.2/§9: every currently-subscribed long-poll or
// bi-stream handler gets its own small buffered channel; a publish that
// can't fit in a subscriber's buffer is dropped for that subscriber
// (spec: "that client will see the change on its next poll"), and the
// completion reference that would have gone with it is released right
// away instead of leaking.
type broadcaster struct {
	mu   sync.Mutex
	next int
	subs map[int]chan ChangeEvent
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan ChangeEvent)}
}

func (b *broadcaster) subscribe() (<-chan ChangeEvent, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan ChangeEvent, 4)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		for {
			select {
			case ev := <-ch:
				ev.Ack()
			default:
				return
			}
		}
	}
	return ch, cancel
}

// publish fans target out to every current subscriber. group may be nil
// in tests that don't care about completion tracking. Returns whether at
// least one subscriber was actually listening.
func (b *broadcaster) publish(target config.Target, group *completionGroup) bool {
	b.mu.Lock()
	subs := make([]chan ChangeEvent, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	delivered := false
	for _, ch := range subs {
		if group != nil {
			group.hold()
		}
		ev := ChangeEvent{Target: target}
		if group != nil {
			ev.release = group.release
		}
		select {
		case ch <- ev:
			delivered = true
		default:
			ev.Ack()
		}
	}
	return delivered
}
