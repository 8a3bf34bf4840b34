// Package manager implements the Target Manager (spec §4.2): the
// single-consumer event loop that owns the registered-target map and
// fans out change notifications to HTTP long-poll and gRPC bi-stream
// subscribers.
//
// The design is grounded on two sources: the original Rust
// spawn_target_manager (_examples/original_source/src/config/target.rs),
// which is the source of the registration/refresh algorithm itself, and
// the teacher's channel-registration and non-blocking-broadcast idioms in
// internal/server/grpc.go (AgwServer.clients map, registerClient/
// broadcastMerged using select+default sends) for how to express that
// algorithm in Go.
package manager

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aws-samples/nacos-lambda-sidecar/internal/config"
)

// targetState is the per-Target bookkeeping described in spec §3. pending
// is non-nil while a refresh cycle has published a change for this target
// that no registration has yet acknowledged; it holds one reference against
// the cycle's completionGroup, released once the client catches up.
type targetState struct {
	clientMD5 string
	latestMD5 string
	pending   *completionGroup
}

// Registration is what a front-end sends on the register channel: the
// Target a client claims to be watching and the md5 it claims to have.
type Registration struct {
	Target config.Target
	MD5    string
}

// Manager is the Target Manager. The zero value is not usable; construct
// with New.
type Manager struct {
	provider config.Provider
	log      *slog.Logger

	register chan Registration
	refresh  chan *completionGroup
	changed  *broadcaster

	// targets is owned exclusively by run's goroutine.
	targets map[config.Target]*targetState
}

// New builds a Manager bound to provider. Call Run in its own goroutine
// to start the event loop; Register and Refresh are safe to call before
// Run starts (once their one-slot channels are full they block until the
// loop is running).
func New(provider config.Provider, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		provider: provider,
		log:      log,
		register: make(chan Registration, 1),
		refresh:  make(chan *completionGroup, 1),
		changed:  newBroadcaster(),
		targets:  make(map[config.Target]*targetState),
	}
}

// Register asks the manager to (re)register a (target, client-believed-md5)
// pair. It blocks until the manager's bounded register channel accepts it
// or ctx is cancelled.
func (m *Manager) Register(ctx context.Context, t config.Target, md5 string) error {
	select {
	case m.register <- Registration{Target: t, MD5: md5}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh starts one refresh cycle and returns a channel that receives at
// least one empty struct{} once any target actually changed and closes
// when the cycle has fully drained: every subscriber it delivered a change
// to has called Ack or cancelled, and every changed target's client has
// re-registered with the new md5 (or a later cycle has superseded that
// target's pending reference). The caller must drain the channel to
// completion; see the Refresh coordinator (spec §4.5).
func (m *Manager) Refresh(ctx context.Context) (<-chan struct{}, error) {
	group := newCompletionGroup()
	select {
	case m.refresh <- group:
		return group.done(), nil
	case <-ctx.Done():
		group.release()
		return nil, ctx.Err()
	}
}

// Subscribe registers a new listener for changed targets. Callers must
// call Ack on every received event (matched or not) and call the returned
// cancel function when they stop listening (on timeout or client
// disconnect) so the broadcaster can reclaim the subscription and release
// any buffered-but-undelivered completion references.
func (m *Manager) Subscribe() (<-chan ChangeEvent, func()) {
	return m.changed.subscribe()
}

// Run executes the single-consumer event loop until ctx is cancelled.
// Registrations and refreshes never interleave on the targets map because
// both arrive through this one select loop.
func (m *Manager) Run(ctx context.Context) {
	defer m.log.Warn("target manager stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case reg := <-m.register:
			m.handleRegister(reg)
		case group := <-m.refresh:
			m.handleRefresh(ctx, group)
		}
	}
}

func (m *Manager) handleRegister(reg Registration) {
	state, ok := m.targets[reg.Target]
	if !ok {
		m.targets[reg.Target] = &targetState{clientMD5: reg.MD5, latestMD5: reg.MD5}
		return
	}
	if reg.MD5 == state.latestMD5 && state.pending != nil {
		// the client has caught up: this refresh cycle is done for this
		// target, so release the reference it was holding.
		state.pending.release()
		state.pending = nil
	}
	state.clientMD5 = reg.MD5
}

// handleRefresh reads every registered target from the provider
// concurrently and, for each one whose fresh md5 differs from the
// client's last-known md5, publishes a change and wires up a reference
// to group that is released only when the waiting front-end acknowledges
// it or gives up. group's channel closes once every such reference — the
// manager's own, plus every target.pending left outstanding, plus every
// subscriber it was actually delivered to — is released.
func (m *Manager) handleRefresh(ctx context.Context, group *completionGroup) {
	type result struct {
		target config.Target
		client string
		md5    string
		ok     bool
	}

	targets := make([]config.Target, 0, len(m.targets))
	clientMD5 := make(map[config.Target]string, len(m.targets))
	for t, state := range m.targets {
		targets = append(targets, t)
		clientMD5[t] = state.clientMD5
	}

	results := make(chan result, len(targets))
	var wg sync.WaitGroup
	for _, t := range targets {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			content, err := m.provider.Get(ctx, t.DataID, t.Group, t.Tenant, true)
			if err != nil {
				m.log.Warn("refresh: provider read failed, target kept at previous state",
					slog.String("data_id", t.DataID), slog.String("group", t.Group), slog.Any("error", err))
				return
			}
			results <- result{target: t, client: clientMD5[t], md5: content.MD5(), ok: true}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Every target.pending set below holds one reference against group,
	// matching the refcount design in broadcast.go: the manager keeps one
	// per outstanding target, publish hands one to each delivered
	// subscriber, and this function releases its own local reference when
	// it returns — group's channel closes only once all of them are gone.
	for res := range results {
		state, ok := m.targets[res.target]
		if !ok {
			continue // target was never actually registered (shouldn't happen)
		}
		state.latestMD5 = res.md5
		if res.md5 == res.client {
			continue
		}
		if state.pending != nil {
			// an earlier cycle's change is still unacknowledged; this
			// cycle's notification supersedes it, so release the stale
			// reference instead of leaking it.
			state.pending.release()
		}
		group.signal()
		group.hold()
		state.pending = group
		if !m.changed.publish(res.target, group) {
			m.log.Debug("no long-poll/bi-stream subscriber is listening right now",
				slog.String("data_id", res.target.DataID), slog.String("group", res.target.Group))
		}
	}
	group.release()
}
