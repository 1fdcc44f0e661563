package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingRegistrar struct {
	mu           sync.Mutex
	registered   []uint32
	deregistered []uint32
	blockUntil   chan struct{} // if non-nil, Register(blockID) waits on it
	blockID      uint32
}

func (r *recordingRegistrar) Register(ctx context.Context, id uint32) error {
	if r.blockUntil != nil && id == r.blockID {
		<-r.blockUntil
	}
	r.mu.Lock()
	r.registered = append(r.registered, id)
	r.mu.Unlock()
	return nil
}

func (r *recordingRegistrar) Deregister(ctx context.Context, id uint32) error {
	r.mu.Lock()
	r.deregistered = append(r.deregistered, id)
	r.mu.Unlock()
	return nil
}

func TestDispatcherRegistersAndDeregisters(t *testing.T) {
	reg := &recordingRegistrar{}
	d := NewDispatcher(reg, 2, 16)
	defer d.Close()

	d.Enqueue(1)
	d.EnqueueDeregister(2)

	require.Eventually(t, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		return len(reg.registered) == 1 && len(reg.deregistered) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDispatcherSlowRegistrationDoesNotBlockEnqueue(t *testing.T) {
	reg := &recordingRegistrar{blockUntil: make(chan struct{}), blockID: 1}
	d := NewDispatcher(reg, 2, 16)
	defer d.Close()
	defer close(reg.blockUntil)

	d.Enqueue(1) // occupies one worker indefinitely until the test closes blockUntil

	done := make(chan struct{})
	go func() {
		d.Enqueue(2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked behind a slow registration")
	}

	require.Eventually(t, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		for _, id := range reg.registered {
			if id == 2 {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}
