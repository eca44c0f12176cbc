package game

import (
	"sync"
	"testing"
	"time"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()

	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.clients == nil {
		t.Error("Hub clients map is nil")
	}
	if hub.broadcast == nil {
		t.Error("Hub broadcast channel is nil")
	}
}

func TestHub_GetClientCount(t *testing.T) {
	hub := NewHub()

	if count := hub.GetClientCount(); count != 0 {
		t.Errorf("GetClientCount() = %v, want 0", count)
	}
}

func TestHub_BroadcastChannelFull(t *testing.T) {
	hub := NewHub()

	// hub never started, so the fan-out channel fills up
	for i := 0; i < cap(hub.broadcast); i++ {
		hub.Broadcast(EventRunning, RunningPayload{CurrentMultiplier: 1.5})
	}

	// the round loop must never stall on a slow hub
	done := make(chan bool, 1)
	go func() {
		hub.Broadcast(EventRunning, RunningPayload{CurrentMultiplier: 2.0})
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Error("Broadcast() blocked when channel was full")
	}
}

func TestHub_ConcurrentBroadcasts(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	time.Sleep(10 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			hub.Broadcast(EventBetting, BettingPayload{CountdownSeconds: float64(n)})
		}(i)
	}

	done := make(chan bool)
	go func() {
		wg.Wait()
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Error("Concurrent broadcasts timed out")
	}
}

func BenchmarkHub_Broadcast(b *testing.B) {
	hub := NewHub()
	go hub.Run()

	time.Sleep(10 * time.Millisecond)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.Broadcast(EventRunning, RunningPayload{CurrentMultiplier: 1.5})
	}
}
