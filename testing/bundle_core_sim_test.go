package testing

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/delaycla/interfaces"
)

func newTestConfig() *interfaces.EngineConfig {
	return &interfaces.EngineConfig{
		QueueCapacity: 16,
		TransmitRate:  125000,
		UseSimulation: true,
	}
}

func acquire(t *testing.T, core *SimulatedBundleCore, chunks ...[]byte) {
	t.Helper()
	if err := core.BeginAcquisition(); err != nil {
		t.Fatalf("BeginAcquisition: %v", err)
	}
	for _, c := range chunks {
		if err := core.ContinueAcquisition(c); err != nil {
			t.Fatalf("ContinueAcquisition: %v", err)
		}
	}
	if err := core.EndAcquisition(); err != nil {
		t.Fatalf("EndAcquisition: %v", err)
	}
}

func TestNewSimulatedBundleCore(t *testing.T) {
	core := NewSimulatedBundleCore(newTestConfig())
	if !core.IsSimulation() {
		t.Error("IsSimulation should return true")
	}
	if len(core.GetDeliveryLog()) != 0 {
		t.Error("new simulation should have empty delivery log")
	}
	rate, ok := core.TransmitRate()
	if !ok || rate != 125000 {
		t.Errorf("TransmitRate() = %v, %v; want 125000, true", rate, ok)
	}
}

func TestNilConfigHasUnknownRate(t *testing.T) {
	core := NewSimulatedBundleCore(nil)
	if _, ok := core.TransmitRate(); ok {
		t.Error("expected unknown transmit rate")
	}
	core.SetTransmitRate(1000)
	if rate, ok := core.TransmitRate(); !ok || rate != 1000 {
		t.Errorf("TransmitRate() = %v, %v after SetTransmitRate", rate, ok)
	}
}

func TestAcquisitionRecordsBundle(t *testing.T) {
	core := NewSimulatedBundleCore(newTestConfig())
	acquire(t, core, []byte("hello "), []byte("mars"))

	log := core.GetDeliveryLog()
	if len(log) != 1 {
		t.Fatalf("expected 1 record, got %d", len(log))
	}
	if !log[0].Success || log[0].Cancelled {
		t.Errorf("unexpected record flags: %+v", log[0])
	}
	if !bytes.Equal(log[0].Payload, []byte("hello mars")) {
		t.Errorf("payload = %q", log[0].Payload)
	}
	if log[0].Size != 10 {
		t.Errorf("size = %d, want 10", log[0].Size)
	}
}

func TestAcquisitionOrdering(t *testing.T) {
	core := NewSimulatedBundleCore(newTestConfig())

	if err := core.ContinueAcquisition([]byte("x")); !errors.Is(err, ErrNoAcquisition) {
		t.Errorf("Continue before Begin: got %v", err)
	}
	if err := core.EndAcquisition(); !errors.Is(err, ErrNoAcquisition) {
		t.Errorf("End before Begin: got %v", err)
	}
	if err := core.BeginAcquisition(); err != nil {
		t.Fatal(err)
	}
	if err := core.BeginAcquisition(); !errors.Is(err, ErrAcquisitionInProgress) {
		t.Errorf("double Begin: got %v", err)
	}
}

func TestFailureInjectionAndCancel(t *testing.T) {
	core := NewSimulatedBundleCore(newTestConfig())
	core.FailNext(StepContinue, nil)

	if err := core.BeginAcquisition(); err != nil {
		t.Fatal(err)
	}
	if err := core.ContinueAcquisition([]byte("x")); !errors.Is(err, ErrInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if err := core.CancelAcquisition(); err != nil {
		t.Fatalf("CancelAcquisition: %v", err)
	}

	want := []Step{StepBegin, StepContinue, StepCancel}
	got := core.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %v, want %v", i, got[i], want[i])
		}
	}

	log := core.GetDeliveryLog()
	if len(log) != 1 || !log[0].Cancelled || log[0].Success {
		t.Errorf("expected one cancelled record, got %+v", log)
	}

	// The failure is one-shot.
	acquire(t, core, []byte("y"))
	core.ClearDeliveryLog()
	if len(core.GetDeliveryLog()) != 0 || len(core.Calls()) != 0 {
		t.Error("ClearDeliveryLog should reset log and calls")
	}
}

func TestDequeueStatuses(t *testing.T) {
	core := NewSimulatedBundleCore(newTestConfig())
	ctx := context.Background()

	out, err := core.Dequeue(ctx, 10*time.Millisecond)
	if err != nil || out.Status != interfaces.DequeueEmpty {
		t.Errorf("empty feed: got %v, %v", out.Status, err)
	}

	if err := core.Feed([]byte("b1")); err != nil {
		t.Fatal(err)
	}
	if err := core.FeedCorrupt(); err != nil {
		t.Fatal(err)
	}

	out, _ = core.Dequeue(ctx, time.Second)
	if out.Status != interfaces.DequeueBundle || string(out.Payload) != "b1" {
		t.Errorf("got %v %q, want bundle b1", out.Status, out.Payload)
	}
	out, _ = core.Dequeue(ctx, time.Second)
	if out.Status != interfaces.DequeueCorrupt {
		t.Errorf("got %v, want corrupt", out.Status)
	}

	if err := core.Feed([]byte("b2")); err != nil {
		t.Fatal(err)
	}
	core.Close()
	if err := core.Feed([]byte("b3")); !errors.Is(err, interfaces.ErrCoreShutdown) {
		t.Errorf("Feed after Close: got %v", err)
	}
	out, _ = core.Dequeue(ctx, time.Second)
	if out.Status != interfaces.DequeueBundle {
		t.Errorf("fed bundle should precede closed status, got %v", out.Status)
	}
	out, _ = core.Dequeue(ctx, time.Second)
	if out.Status != interfaces.DequeueClosed {
		t.Errorf("got %v, want closed", out.Status)
	}
}

func TestDequeueCancelled(t *testing.T) {
	core := NewSimulatedBundleCore(newTestConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := core.Dequeue(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestAcquireAfterClose(t *testing.T) {
	core := NewSimulatedBundleCore(newTestConfig())
	core.Close()
	core.Close()
	if err := core.BeginAcquisition(); !errors.Is(err, interfaces.ErrCoreShutdown) {
		t.Errorf("expected ErrCoreShutdown, got %v", err)
	}
}

func TestConcurrentFeedAndDequeue(t *testing.T) {
	core := NewSimulatedBundleCore(newTestConfig())
	const n = 50

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for core.Feed([]byte{byte(i)}) != nil {
				time.Sleep(time.Millisecond)
			}
		}
	}()

	received := 0
	for received < n {
		out, err := core.Dequeue(context.Background(), time.Second)
		if err != nil {
			t.Fatal(err)
		}
		if out.Status == interfaces.DequeueBundle {
			received++
		}
	}
	wg.Wait()
}
