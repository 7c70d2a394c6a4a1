// Copyright 2026 The Porthole Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvances(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	if got := fake.Now(); !got.Equal(testEpoch) {
		t.Errorf("Now: got %v, want %v", got, testEpoch)
	}

	fake.Advance(5 * time.Second)
	want := testEpoch.Add(5 * time.Second)
	if got := fake.Now(); !got.Equal(want) {
		t.Errorf("Now after Advance: got %v, want %v", got, want)
	}
}

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	ch := fake.After(10 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	fake.Advance(10 * time.Second)
	select {
	case fired := <-ch:
		if !fired.Equal(testEpoch.Add(10 * time.Second)) {
			t.Errorf("fire time: got %v, want %v", fired, testEpoch.Add(10*time.Second))
		}
	default:
		t.Fatal("After did not fire after Advance past deadline")
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
}

func TestFakeAfterFuncFiresInDeadlineOrder(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	var order []int
	fake.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	fake.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	fake.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	fake.Advance(5 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("callback order: got %v, want [1 2 3]", order)
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	var fired atomic.Bool
	timer := fake.AfterFunc(time.Second, func() { fired.Store(true) })

	if !timer.Stop() {
		t.Error("Stop on pending timer: got false, want true")
	}
	if timer.Stop() {
		t.Error("second Stop: got true, want false")
	}

	fake.Advance(2 * time.Second)
	if fired.Load() {
		t.Error("stopped timer fired")
	}
}

func TestFakeAfterFuncReset(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	var fireCount atomic.Int32
	timer := fake.AfterFunc(time.Second, func() { fireCount.Add(1) })

	fake.Advance(time.Second)
	if got := fireCount.Load(); got != 1 {
		t.Fatalf("fire count: got %d, want 1", got)
	}

	// Reset after firing re-arms the timer.
	if timer.Reset(time.Second) {
		t.Error("Reset on fired timer: got true, want false")
	}
	fake.Advance(time.Second)
	if got := fireCount.Load(); got != 2 {
		t.Errorf("fire count after reset: got %d, want 2", got)
	}
}

func TestFakeAfterFuncZeroDurationRunsSynchronously(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	fired := false
	fake.AfterFunc(0, func() { fired = true })
	if !fired {
		t.Error("AfterFunc(0) did not run synchronously")
	}
}

func TestFakePendingCount(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	if got := fake.PendingCount(); got != 0 {
		t.Fatalf("initial PendingCount: got %d, want 0", got)
	}

	timer := fake.AfterFunc(time.Second, func() {})
	fake.After(2 * time.Second)
	if got := fake.PendingCount(); got != 2 {
		t.Errorf("PendingCount: got %d, want 2", got)
	}

	timer.Stop()
	if got := fake.PendingCount(); got != 1 {
		t.Errorf("PendingCount after Stop: got %d, want 1", got)
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	t.Parallel()
	fake := Fake(testEpoch)

	registered := make(chan struct{})
	go func() {
		fake.AfterFunc(time.Second, func() {})
		close(registered)
	}()

	fake.WaitForTimers(1)
	select {
	case <-registered:
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForTimers returned before registration")
	}
}
