package netcode

import "testing"

func TestReplayAcceptsInOrder(t *testing.T) {
	w := newReplayWindow()
	for seq := uint64(0); seq < 10; seq++ {
		if err := w.check(seq); err != nil {
			t.Fatalf("check(%d): %v", seq, err)
		}
		w.accept(seq)
	}
}

func TestReplayRejectsDuplicate(t *testing.T) {
	w := newReplayWindow()
	if err := w.check(5); err != nil {
		t.Fatalf("check(5): %v", err)
	}
	w.accept(5)
	if err := w.check(5); err == nil {
		t.Error("expected duplicate sequence to be rejected")
	}
}

func TestReplayRejectsTooOld(t *testing.T) {
	w := newReplayWindow()
	w.accept(1000)
	if err := w.check(1000 - ReplayWindowSize); err == nil {
		t.Error("expected sequence outside the window to be rejected")
	}
}

func TestReplayAllowsOutOfOrderWithinWindow(t *testing.T) {
	w := newReplayWindow()
	w.accept(100)
	if err := w.check(90); err != nil {
		t.Errorf("check(90): %v", err)
	}
	w.accept(90)
	if err := w.check(90); err == nil {
		t.Error("expected 90 to now be rejected as a duplicate")
	}
}

func TestReplayClearsStaleBitsOnJump(t *testing.T) {
	w := newReplayWindow()
	w.accept(10)
	w.accept(10 + ReplayWindowSize)
	if err := w.check(10); err == nil {
		t.Error("expected old sequence number's slot to read as too old, not duplicate-free")
	}

	// After a jump of more than a full window, 10+2*ReplayWindowSize
	// shares the slot last set by 10+ReplayWindowSize, lies inside the new
	// window, and has never been accepted.
	w.accept(10 + 2*ReplayWindowSize + 20)
	if err := w.check(10 + 2*ReplayWindowSize); err != nil {
		t.Errorf("check(%d) after a jump past the window: %v", 10+2*ReplayWindowSize, err)
	}
}

func TestReplayZeroValueUsable(t *testing.T) {
	var w replayWindow
	if err := w.check(0); err != nil {
		t.Fatalf("check(0) on zero value: %v", err)
	}
}
