package position

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	cases := map[int]ErrorCode{
		1:  PermissionDenied,
		2:  SignalUnavailable,
		3:  Timeout,
		0:  SignalUnavailable,
		42: SignalUnavailable,
	}
	for raw, want := range cases {
		if got := Classify(raw); got != want {
			t.Errorf("Classify(%d) = %v, expected %v", raw, got, want)
		}
	}
}

func TestErrorCode_Message(t *testing.T) {
	if PermissionDenied.Message() == Timeout.Message() {
		t.Error("Different codes should have different messages")
	}
	if ErrorCode(9).Message() != "Location unavailable" {
		t.Errorf("Unexpected fallback message: %s", ErrorCode(9).Message())
	}
}

func TestFix_Validate(t *testing.T) {
	valid := []Fix{NewFix(85.3072, 27.7042), NewFix(-180, -90), NewFix(180, 90), NewFix(0, 0)}
	for _, f := range valid {
		if err := f.Validate(); err != nil {
			t.Errorf("Fix %v deveria ser válido: %v", f, err)
		}
	}

	invalid := []Fix{NewFix(1e300, 27.7), NewFix(-180.0001, 0), NewFix(0, 90.5), NewFix(math.NaN(), 0), NewFix(0, math.Inf(1))}
	for _, f := range invalid {
		if err := f.Validate(); !errors.Is(err, ErrInvalidFix) {
			t.Errorf("Fix %v deveria ser rejeitado com ErrInvalidFix, obtido %v", f, err)
		}
	}
}

func TestFeed_PushAndUnsubscribe(t *testing.T) {
	f := NewFeed()

	var fixes []Fix
	var codes []ErrorCode
	unsub := f.Subscribe(
		func(fix Fix) { fixes = append(fixes, fix) },
		func(code ErrorCode) { codes = append(codes, code) },
	)

	if err := f.Push(NewFix(1, 2)); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if err := f.PushError(Timeout); err != nil {
		t.Fatalf("PushError failed: %v", err)
	}

	unsub()
	unsub()

	_ = f.Push(NewFix(3, 4))

	if len(fixes) != 1 || fixes[0].Lng != 1 || fixes[0].Lat != 2 {
		t.Errorf("Expected exactly the first fix, got %v", fixes)
	}
	if len(codes) != 1 || codes[0] != Timeout {
		t.Errorf("Expected one Timeout, got %v", codes)
	}

	stats := f.GetStats()
	if stats["subscribers"] != 0 {
		t.Errorf("Expected 0 subscribers, got %v", stats["subscribers"])
	}
}

func TestFeed_NilCallbacks(t *testing.T) {
	f := NewFeed()
	unsub := f.Subscribe(nil, nil)
	defer unsub()

	if err := f.Push(NewFix(0, 0)); err != nil {
		t.Errorf("Push with nil callback should succeed: %v", err)
	}
	if err := f.PushError(PermissionDenied); err != nil {
		t.Errorf("PushError with nil callback should succeed: %v", err)
	}
}

func TestFeed_Closed(t *testing.T) {
	f := NewFeed()
	f.Close()

	if err := f.Push(NewFix(0, 0)); err != ErrSourceClosed {
		t.Errorf("Expected ErrSourceClosed, got %v", err)
	}
}

func TestSimulatedSource_Tick(t *testing.T) {
	s := NewSimulatedSource("sim", 85.3072, 27.7042, time.Hour, 7)
	s.SetErrorRate(0)
	s.SetStep(0.0001)

	var fixes []Fix
	defer s.Subscribe(func(f Fix) { fixes = append(fixes, f) }, nil)()

	for i := 0; i < 10; i++ {
		s.Tick()
	}

	if len(fixes) != 10 {
		t.Fatalf("Expected 10 fixes, got %d", len(fixes))
	}

	prevLng, prevLat := 85.3072, 27.7042
	for i, f := range fixes {
		if d := abs(f.Lng - prevLng); d > 0.0001+1e-12 {
			t.Errorf("Fix %d moved %.6f in lng, exceeding the step", i, d)
		}
		if d := abs(f.Lat - prevLat); d > 0.0001+1e-12 {
			t.Errorf("Fix %d moved %.6f in lat, exceeding the step", i, d)
		}
		prevLng, prevLat = f.Lng, f.Lat
	}

	lng, lat := s.Position()
	if lng != prevLng || lat != prevLat {
		t.Error("Position should match the last emitted fix")
	}
}

func TestSimulatedSource_AlwaysErrors(t *testing.T) {
	s := NewSimulatedSource("sim", 0, 0, time.Hour, 1)
	s.SetErrorRate(1)

	var codes []ErrorCode
	var fixes int
	defer s.Subscribe(func(Fix) { fixes++ }, func(c ErrorCode) { codes = append(codes, c) })()

	for i := 0; i < 5; i++ {
		s.Tick()
	}

	if fixes != 0 {
		t.Errorf("Expected no fixes, got %d", fixes)
	}
	if len(codes) != 5 {
		t.Fatalf("Expected 5 errors, got %d", len(codes))
	}
	for _, c := range codes {
		if c < PermissionDenied || c > Timeout {
			t.Errorf("Error code out of range: %d", c)
		}
	}
}

func TestSimulatedSource_StartStop(t *testing.T) {
	s := NewSimulatedSource("sim", 0, 0, 20*time.Millisecond, 3)
	s.SetErrorRate(0)

	var mu sync.Mutex
	count := 0
	unsub := s.Subscribe(func(Fix) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)
	defer unsub()

	s.Start()
	s.Start()
	time.Sleep(90 * time.Millisecond)
	s.Stop()
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if count < 2 {
		t.Errorf("Expected at least 2 fixes, got %d", count)
	}
	if s.GetStats()["running"] != false {
		t.Error("Source should not be running after Stop()")
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
