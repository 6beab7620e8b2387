package wms

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"os"
	"strings"
	"testing"
	"time"
)

// fakeStick answers the init handshake and records every command it receives.
type fakeStick struct {
	conn     net.Conn
	received chan string
}

func newFakeStick(t *testing.T, conn net.Conn) *fakeStick {
	t.Helper()
	f := &fakeStick{conn: conn, received: make(chan string, 32)}
	go f.serve()
	return f
}

func (f *fakeStick) serve() {
	r := bufio.NewReader(f.conn)
	for {
		raw, err := r.ReadString('}')
		if err != nil {
			return
		}
		body, _ := decodeFrame(raw)
		switch {
		case body == "G":
			f.send("gWMS USB-Stick")
		case body == "V":
			f.send("v37605107 ")
		case strings.HasPrefix(body, "K") || strings.HasPrefix(body, "M"):
			f.send("a")
		}
		f.received <- body
	}
}

func (f *fakeStick) send(body string) {
	_, _ = f.conn.Write(encodeFrame(body))
}

func (f *fakeStick) expect(t *testing.T, prefix string) string {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case body := <-f.received:
			if strings.HasPrefix(body, prefix) {
				return body
			}
		case <-timeout:
			t.Fatalf("no command with prefix %q", prefix)
			return ""
		}
	}
}

func newTestStick(t *testing.T, pan string) (*Stick, *fakeStick) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	a, b := net.Pipe()
	fake := newFakeStick(t, b)
	s := newStick(a, Settings{Port: "pipe", Channel: 17, PanID: pan, Key: "00112233445566778899AABBCCDDEEFF"}, logger)
	t.Cleanup(func() {
		s.Close()
		b.Close()
	})
	return s, fake
}

func nextEvent(t *testing.T, s *Stick, kind EventKind) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e, ok := <-s.Events():
			if !ok {
				t.Fatal("events channel closed")
			}
			if e.Kind == kind {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
			return Event{}
		}
	}
}

func TestStickInitEmitsCompletion(t *testing.T) {
	s, fake := newTestStick(t, "ABCD")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Run(ctx)

	nextEvent(t, s, EventInitCompletion)
	if got := fake.expect(t, "K401"); got != "K40100112233445566778899AABBCCDDEEFF" {
		t.Errorf("key command = %s", got)
	}
	if got := fake.expect(t, "M%"); got != "M%17ABCD" {
		t.Errorf("network command = %s", got)
	}
}

func TestStickDiscoveryModeSkipsInit(t *testing.T) {
	s, _ := newTestStick(t, "FFFF")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	select {
	case e := <-s.Events():
		t.Errorf("unexpected event %s in discovery mode", e.Kind)
	default:
	}
}

func TestStickScanCollectsResponses(t *testing.T) {
	s, fake := newTestStick(t, "ABCD")

	if err := s.ScanDevices(ScanOptions{Timeout: 300 * time.Millisecond}); err != nil {
		t.Fatalf("ScanDevices: %v", err)
	}
	fake.expect(t, "R04FFFFFF7020")
	fake.send("r393000" + msgScanResponse + "ABCD" + "20" + "00")
	fake.send("r563412" + msgScanResponse + "ABCD" + "25" + "00")
	fake.send("r393000" + msgScanResponse + "ABCD" + "20" + "00")

	e := nextEvent(t, s, EventScannedDevices)
	p, ok := e.Payload.(ScanPayload)
	if !ok {
		t.Fatalf("payload type %T", e.Payload)
	}
	if len(p.Devices) != 2 {
		t.Fatalf("devices = %+v, want 2", p.Devices)
	}
	if p.Devices[0].Serial != "1193046" || p.Devices[0].Type != "25" {
		t.Errorf("devices[0] = %+v", p.Devices[0])
	}
	if p.Devices[1].Serial != "12345" || p.Devices[1].Type != "20" {
		t.Errorf("devices[1] = %+v", p.Devices[1])
	}
}

func TestStickPositionAndWeatherEvents(t *testing.T) {
	s, fake := newTestStick(t, "ABCD")

	if err := s.AddBlind("12345", "12345"); err != nil {
		t.Fatalf("AddBlind: %v", err)
	}
	fake.expect(t, "R063930008010")

	fake.send("r393000" + msgPositionResponse + "01000005" + "C8" + "7F" + "00")
	e := nextEvent(t, s, EventPositionUpdate)
	pos := e.Payload.(PositionPayload)
	if pos.Serial != "12345" || *pos.Position != 100 || *pos.Angle != 0 || *pos.Moving {
		t.Errorf("position payload = %+v", pos)
	}

	fake.send("r563412" + msgWeatherBroadcast + "03" + "0064" + "50" + "00")
	e = nextEvent(t, s, EventWeatherBroadcast)
	w := e.Payload.(WeatherPayload)
	if w.Serial != "1193046" || w.Lumen != 100 || w.Wind != 3 || w.Temp != 5 || w.Rain {
		t.Errorf("weather payload = %+v", w)
	}
}

func TestStickMoveAndStopCommands(t *testing.T) {
	s, fake := newTestStick(t, "ABCD")

	angle := 0
	if err := s.SetBlindPosition("12345", 100, &angle); err != nil {
		t.Fatalf("SetBlindPosition: %v", err)
	}
	if got := fake.expect(t, "R06"); got != "R06393000707003C87FFFFF" {
		t.Errorf("move = %s", got)
	}
	if err := s.StopBlind("12345"); err != nil {
		t.Fatalf("StopBlind: %v", err)
	}
	if got := fake.expect(t, "R06"); got != "R06393000707001FFFFFFFF" {
		t.Errorf("stop = %s", got)
	}
}

func TestStickRejectsOutOfRange(t *testing.T) {
	s, _ := newTestStick(t, "ABCD")
	if err := s.SetBlindPosition("12345", 101, nil); err == nil {
		t.Error("expected error for position 101")
	}
	bad := 101
	if err := s.SetBlindPosition("12345", 50, &bad); err == nil {
		t.Error("expected error for angle 101")
	}
	if err := s.StopBlind("not-a-serial"); err == nil {
		t.Error("expected error for invalid serial")
	}
}

func TestDuePollsMovingBlinds(t *testing.T) {
	s, fake := newTestStick(t, "ABCD")
	s.SetPollingInterval(time.Hour)

	_ = s.AddBlind("12345", "a")
	fake.expect(t, "R06")
	_ = s.AddBlind("1193046", "b")
	fake.expect(t, "R06")

	if got := s.Blinds(); len(got) != 2 || got[0] != "1193046" || got[1] != "12345" {
		t.Errorf("Blinds() = %v, want sorted serials", got)
	}

	now := time.Now()
	if got := s.due(now); len(got) != 2 {
		t.Fatalf("first poll = %v, want both blinds", got)
	}
	if got := s.due(now.Add(time.Second)); len(got) != 0 {
		t.Fatalf("idle blinds polled again: %v", got)
	}

	s.markMoving("12345")
	got := s.due(now.Add(2 * time.Second))
	if len(got) != 1 || got[0] != "393000" {
		t.Errorf("moving poll = %v, want [393000]", got)
	}
}

func TestStickCloseClosesEvents(t *testing.T) {
	s, _ := newTestStick(t, "ABCD")
	if err := s.Close(); err != nil {
		t.Logf("close: %v", err)
	}
	select {
	case _, ok := <-s.Events():
		if ok {
			t.Error("events channel still open")
		}
	case <-time.After(time.Second):
		t.Error("events channel not closed")
	}
	if err := s.AddBlind("12345", "x"); err != ErrClosed {
		t.Errorf("AddBlind after close err = %v, want ErrClosed", err)
	}
}

func TestStickRunFailsWhenPortDies(t *testing.T) {
	s, fake := newTestStick(t, "ABCD")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	nextEvent(t, s, EventInitCompletion)

	fake.conn.Close()

	e := nextEvent(t, s, EventError)
	if e.Err == nil {
		t.Error("error event without error")
	}
	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "read") {
			t.Errorf("Run err = %v, want read error", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run still running after the port died")
	}
}

func TestStickRequestFailsWhenPortDies(t *testing.T) {
	s, fake := newTestStick(t, "ABCD")
	fake.conn.Close()
	nextEvent(t, s, EventError)

	if _, err := s.request(context.Background(), "G", frameName); err == nil {
		t.Error("request on a dead port succeeded")
	}
}
