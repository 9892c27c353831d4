package session

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/danmuck/bittyctl/internal/protocol"
	"github.com/danmuck/bittyctl/internal/testutil/fakeport"
	"github.com/danmuck/bittyctl/internal/testutil/testlog"
)

const testUnit = 20 * time.Millisecond

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Unit = testUnit
	return cfg
}

func TestAwaitEchoMatchesAndCollectsOutput(t *testing.T) {
	testlog.Start(t)
	p := fakeport.New("/dev/ttyFAKE0")
	p.Feed("booting", "IMU ready", "l")

	echo, err := AwaitEcho(context.Background(), p, protocol.TokenAbsoluteSet, 0, testConfig())
	if err != nil {
		t.Fatalf("await echo: %v", err)
	}
	if echo.Line != "l" {
		t.Fatalf("unexpected matched line: %q", echo.Line)
	}
	if !reflect.DeepEqual(echo.Output, []string{"booting", "IMU ready"}) {
		t.Fatalf("unexpected output: %v", echo.Output)
	}
}

func TestAwaitEchoPauseAcceptsRestEcho(t *testing.T) {
	testlog.Start(t)
	p := fakeport.New("/dev/ttyFAKE0")
	p.Feed("k")
	echo, err := AwaitEcho(context.Background(), p, protocol.TokenPause, 0, testConfig())
	if err != nil || echo.Line != "k" {
		t.Fatalf("expected rest echo to satisfy pause, got line=%q err=%v", echo.Line, err)
	}
}

func TestAwaitEchoDecodesNonUTF8(t *testing.T) {
	testlog.Start(t)
	p := fakeport.New("/dev/ttyFAKE0")
	p.FeedRaw([]byte{0xFF, 0xFE, '\r', '\n', 'd', '\r', '\n'})
	echo, err := AwaitEcho(context.Background(), p, protocol.TokenDisconnect, 0, testConfig())
	if err != nil {
		t.Fatalf("await echo: %v", err)
	}
	if len(echo.Output) != 1 || echo.Output[0] != "ÿþ" {
		t.Fatalf("unexpected decoded output: %q", echo.Output)
	}
}

func TestAwaitEchoEscalatingTimeout(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	slack := 3 * testUnit

	p := fakeport.New("/dev/ttyFAKE0")
	start := time.Now()
	_, err := AwaitEcho(context.Background(), p, protocol.TokenAbsoluteSet, 0, cfg)
	elapsed := time.Since(start)
	if !errors.Is(err, ErrResponseTimeout) {
		t.Fatalf("expected ErrResponseTimeout, got %v", err)
	}
	if elapsed < cfg.Units(3) || elapsed > cfg.Units(5)+slack {
		t.Fatalf("short token timeout outside [3,5] units: %v", elapsed)
	}

	start = time.Now()
	_, err = AwaitEcho(context.Background(), p, protocol.TokenSkill, 0, cfg)
	elapsed = time.Since(start)
	if !errors.Is(err, ErrResponseTimeout) {
		t.Fatalf("expected ErrResponseTimeout, got %v", err)
	}
	if elapsed < cfg.Units(4) || elapsed > cfg.Units(6)+slack {
		t.Fatalf("long token timeout outside [4,6] units: %v", elapsed)
	}
}

func TestAwaitEchoHardTimeoutWins(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	p := fakeport.New("/dev/ttyFAKE0")
	start := time.Now()
	_, err := AwaitEcho(context.Background(), p, protocol.TokenIndexedSet, cfg.Units(1), cfg)
	elapsed := time.Since(start)
	if !errors.Is(err, ErrResponseTimeout) {
		t.Fatalf("expected ErrResponseTimeout, got %v", err)
	}
	if elapsed < cfg.Units(1) || elapsed >= cfg.Units(3) {
		t.Fatalf("hard timeout not honored: %v", elapsed)
	}
}

func TestAwaitEchoReadErrorSurfaces(t *testing.T) {
	testlog.Start(t)
	p := fakeport.New("/dev/ttyFAKE0")
	p.FailReads()
	_, err := AwaitEcho(context.Background(), p, protocol.TokenProbe, 0, testConfig())
	if !errors.Is(err, fakeport.ErrInjected) {
		t.Fatalf("expected injected read error, got %v", err)
	}
}

func TestAwaitEchoContextCancel(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithTimeout(context.Background(), testUnit/2)
	defer cancel()
	_, err := AwaitEcho(ctx, fakeport.New("/dev/ttyFAKE0"), protocol.TokenProbe, 0, testConfig())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestTrimResponse(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"k\r\n":       "k",
		"k\n":         "k",
		"L\rjunk\r\n": "L",
		"":            "",
	}
	for in, want := range cases {
		if got := trimResponse(in); got != want {
			t.Fatalf("trimResponse(%q)=%q want %q", in, got, want)
		}
	}
}

func TestConfigWithDefaultsAndUnits(t *testing.T) {
	testlog.Start(t)
	cfg := Config{Unit: 10 * time.Millisecond}.WithDefaults()
	if cfg.Echo.Ceiling != 5 || cfg.DiscoveryJoin != 8 || cfg.ValidationDeadline != 12 || cfg.Frame.ChunkSize != 20 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if got := cfg.Units(cfg.CorrectionSpacing); got != 100*time.Microsecond {
		t.Fatalf("unexpected correction spacing: %v", got)
	}
}
