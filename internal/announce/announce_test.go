package announce_test

import (
	"context"
	"testing"
	"time"

	"github.com/rohde-schwarz/tracy/internal/announce"
)

func TestConfigEnabledRequiresAllThree(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  announce.Config
		want bool
	}{
		{"fully configured", announce.Config{Interval: time.Second, IfaceAddr: "127.0.0.1", MulticastAddr: announce.DefaultIPv4Dest}, true},
		{"zero interval", announce.Config{Interval: 0, IfaceAddr: "127.0.0.1", MulticastAddr: announce.DefaultIPv4Dest}, false},
		{"no iface", announce.Config{Interval: time.Second, IfaceAddr: "", MulticastAddr: announce.DefaultIPv4Dest}, false},
		{"no mcast addr", announce.Config{Interval: time.Second, IfaceAddr: "127.0.0.1", MulticastAddr: ""}, false},
	}

	for _, c := range cases {
		if got := c.cfg.Enabled(); got != c.want {
			t.Errorf("%s: want %v, have %v", c.name, c.want, got)
		}
	}
}

func TestDisabledAnnouncerNeverBindsOrSends(t *testing.T) {
	t.Parallel()

	a, err := announce.New(announce.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run on disabled announcer: %v", err)
	}
}

func TestEnabledAnnouncerBindsLoopback(t *testing.T) {
	t.Parallel()

	a, err := announce.New(announce.Config{
		Interval:      5 * time.Millisecond,
		IfaceAddr:     "127.0.0.1",
		MulticastAddr: announce.DefaultIPv4Dest,
		Hostname:      "host1",
		Process:       "proc1",
	})
	if err != nil {
		t.Skipf("multicast socket unavailable in this environment: %v", err)
	}

	a.SetTCPPort(12345)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := a.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestPauseResumeDoNotPanic(t *testing.T) {
	t.Parallel()

	a, err := announce.New(announce.Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a.Pause()
	a.Resume()
}
