// Package announce implements tracy's discovery protocol: a background
// goroutine that periodically emits a JSON-bearing UDP multicast
// datagram advertising the agent's TCP listener, until a client connects.
package announce

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/rohde-schwarz/tracy/internal/wire"
)

// DefaultIPv4Dest and DefaultIPv6Dest are the library's default announce
// destinations. DefaultPort replaces a port of 0 in the caller's
// multicast destination string.
const (
	DefaultIPv4Dest = "225.0.0.1:64042"
	DefaultIPv6Dest = "[ff02::4242:beef:1]:64042"
	DefaultPort     = 64042
)

// Config configures an Announcer. It is constructed from the parameters
// tracy.Config passes to tracy.New, unchanged in semantics from spec.md
// §4.4.
type Config struct {
	Interval      time.Duration // 0 disables announcing
	IfaceAddr     string        // "" disables announcing
	MulticastAddr string        // "" disables announcing
	Hostname      string
	Process       string
}

// Enabled reports whether cfg selects an active announcer, per spec.md's
// three independently-sufficient opt-out conditions.
func (cfg Config) Enabled() bool {
	return cfg.Interval > 0 && cfg.IfaceAddr != "" && cfg.MulticastAddr != ""
}

// Announcer periodically sends announce datagrams while enabled and not
// paused. A disabled Announcer (per Config.Enabled) is inert: Run returns
// immediately without binding any socket.
type Announcer struct {
	cfg  Config
	dest *net.UDPAddr
	conn *net.UDPConn

	tcpPort atomic.Int32
	paused  atomic.Bool
	seq     atomic.Uint64
}

// New validates and resolves cfg's addresses, binding a UDP socket to the
// configured interface if announcing is enabled. It never fails for a
// disabled configuration; a bind or resolve error for an enabled
// configuration is a tracy ConfigError candidate for the caller.
func New(cfg Config) (*Announcer, error) {
	a := &Announcer{cfg: cfg}
	if !cfg.Enabled() {
		return a, nil
	}

	dest, err := resolveDestination(cfg.MulticastAddr)
	if err != nil {
		return nil, fmt.Errorf("tracy: resolve announce destination: %w", err)
	}
	a.dest = dest

	conn, iface, err := bindMulticastSocket(cfg.IfaceAddr, dest)
	if err != nil {
		return nil, fmt.Errorf("tracy: bind announce socket: %w", err)
	}
	a.conn = conn

	if dest.IP.To4() != nil {
		pc := ipv4.NewPacketConn(conn)
		if iface != nil {
			_ = pc.SetMulticastInterface(iface)
		}
		_ = pc.SetMulticastTTL(1)
	} else {
		pc := ipv6.NewPacketConn(conn)
		if iface != nil {
			_ = pc.SetMulticastInterface(iface)
		}
		_ = pc.SetMulticastHopLimit(1)
	}

	return a, nil
}

func resolveDestination(addr string) (*net.UDPAddr, error) {
	dest, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	if dest.Port == 0 {
		dest.Port = DefaultPort
	}
	return dest, nil
}

// bindMulticastSocket binds a UDP socket local to ifaceAddr (an IPv4 or
// zoned IPv6 literal) and, best-effort, returns the *net.Interface that
// literal belongs to, so the caller can pin the multicast group's
// outgoing interface.
func bindMulticastSocket(ifaceAddr string, dest *net.UDPAddr) (*net.UDPConn, *net.Interface, error) {
	network := "udp4"
	if dest.IP.To4() == nil {
		network = "udp6"
	}

	local, err := net.ResolveUDPAddr(network, net.JoinHostPort(ifaceAddr, "0"))
	if err != nil {
		return nil, nil, err
	}

	conn, err := net.ListenUDP(network, local)
	if err != nil {
		return nil, nil, err
	}

	iface := findInterfaceForAddr(local.IP)
	return conn, iface, nil
}

func findInterfaceForAddr(ip net.IP) *net.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ipnet.IP.Equal(ip) {
				return &ifaces[i]
			}
		}
	}
	return nil
}

// SetTCPPort records the TCP listener's port, reported in every
// subsequent announce datagram's tcp_port field. The session worker calls
// this once, right after binding its listener.
func (a *Announcer) SetTCPPort(port int) {
	a.tcpPort.Store(int32(port))
}

// Pause suspends datagram emission without tearing the socket down. The
// session worker calls this on the Listening->Connected transition.
func (a *Announcer) Pause() {
	a.paused.Store(true)
}

// Resume lifts a prior Pause. The session worker calls this on any
// transition back to Listening.
func (a *Announcer) Resume() {
	a.paused.Store(false)
}

// Run blocks, emitting one datagram per Config.Interval while enabled and
// unpaused, until ctx is canceled. A disabled Announcer returns nil
// immediately.
func (a *Announcer) Run(ctx context.Context) error {
	if !a.cfg.Enabled() {
		return nil
	}
	defer a.conn.Close()

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if a.paused.Load() {
				continue
			}
			_ = a.send()
		}
	}
}

func (a *Announcer) send() error {
	msg := wire.Announce{
		Hostname: a.cfg.Hostname,
		Process:  a.cfg.Process,
		TCPPort:  int(a.tcpPort.Load()),
		Seq:      a.seq.Load(),
	}

	datagram, err := wire.EncodeAnnounce(msg)
	if err != nil {
		return err
	}

	_, err = a.conn.WriteToUDP(datagram, a.dest)
	a.seq.Add(1)
	return err
}
