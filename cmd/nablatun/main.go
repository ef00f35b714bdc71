// Command nablatun runs a single user-space IP tunnel of the requested
// variant (SPEC_FULL.md §6): ether, AYIYA ("tic"), IPv4-in-IPv6 ("v4v6",
// "v4v6test"), or 6in4 ("v6v4test"). No mode selects the 6in4-heartbeat or
// IPv4-in-IPv4 variants.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/netip"
	"os"
	ossignal "os/signal"

	"nablatun/infrastructure/PAL/signal"
	"nablatun/infrastructure/PAL/tun_client"
	"nablatun/infrastructure/logging"
	"nablatun/internal/endpoint"
	"nablatun/internal/tunnel"
	"nablatun/internal/tunnel/variants/ayiya"
	"nablatun/internal/tunnel/variants/ether"
	"nablatun/internal/tunnel/variants/v4ip"
	"nablatun/internal/tunnel/variants/v6v4"
)

const (
	exitOK       = 0
	exitArgError = 1
	exitInitFail = 255 // -1, the POSIX-visible byte value
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		printUsage()
		return exitArgError
	}

	mode := args[0]
	rest := args[1:]
	logger := logging.NewLogLogger()

	var ep endpoint.Endpoint
	var variant tunnel.Variant
	var err error

	switch mode {
	case "ether":
		ep, variant, err = buildEther(rest)
	case "tic":
		ep, variant, err = buildTic(rest)
	case "v4v6":
		ep, variant, err = buildV4V6(rest)
	case "v4v6test":
		ep, variant, err = buildV4V6Loopback()
	case "v6v4test":
		ep, variant, err = buildV6V4Loopback()
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", mode)
		printUsage()
		return exitArgError
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", mode, err)
		return exitArgError
	}

	ifName := flagIfaceName(mode)
	manager := tun_client.NewPlatformTunManager()
	dev, err := manager.CreateDevice(ifName, ep.LocalIPv4, ep.LocalPrefix, ep.LocalMTU)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: failed to create interface: %v\n", mode, err)
		return exitInitFail
	}
	defer func() {
		_ = dev.Close()
		_ = manager.DisposeDevice(ifName)
	}()

	t, err := tunnel.Init(ep, variant, dev, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: init failed: %v\n", mode, err)
		return exitInitFail
	}

	if err := t.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: start failed: %v\n", mode, err)
		return exitInitFail
	}

	waitForShutdown()

	if err := t.Destroy(); err != nil {
		log.Printf("%s: shutdown error: %v", mode, err)
	}
	return exitOK
}

// waitForShutdown blocks until the process receives one of the provider's
// shutdown signals, then lets the caller run the supervisor's stop/destroy.
func waitForShutdown() {
	provider := signal.NewDefaultProvider()
	ch := make(chan os.Signal, 1)
	ossignal.Notify(ch, provider.ShutdownSignals()...)
	<-ch
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage:
  nablatun ether <remote-ipv4> <remote-port>
  nablatun tic [<user> <pass>]
  nablatun v4v6 <local-ipv4/prefix> <remote-ipv6>
  nablatun v4v6test
  nablatun v6v4test`)
}

func flagIfaceName(mode string) string {
	return "tun0"
}

func buildEther(args []string) (endpoint.Endpoint, tunnel.Variant, error) {
	fs := flag.NewFlagSet("ether", flag.ContinueOnError)
	local := fs.String("local-ipv4", "10.0.0.1/24", "local IPv4 address/prefix for the virtual interface")
	mtu := fs.Int("mtu", 0, "interface MTU (0 = variant default)")
	if err := fs.Parse(args); err != nil {
		return endpoint.Endpoint{}, nil, err
	}
	if fs.NArg() != 2 {
		return endpoint.Endpoint{}, nil, fmt.Errorf("usage: ether <remote-ipv4> <remote-port>")
	}

	localAddr, prefix, err := parseCIDR(*local)
	if err != nil {
		return endpoint.Endpoint{}, nil, err
	}
	remoteIPv4, err := netip.ParseAddr(fs.Arg(0))
	if err != nil {
		return endpoint.Endpoint{}, nil, fmt.Errorf("invalid remote-ipv4: %w", err)
	}
	port, err := parsePort(fs.Arg(1))
	if err != nil {
		return endpoint.Endpoint{}, nil, err
	}

	ep, err := endpoint.New(endpoint.Endpoint{
		Type:        endpoint.Ether,
		LocalIPv4:   localAddr,
		LocalPrefix: prefix,
		LocalMTU:    *mtu,
		RemoteIPv4:  remoteIPv4,
		RemotePort:  port,
	})
	if err != nil {
		return endpoint.Endpoint{}, nil, err
	}
	return ep, ether.New(), nil
}

func buildTic(args []string) (endpoint.Endpoint, tunnel.Variant, error) {
	fs := flag.NewFlagSet("tic", flag.ContinueOnError)
	local := fs.String("local-ipv4", "192.0.2.1/24", "local IPv4 address/prefix for the virtual interface")
	localIPv6 := fs.String("local-ipv6", "2001:db8::1", "local tunnel IPv6 address")
	remoteIPv6 := fs.String("remote-ipv6", "2001:db8::2", "PoP tunnel IPv6 address")
	remoteIPv4 := fs.String("remote-ipv4", "127.0.0.1", "PoP IPv4 address")
	beat := fs.Int("beat-interval", 30, "beat interval in seconds")
	if err := fs.Parse(args); err != nil {
		return endpoint.Endpoint{}, nil, err
	}

	// A real TIC broker login is out of scope (SPEC_FULL.md Non-goals): with
	// or without credentials on the command line, this mode exercises the
	// AYIYA variant against a locally supplied endpoint rather than fetching
	// one from a broker over the network.
	password := []byte("nablatun-selftest")
	if fs.NArg() >= 2 {
		password = []byte(fs.Arg(1))
	}

	localAddr, prefix, err := parseCIDR(*local)
	if err != nil {
		return endpoint.Endpoint{}, nil, err
	}
	local6, err := netip.ParseAddr(*localIPv6)
	if err != nil {
		return endpoint.Endpoint{}, nil, fmt.Errorf("invalid local-ipv6: %w", err)
	}
	remote6, err := netip.ParseAddr(*remoteIPv6)
	if err != nil {
		return endpoint.Endpoint{}, nil, fmt.Errorf("invalid remote-ipv6: %w", err)
	}
	remote4, err := netip.ParseAddr(*remoteIPv4)
	if err != nil {
		return endpoint.Endpoint{}, nil, fmt.Errorf("invalid remote-ipv4: %w", err)
	}

	ep, err := endpoint.New(endpoint.Endpoint{
		Type:         endpoint.AYIYA,
		LocalIPv4:    localAddr,
		LocalPrefix:  prefix,
		LocalIPv6:    local6,
		RemoteIPv6:   remote6,
		RemoteIPv4:   remote4,
		Password:     password,
		BeatInterval: *beat,
	})
	if err != nil {
		return endpoint.Endpoint{}, nil, err
	}
	return ep, ayiya.New(), nil
}

func buildV4V6(args []string) (endpoint.Endpoint, tunnel.Variant, error) {
	fs := flag.NewFlagSet("v4v6", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return endpoint.Endpoint{}, nil, err
	}
	if fs.NArg() != 2 {
		return endpoint.Endpoint{}, nil, fmt.Errorf("usage: v4v6 <local-ipv4/prefix> <remote-ipv6>")
	}

	localAddr, prefix, err := parseCIDR(fs.Arg(0))
	if err != nil {
		return endpoint.Endpoint{}, nil, err
	}
	remote6, err := netip.ParseAddr(fs.Arg(1))
	if err != nil {
		return endpoint.Endpoint{}, nil, fmt.Errorf("invalid remote-ipv6: %w", err)
	}

	ep, err := endpoint.New(endpoint.Endpoint{
		Type:        endpoint.V4V6,
		LocalIPv4:   localAddr,
		LocalPrefix: prefix,
		RemoteIPv6:  remote6,
	})
	if err != nil {
		return endpoint.Endpoint{}, nil, err
	}
	return ep, v4ip.New(), nil
}

// buildV4V6Loopback exercises the v4v6 variant against the loopback
// addresses, without requiring an operator-supplied remote.
func buildV4V6Loopback() (endpoint.Endpoint, tunnel.Variant, error) {
	ep, err := endpoint.New(endpoint.Endpoint{
		Type:        endpoint.V4V6,
		LocalIPv4:   netip.MustParseAddr("192.0.2.1"),
		LocalPrefix: 24,
		RemoteIPv6:  netip.MustParseAddr("::1"),
	})
	if err != nil {
		return endpoint.Endpoint{}, nil, err
	}
	return ep, v4ip.New(), nil
}

// buildV6V4Loopback exercises the 6in4 variant against the loopback
// address.
func buildV6V4Loopback() (endpoint.Endpoint, tunnel.Variant, error) {
	ep, err := endpoint.New(endpoint.Endpoint{
		Type:        endpoint.V6V4,
		LocalIPv4:   netip.MustParseAddr("192.0.2.1"),
		LocalPrefix: 24,
		LocalIPv6:   netip.MustParseAddr("2001:db8::1"),
		RemoteIPv4:  netip.MustParseAddr("127.0.0.1"),
	})
	if err != nil {
		return endpoint.Endpoint{}, nil, err
	}
	return ep, v6v4.New(), nil
}

func parseCIDR(s string) (netip.Addr, int, error) {
	prefix, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Addr{}, 0, fmt.Errorf("invalid address/prefix %q: %w", s, err)
	}
	return prefix.Addr(), prefix.Bits(), nil
}

func parsePort(s string) (uint16, error) {
	var port uint16
	if _, err := fmt.Sscanf(s, "%d", &port); err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	return port, nil
}
