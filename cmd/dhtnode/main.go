/*
dhtnode runs a standalone Mainline DHT node: it answers KRPC queries,
maintains a routing table, and samples the keyspace via BEP-51.
*/
package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/kadnode/dhtnode"
	"github.com/kadnode/dhtnode/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "dhtnode.yaml", "path to the YAML config file")
	bindV4 := flag.String("bind_v4", "", "override the configured IPv4 bind address (host:port)")
	bindV6 := flag.String("bind_v6", "", "override the configured IPv6 bind address (host:port)")
	state := flag.String("state", "", "override the configured state directory")
	peer := flag.String("peer", "", "comma-separated extra bootstrap peer addresses (host:port)")
	timeout := flag.Int("timeout", 0, "override the configured query timeout in milliseconds")
	noVerifyID := flag.Bool("no-verify-id", false, "skip BEP-42 id derivation, use a random node id")
	publicIP := flag.String("public_ip", "", "override the configured public IP used to derive a BEP-42 node id")
	logLevel := flag.String("loglevel", "", "override the configured log level")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dhtnode: %v\n", err)
		return dhtnode.ExitErrorConfigRead
	}
	applyOverrides(cfg, *bindV4, *bindV6, *state, *timeout, *noVerifyID, *publicIP, *logLevel)

	n, err := dhtnode.New(cfg)
	if err != nil {
		var stateErr *dhtnode.StateStoreError
		if errors.As(err, &stateErr) {
			fmt.Fprintf(os.Stderr, "dhtnode: state store failed: %v\n", err)
			return dhtnode.ExitErrorStateStore
		}
		fmt.Fprintf(os.Stderr, "dhtnode: bind failed: %v\n", err)
		return dhtnode.ExitErrorBind
	}

	peers, err := resolveBootstrapPeers(cfg.BootstrapPeers, *peer)
	if err != nil {
		n.Logger.Printf("dhtnode: %v", err)
	}

	if err := n.Connect(peers); err != nil {
		n.Logger.Printf("dhtnode: bootstrap failed: %v", err)
		n.Close()
		return dhtnode.ExitErrorBootstrap
	}

	n.Logger.Printf("dhtnode: listening on %s, id %s", n.Messenger.LocalAddr(), n.ID)

	waitForSignal()
	n.Logger.Printf("dhtnode: shutting down")
	if err := n.Close(); err != nil {
		n.Logger.Printf("dhtnode: error during shutdown: %v", err)
	}
	return dhtnode.ExitSuccess
}

func applyOverrides(cfg *config.Config, bindV4, bindV6, state string, timeoutMS int, noVerifyID bool, publicIP, logLevel string) {
	if bindV4 != "" {
		cfg.BindV4 = bindV4
	}
	if bindV6 != "" {
		cfg.BindV6 = bindV6
	}
	if state != "" {
		cfg.StateDir = state
	}
	if timeoutMS > 0 {
		cfg.TimeoutMS = timeoutMS
	}
	if noVerifyID {
		cfg.NoVerifyID = true
	}
	if publicIP != "" {
		cfg.PublicIP = publicIP
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
}

func resolveBootstrapPeers(configured []string, extra string) ([]*net.UDPAddr, error) {
	all := append([]string{}, configured...)
	for _, a := range splitNonEmpty(extra, ',') {
		all = append(all, a)
	}

	var addrs []*net.UDPAddr
	var firstErr error
	for _, a := range all {
		addr, err := net.ResolveUDPAddr("udp", a)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs, firstErr
}

func splitNonEmpty(s string, sep rune) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i, r := range s {
		if r == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
