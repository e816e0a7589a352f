// Command leafclient is the file-owner CLI: it disperses a file across
// the broadcast peer set or collects one back given its manifest.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/leafstore/leafnode/internal/client"
	"github.com/leafstore/leafnode/internal/config"
	"github.com/leafstore/leafnode/internal/crypto"
	"github.com/leafstore/leafnode/internal/manifest"
	"github.com/leafstore/leafnode/internal/metrics"
	"github.com/leafstore/leafnode/internal/transport"
)

// Exit codes.
const (
	exitOK             = 0
	exitUsage          = 1
	exitEncodeError    = 2
	exitCipherError    = 3
	exitTransportError = 4
	exitUnrecoverable  = 5
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "", "YAML config file (optional)")
	keyHex := flag.String("key-hex", "", "32-byte hex encryption key, overrides config")
	broadcastAddr := flag.String("broadcast-addr", "", "broadcast address override, host:port")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus /metrics on this address, e.g. :9101 (disabled if empty)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <send|receive> <path>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		flag.Usage()
		return exitUsage
	}
	mode, path := args[0], args[1]

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return exitUsage
	}
	if *keyHex != "" {
		cfg.Crypto.KeyHex = *keyHex
	}
	if *broadcastAddr != "" {
		cfg.Network.BroadcastAddr = *broadcastAddr
	}

	key, err := hex.DecodeString(cfg.Crypto.KeyHex)
	if err != nil || len(key) != 32 {
		fmt.Fprintln(os.Stderr, "key-hex must decode to exactly 32 bytes")
		return exitCipherError
	}

	addr, err := resolveBroadcast(cfg.Network.BroadcastAddr, cfg.Network.Port)
	if err != nil {
		fmt.Fprintln(os.Stderr, "broadcast address:", err)
		return exitTransportError
	}

	ep, err := transport.Dial(transport.Config{
		SendTimeout: cfg.Network.SendTimeout,
		RecvTimeout: cfg.Network.RecvTimeout,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		return exitTransportError
	}
	defer ep.Close()

	hasher := crypto.NewSHA256Hasher()
	enc, err := crypto.NewChaCha20Poly1305Encryptor(key)
	if err != nil {
		fmt.Fprintln(os.Stderr, "cipher init:", err)
		return exitCipherError
	}

	m := metrics.New()
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", m.Handler())
			http.ListenAndServe(*metricsAddr, mux)
		}()
	}

	c := client.New(ep, hasher, addr, cfg.Network.SendTimeout, cfg.Network.RecvTimeout)
	fc := client.NewFileClient(c, hasher, enc, m)

	switch mode {
	case "send":
		return doSend(fc, hasher, path)
	case "receive":
		return doReceive(fc, hasher, path)
	default:
		flag.Usage()
		return exitUsage
	}
}

func doSend(fc *client.FileClient, hasher crypto.Hasher, path string) int {
	payload, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read file:", err)
		return exitUsage
	}

	m, err := fc.Disperse(payload)
	if err != nil {
		fmt.Fprintln(os.Stderr, "disperse:", err)
		return exitEncodeError
	}

	manifestPath := path + ".leafmanifest"
	if err := os.WriteFile(manifestPath, m.EncodeFile(), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "write manifest:", err)
		return exitEncodeError
	}

	missing := 0
	for _, e := range m.Entries {
		if !e.Present {
			missing++
		}
	}
	if missing > 0 {
		fmt.Fprintf(os.Stderr, "warning: %d of %d shards failed to disperse\n", missing, len(m.Entries))
	}
	fmt.Println(manifestPath)
	return exitOK
}

func doReceive(fc *client.FileClient, hasher crypto.Hasher, path string) int {
	manifestPath := path + ".leafmanifest"
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read manifest:", err)
		return exitUsage
	}

	m, err := manifest.DecodeFile(raw, hasher.Size())
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode manifest:", err)
		return exitEncodeError
	}

	payload, err := fc.Collect(m)
	if err != nil {
		fmt.Fprintln(os.Stderr, "collect:", err)
		return exitUnrecoverable
	}

	if err := os.WriteFile(path, payload, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, "write file:", err)
		return exitEncodeError
	}
	return exitOK
}

func resolveBroadcast(addr string, port int) (*net.UDPAddr, error) {
	host := addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		host = net.JoinHostPort(addr, strconv.Itoa(port))
	}
	return net.ResolveUDPAddr("udp4", host)
}
