// Command netsigil computes deterministic TLS and HTTP/2 client signatures
// from captured handshake material. Input can be a raw binary dump, a hex
// dump, a pcap/pcapng capture, or (for HTTP/2) an `nghttpd -v` log.
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/netsigil/netsigil"
	"github.com/netsigil/netsigil/nghttpdlog"
)

var (
	// Version information (set via ldflags during build)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var log = logrus.New()

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "netsigil",
		Short: "TLS and HTTP/2 client signature engine",
		Long: `netsigil decodes TLS ClientHello messages and HTTP/2 connection preludes
into structured signature records, serializes them into a canonical form and
prints the canonical string together with its SHA-1 digest.

Two clients with the same digest sent byte-equivalent handshakes up to GREASE
randomization; the digest is stable across runs and across platforms.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			log.SetOutput(os.Stderr)
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	cmd.AddCommand(newTLSCmd())
	cmd.AddCommand(newHTTP2Cmd())

	return cmd
}

func newTLSCmd() *cobra.Command {
	var hashOnly bool

	cmd := &cobra.Command{
		Use:   "tls <input>",
		Short: "Fingerprint a TLS ClientHello",
		Long: `Decode a TLS ClientHello and print its canonical signature and SHA-1 digest.

The input file may contain the raw handshake bytes (with or without the
record layer), a hex dump of them, or a pcap/pcapng capture ("-" reads raw
or hex bytes from stdin). For captures, the first packet whose payload
decodes as a ClientHello is used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, err := tlsSignatureFromFile(args[0])
			if err != nil {
				return err
			}
			printSignature(cmd.OutOrStdout(), sig, hashOnly)
			return nil
		},
	}

	cmd.Flags().BoolVar(&hashOnly, "hash-only", false, "Print only the SHA-1 digest")

	return cmd
}

func newHTTP2Cmd() *cobra.Command {
	var (
		hashOnly bool
		nghttpd  bool
	)

	cmd := &cobra.Command{
		Use:   "http2 <input>",
		Short: "Fingerprint an HTTP/2 connection prelude",
		Long: `Decode the client side of an HTTP/2 connection prelude and print its
canonical signature and SHA-1 digest.

The input file may contain the raw frame bytes (the connection preface, if
present, is skipped) or a hex dump of them ("-" reads from stdin). With
--nghttpd-log the input is parsed as the verbose output of nghttpd instead,
and one signature is printed per client in the log.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if nghttpd {
				return runNghttpdLog(cmd.OutOrStdout(), args[0], hashOnly)
			}
			raw, err := readInput(args[0])
			if err != nil {
				return err
			}
			sig, err := netsigil.DecodeHTTP2Frames(raw)
			if err != nil {
				return err
			}
			log.WithField("frames", len(sig.Frames)).Debug("decoded HTTP/2 prelude")
			printSignature(cmd.OutOrStdout(), sig, hashOnly)
			return nil
		},
	}

	cmd.Flags().BoolVar(&hashOnly, "hash-only", false, "Print only the SHA-1 digest")
	cmd.Flags().BoolVar(&nghttpd, "nghttpd-log", false, "Parse the input as `nghttpd -v` output")

	return cmd
}

func runNghttpdLog(out io.Writer, path string, hashOnly bool) error {
	raw, err := readFile(path)
	if err != nil {
		return err
	}
	clients, err := nghttpdlog.Parse(string(raw))
	if err != nil {
		return err
	}
	if len(clients) == 0 {
		return fmt.Errorf("no clients found in %s", path)
	}
	for _, client := range clients {
		fmt.Fprintf(out, "client %d:\n", client.ID)
		printSignature(out, client.Signature, hashOnly)
	}
	return nil
}

func printSignature(out io.Writer, sig netsigil.Signature, hashOnly bool) {
	if !hashOnly {
		fmt.Fprintln(out, sig.Canonicalize())
	}
	fmt.Fprintln(out, sig.Hash())
}

func tlsSignatureFromFile(path string) (*netsigil.TLSSignature, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcap", ".pcapng":
		return helloFromCapture(path)
	}
	raw, err := readInput(path)
	if err != nil {
		return nil, err
	}
	return netsigil.DecodeClientHello(raw)
}

// helloFromCapture scans a capture file and fingerprints the first packet
// whose payload decodes as a ClientHello.
func helloFromCapture(path string) (*netsigil.TLSSignature, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var source *gopacket.PacketSource
	if strings.EqualFold(filepath.Ext(path), ".pcapng") {
		r, err := pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, err
		}
		source = gopacket.NewPacketSource(r, r.LinkType())
	} else {
		r, err := pcapgo.NewReader(f)
		if err != nil {
			return nil, err
		}
		source = gopacket.NewPacketSource(r, r.LinkType())
	}

	for packet := range source.Packets() {
		app := packet.ApplicationLayer()
		if app == nil {
			continue
		}
		sig, err := netsigil.DecodeClientHello(app.Payload())
		if err != nil {
			log.WithError(err).Debug("skipping packet")
			continue
		}
		return sig, nil
	}
	return nil, fmt.Errorf("no ClientHello found in %s", path)
}

// readInput reads a file (or stdin for "-") and hex-decodes the contents
// when they look like a hex dump.
func readInput(path string) ([]byte, error) {
	raw, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if decoded, ok := tryHex(raw); ok {
		return decoded, nil
	}
	return raw, nil
}

func readFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func tryHex(raw []byte) ([]byte, bool) {
	s := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			return -1
		}
		return r
	}, string(raw))
	if len(s) == 0 || len(s)%2 != 0 {
		return nil, false
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return nil, false
	}
	return decoded, true
}
