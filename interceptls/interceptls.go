// Package interceptls wraps a net.Listener so that the ClientHello of every
// accepted connection is decoded into a netsigil.TLSSignature before the TLS
// handshake proceeds, and exposed to net/http handlers via the request
// context.
package interceptls

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/netsigil/netsigil"
)

// context key used for store/retrieve of the decoded signature
type contextKey string

const SignatureKey contextKey = "tlsSignature"

// HelloConn is a connection whose ClientHello has already been decoded.
type HelloConn struct {
	net.Conn
	Signature *netsigil.TLSSignature
}

// Custom Listener
type inspectingListener struct {
	net.Listener
	tlsConfig *tls.Config
}

// NewInterceptListener wraps listener so every accepted connection carries
// its decoded ClientHello signature and is then served TLS with tlsConfig.
func NewInterceptListener(listener net.Listener, tlsConfig *tls.Config) net.Listener {
	return &inspectingListener{Listener: listener, tlsConfig: tlsConfig}
}

// ConnContextHandler is meant for http.Server.ConnContext: it moves the
// decoded signature from the connection onto the request context.
func ConnContextHandler(ctx context.Context, c net.Conn) context.Context {
	if hc, ok := c.(*HelloConn); ok {
		return context.WithValue(ctx, SignatureKey, hc.Signature)
	}
	return ctx
}

// SignatureFromRequest returns the signature decoded for the connection the
// request arrived on, or nil when interception was not in place.
func SignatureFromRequest(r *http.Request) *netsigil.TLSSignature {
	return SignatureFromContext(r.Context())
}

// SignatureFromContext returns the signature stored by ConnContextHandler.
func SignatureFromContext(ctx context.Context) *netsigil.TLSSignature {
	if sig, ok := ctx.Value(SignatureKey).(*netsigil.TLSSignature); ok {
		return sig
	}
	return nil
}

func (l *inspectingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	peeked, err := peekClientHello(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("peekClientHello: %w", err)
	}

	// Decode failures are not fatal to the connection: the handshake still
	// proceeds, just without a signature attached.
	sig, _ := netsigil.DecodeClientHello(peeked)

	reader := io.MultiReader(bytes.NewReader(peeked), conn)
	wrapped := &readFirstConn{Conn: conn, Reader: reader}
	tlsConn := tls.Server(wrapped, l.tlsConfig)

	return &HelloConn{
		Conn:      tlsConn,
		Signature: sig,
	}, nil
}

type readFirstConn struct {
	net.Conn
	io.Reader
}

func (c *readFirstConn) Read(b []byte) (int, error) {
	return c.Reader.Read(b)
}

// peekClientHello reads exactly one TLS record off the wire: the 5-byte
// header, then as many bytes as it declares.
func peekClientHello(conn net.Conn) ([]byte, error) {
	hdr := make([]byte, 5)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return nil, err
	}

	length := int(hdr[3])<<8 | int(hdr[4])
	body := make([]byte, length)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, err
	}

	return append(hdr, body...), nil
}
