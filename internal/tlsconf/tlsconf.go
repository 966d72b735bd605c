// Package tlsconf derives TLS settings for the TCP control listener from the
// control token, so a daemon and its CLI share encryption without any
// certificate distribution.
//
// The server's ECDSA P-256 key is derived from the token with HKDF; the
// certificate wrapping it is self-signed and regenerated at every start.
// Clients don't verify a chain. They check that the presented public key is
// the one their own copy of the token derives:
//
//	HKDF-SHA256(ikm=token, salt="echolink-control-tls-v1", info="server-key")
//	→ 64 bytes → reduced mod curve order → P-256 private scalar
package tlsconf

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"golang.org/x/crypto/hkdf"
	"google.golang.org/grpc/credentials"
)

const serverName = "echolink"

// ErrKeyMismatch is returned by the client handshake when the server's key
// doesn't match the token.
var ErrKeyMismatch = errors.New("tlsconf: server key does not match token")

// Pair holds matching server and client TLS configs for one token.
type Pair struct {
	Server *tls.Config
	Client *tls.Config
}

// FromToken derives the TLS pair for token.
func FromToken(token string) (*Pair, error) {
	if token == "" {
		return nil, errors.New("tlsconf: empty token")
	}
	key, err := deriveKey(token)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: derive key: %w", err)
	}
	der, err := selfSigned(key)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: certificate: %w", err)
	}
	want, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("tlsconf: marshal public key: %w", err)
	}

	return &Pair{
		Server: &tls.Config{
			Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
			// gRPC and HTTP/JSON share the listener.
			NextProtos: []string{"h2", "http/1.1"},
			MinVersion: tls.VersionTLS13,
		},
		Client: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // public key is pinned in VerifyConnection
			ServerName:         serverName,
			MinVersion:         tls.VersionTLS13,
			VerifyConnection: func(cs tls.ConnectionState) error {
				if len(cs.PeerCertificates) == 0 {
					return errors.New("tlsconf: server presented no certificate")
				}
				got, err := x509.MarshalPKIXPublicKey(cs.PeerCertificates[0].PublicKey)
				if err != nil {
					return fmt.Errorf("tlsconf: marshal server key: %w", err)
				}
				if !bytes.Equal(got, want) {
					return ErrKeyMismatch
				}
				return nil
			},
		},
	}, nil
}

// GRPC returns client transport credentials for the pair.
func (p *Pair) GRPC() credentials.TransportCredentials {
	return credentials.NewTLS(p.Client)
}

func deriveKey(token string) (*ecdsa.PrivateKey, error) {
	r := hkdf.New(sha256.New, []byte(token), []byte("echolink-control-tls-v1"), []byte("server-key"))
	buf := make([]byte, 64)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("hkdf read: %w", err)
	}

	curve := elliptic.P256()
	n := new(big.Int).Sub(curve.Params().N, big.NewInt(1))
	d := new(big.Int).SetBytes(buf)
	d.Mod(d, n)
	d.Add(d, big.NewInt(1)) // d ∈ [1, N-1]

	key := &ecdsa.PrivateKey{D: d}
	key.PublicKey.Curve = curve
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(d.FillBytes(make([]byte, 32)))
	return key, nil
}

func selfSigned(key *ecdsa.PrivateKey) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: serverName},
		DNSNames:              []string{serverName},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	return x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
}
