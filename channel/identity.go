package channel

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"regexp"
	"time"

	"github.com/kardianos/oemlock/objstore"
	"golang.org/x/crypto/blake2b"
)

const fpSize = 16

// FP is a certificate fingerprint: a truncated BLAKE2b hash of the raw
// certificate. Its text form is lower case hex.
type FP [fpSize]byte

func (f FP) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero reports whether the fingerprint is unset.
func (f FP) IsZero() bool {
	return f == FP{}
}

// ParseFP parses the hex form of a fingerprint.
func ParseFP(s string) (FP, error) {
	var fp FP
	b, err := hex.DecodeString(s)
	if err != nil {
		return fp, fmt.Errorf("channel: invalid fingerprint: %w", err)
	}
	if len(b) != fpSize {
		return fp, fmt.Errorf("channel: fingerprint must be %d bytes, got %d", fpSize, len(b))
	}
	copy(fp[:], b)
	return fp, nil
}

// FingerprintHash computes the fingerprint of raw certificate bytes.
func FingerprintHash(raw []byte) FP {
	h, err := blake2b.New(fpSize, nil)
	if err != nil {
		panic("blake2b.New: " + err.Error())
	}
	h.Write(raw)
	return FP(h.Sum(nil))
}

// FingerprintOf returns the fingerprint of the leaf certificate of id.
func FingerprintOf(id tls.Certificate) FP {
	if len(id.Certificate) == 0 {
		return FP{}
	}
	return FingerprintHash(id.Certificate[0])
}

var validIdentityName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,47}$`)

// ErrIdentityName is returned for names unusable as a certificate subject.
var ErrIdentityName = errors.New("channel: invalid identity name")

// ValidateIdentityName reports whether name can name an identity.
func ValidateIdentityName(name string) error {
	if !validIdentityName.MatchString(name) {
		return fmt.Errorf("%w %q: use letters, digits, '.', '_' and '-', at most 48 characters", ErrIdentityName, name)
	}
	return nil
}

// NewIdentity creates a self-signed ECDSA P-256 certificate for name, valid
// for both client and server authentication. The result is PEM encoded
// certificate followed by the private key.
func NewIdentity(name string) (pemData []byte, err error) {
	if err := ValidateIdentityName(name); err != nil {
		return nil, err
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: name},
		DNSNames:     []string{name},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(name); ip != nil {
		template.IPAddresses = append(template.IPAddresses, ip)
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	pemData = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	pemData = append(pemData, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})...)
	return pemData, nil
}

// ParseIdentity parses the output of NewIdentity.
func ParseIdentity(pemData []byte) (tls.Certificate, error) {
	return tls.X509KeyPair(pemData, pemData)
}

// LoadOrCreateIdentity returns the identity stored under name in store,
// creating and storing a new one when absent.
func LoadOrCreateIdentity(store objstore.Store, name string) (tls.Certificate, error) {
	if err := ValidateIdentityName(name); err != nil {
		return tls.Certificate{}, err
	}
	id := []byte("identity/" + name)

	obj, err := store.Open(id, objstore.FlagRead)
	if err == nil {
		defer obj.Close()
		data, err := io.ReadAll(obj)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("read identity: %w", err)
		}
		return ParseIdentity(data)
	}
	if !errors.Is(err, objstore.ErrNotFound) {
		return tls.Certificate{}, fmt.Errorf("open identity: %w", err)
	}

	data, err := NewIdentity(name)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create identity: %w", err)
	}
	obj, err = store.Create(id, objstore.FlagRead, data)
	if errors.Is(err, objstore.ErrExists) {
		return LoadOrCreateIdentity(store, name)
	}
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("store identity: %w", err)
	}
	obj.Close()
	return ParseIdentity(data)
}

// serverTLSConfig requires a client certificate. If allowed is not empty,
// the client certificate fingerprint must be in it.
func serverTLSConfig(id tls.Certificate, allowed map[FP]bool) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{id},
		ClientAuth:   tls.RequireAnyClientCert,
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{ALPN},
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return ErrNoPeerCert
			}
			if len(allowed) == 0 {
				return nil
			}
			if fp := FingerprintHash(rawCerts[0]); !allowed[fp] {
				return fmt.Errorf("%w: client %s", ErrUnknownPeer, fp)
			}
			return nil
		},
	}
}

// clientTLSConfig pins the server to a single certificate fingerprint.
// Chain verification is replaced by the pin.
func clientTLSConfig(id tls.Certificate, server FP) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{id},
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS13,
		NextProtos:         []string{ALPN},
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return ErrNoPeerCert
			}
			if fp := FingerprintHash(rawCerts[0]); fp != server {
				return fmt.Errorf("%w: server %s, want %s", ErrUnknownPeer, fp, server)
			}
			return nil
		},
	}
}

var (
	ErrNoPeerCert  = errors.New("channel: no peer certificate")
	ErrUnknownPeer = errors.New("channel: peer fingerprint not allowed")
)
