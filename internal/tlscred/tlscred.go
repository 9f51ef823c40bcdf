// Package tlscred loads TLS certificate/key pairs and builds the DER
// certificate container embedded in server redirection PDUs.
package tlscred

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"golang.org/x/crypto/pkcs12"
)

// Credentials holds a certificate/key pair and its parsed leaf certificate.
// cmd/rdpd-handover loads one for the redirection target; the rdpd daemon
// loads its listener certificate with crypto/tls directly.
type Credentials struct {
	Certificate tls.Certificate
	Leaf        *x509.Certificate
}

// LoadPEM reads a certificate/key pair from PEM files.
func LoadPEM(certPath, keyPath string) (*Credentials, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("tlscred: load keypair: %w", err)
	}
	leaf := cert.Leaf
	if leaf == nil {
		leaf, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("tlscred: parse leaf certificate: %w", err)
		}
	}
	return &Credentials{Certificate: cert, Leaf: leaf}, nil
}

// LoadPKCS12 reads a certificate/key pair from a PKCS#12 bundle, the format
// most Windows-originated deployment tooling produces for RDP listener
// certificates.
func LoadPKCS12(data []byte, password string) (*Credentials, error) {
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("tlscred: decode pkcs12: %w", err)
	}
	tlsCert := tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}
	return &Credentials{Certificate: tlsCert, Leaf: cert}, nil
}

// Container is the DER certificate blob embedded in a redirection PDU's
// LB_TARGET_CERTIFICATE field.
type Container struct {
	DER []byte
}

// BuildContainer extracts the raw DER bytes of the leaf certificate for
// embedding in a redirection target. Intermediate chain certificates are
// not shipped this way; the client is expected to already trust the
// redirected server's issuer through its own trust store.
func BuildContainer(creds *Credentials) *Container {
	return &Container{DER: creds.Leaf.Raw}
}
