// Package httpsig implements the draft-cavage style HTTP message signatures
// used by federation peers: a SHA-256 content digest plus an RSA-SHA256
// signature over a canonical set of request headers.
package httpsig

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

var (
	ErrHostMismatch      = errors.New("httpsig: host header mismatch")
	ErrDigestMissing     = errors.New("httpsig: expected a Digest header with SHA-256")
	ErrDigestMismatch    = errors.New("httpsig: digest mismatch")
	ErrSignatureMissing  = errors.New("httpsig: expected a Signature header")
	ErrSignatureParams   = errors.New("httpsig: missing required signature parameters")
	ErrSignatureHeaders  = errors.New("httpsig: invalid signed header set")
	ErrSignatureMismatch = errors.New("httpsig: RSA-SHA256 signature mismatch")
)

// PublicKey is a resolved signing key with its declared owner. Callers must
// cross-check Owner against whatever identity the request claims.
type PublicKey struct {
	ID    string
	Owner string
	PEM   string
}

// KeyResolver loads the public key document for a keyId.
type KeyResolver func(ctx context.Context, keyID string) (*PublicKey, error)

// Request is the subset of an inbound HTTP request needed for verification.
type Request struct {
	Method string
	Path   string
	Host   string
	Body   []byte
	Header http.Header
}

// Sign buffers are required: the digest covers the complete payload, so
// streaming bodies cannot be signed. Sign sets Host, Digest, Date and
// Signature on hdr. The signed header set is the synthetic (request-target)
// line plus every header present on hdr, lowercased and sorted.
func Sign(keyID string, key *rsa.PrivateKey, method string, u *url.URL, body []byte, hdr http.Header) error {
	sum := sha256.Sum256(body)
	hdr.Set("Host", u.Host)
	hdr.Set("Digest", "SHA-256="+base64.StdEncoding.EncodeToString(sum[:]))
	hdr.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	names := make([]string, 0, len(hdr))
	for name := range hdr {
		names = append(names, strings.ToLower(name))
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names)+1)
	lines = append(lines, fmt.Sprintf("(request-target): %s %s", strings.ToLower(method), u.Path))
	for _, name := range names {
		lines = append(lines, name+": "+strings.Join(hdr.Values(name), ", "))
	}
	digest := sha256.Sum256([]byte(strings.Join(lines, "\n")))

	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return fmt.Errorf("httpsig: sign: %w", err)
	}

	hdr.Set("Signature", strings.Join([]string{
		fmt.Sprintf("keyId=%q", keyID),
		fmt.Sprintf("headers=%q", "(request-target) "+strings.Join(names, " ")),
		fmt.Sprintf("signature=%q", base64.StdEncoding.EncodeToString(sig)),
	}, ","))
	return nil
}

// Verify checks the Digest and Signature headers of an inbound request and
// returns the public key that produced a valid signature. Some peers send the
// Signature header more than once; at most the first two candidates are tried.
func Verify(ctx context.Context, domain string, req *Request, resolve KeyResolver) (*PublicKey, error) {
	// Proxies may need to be configured to not rewrite the Host header.
	if req.Host != domain {
		return nil, ErrHostMismatch
	}

	var want string
	for _, part := range strings.Split(strings.Join(req.Header.Values("Digest"), ","), ",") {
		if strings.HasPrefix(part, "SHA-256=") {
			want = strings.TrimPrefix(part, "SHA-256=")
			break
		}
	}
	if want == "" {
		return nil, ErrDigestMissing
	}
	sum := sha256.Sum256(req.Body)
	if want != base64.StdEncoding.EncodeToString(sum[:]) {
		return nil, ErrDigestMismatch
	}

	candidates := req.Header.Values("Signature")
	if len(candidates) == 0 {
		return nil, ErrSignatureMissing
	}
	if len(candidates) > 2 {
		candidates = candidates[:2]
	}
	for _, candidate := range candidates {
		pub, err := verifyOne(ctx, candidate, req, resolve)
		if err != nil {
			return nil, err
		}
		if pub != nil {
			return pub, nil
		}
	}
	return nil, ErrSignatureMismatch
}

// verifyOne checks a single Signature header. It returns (nil, nil) when the
// signature simply does not verify, so the caller can try the next candidate;
// malformed parameters are reported as hard errors.
func verifyOne(ctx context.Context, candidate string, req *Request, resolve KeyResolver) (*PublicKey, error) {
	params := map[string]string{}
	for _, part := range strings.Split(candidate, ",") {
		part = strings.TrimSpace(part)
		idx := strings.Index(part, "=")
		if idx == -1 {
			params[part] = ""
			continue
		}
		value := part[idx+1:]
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		params[part[:idx]] = value
	}

	keyID, signature := params["keyId"], params["signature"]
	if keyID == "" || signature == "" {
		return nil, ErrSignatureParams
	}

	// Some peers omit the headers parameter entirely; the draft default is
	// just the Date header. We insist on host and digest, the two headers
	// that bind the signature to this request and payload.
	signedHeaders := []string{"date"}
	if params["headers"] != "" {
		signedHeaders = strings.Fields(params["headers"])
	}
	seen := make(map[string]bool, len(signedHeaders))
	hasHost, hasDigest := false, false
	for _, name := range signedHeaders {
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate header %q", ErrSignatureHeaders, name)
		}
		seen[name] = true
		switch name {
		case "host":
			hasHost = true
		case "digest":
			hasDigest = true
		case "(request-target)":
		default:
		}
		if name != "(request-target)" && len(req.Header.Values(name)) == 0 {
			return nil, fmt.Errorf("%w: header %q not in request", ErrSignatureHeaders, name)
		}
	}
	if !hasHost || !hasDigest {
		return nil, fmt.Errorf("%w: host and digest are required", ErrSignatureHeaders)
	}

	pub, err := resolve(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("httpsig: public key document could not be loaded: %w", err)
	}
	if pub == nil || pub.PEM == "" {
		return nil, nil
	}
	rsaKey, err := ParsePublicKeyPEM([]byte(pub.PEM))
	if err != nil {
		return nil, nil
	}

	// Rebuild the exact string the signer hashed, from the claimed header
	// list and the request's raw header values.
	lines := make([]string, 0, len(signedHeaders))
	for _, name := range signedHeaders {
		if name == "(request-target)" {
			lines = append(lines, fmt.Sprintf("(request-target): %s %s", strings.ToLower(req.Method), req.Path))
			continue
		}
		lines = append(lines, name+": "+strings.Join(req.Header.Values(name), ", "))
	}
	digest := sha256.Sum256([]byte(strings.Join(lines, "\n")))

	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return nil, nil
	}
	if rsa.VerifyPKCS1v15(rsaKey, crypto.SHA256, digest[:], raw) != nil {
		return nil, nil
	}
	return pub, nil
}

// ParsePublicKeyPEM parses a PEM encoded RSA public key (PKIX or PKCS#1).
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("httpsig: no PEM block found")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("httpsig: parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("httpsig: not an RSA public key")
	}
	return key, nil
}

// ParsePrivateKeyPEM parses a PEM encoded RSA private key (PKCS#1 or PKCS#8).
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("httpsig: no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("httpsig: parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("httpsig: not an RSA private key")
	}
	return key, nil
}
