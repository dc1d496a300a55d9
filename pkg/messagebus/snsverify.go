package messagebus

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Ordered fields of the SNS canonical string to sign.
var (
	notificationSigningFields = []string{"Message", "MessageId", "Subject", "Timestamp", "TopicArn", "Type"}
	confirmationSigningFields = []string{"Message", "MessageId", "SubscribeURL", "Timestamp", "Token", "TopicArn", "Type"}
)

func (p *snsPayload) field(name string) (string, bool) {
	switch name {
	case "Message":
		return p.Message, true
	case "MessageId":
		return p.MessageID, true
	case "Subject":
		return p.Subject, p.Subject != ""
	case "SubscribeURL":
		return p.SubscribeURL, true
	case "Timestamp":
		return p.Timestamp, true
	case "Token":
		return p.Token, true
	case "TopicArn":
		return p.TopicArn, true
	case "Type":
		return p.Type, true
	}
	return "", false
}

// stringToSign builds the canonical form SNS signs: "name\nvalue\n" for every
// field of the type's list, Subject only when present.
func (p *snsPayload) stringToSign() (string, error) {
	var fields []string
	switch p.Type {
	case snsNotification:
		fields = notificationSigningFields
	case snsSubscriptionConfirmation, snsUnsubscribeConfirmation:
		fields = confirmationSigningFields
	default:
		return "", fmt.Errorf("no signing fields for message type %q", p.Type)
	}

	var sb strings.Builder
	for _, name := range fields {
		value, ok := p.field(name)
		if !ok {
			continue
		}
		sb.WriteString(name)
		sb.WriteByte('\n')
		sb.WriteString(value)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// maxCachedSNSCerts bounds the certificate cache. SNS signs with a handful of
// certificates per region.
const maxCachedSNSCerts = 16

// snsVerifier checks SNS message signatures. Signing certificates are cached
// by URL until they expire.
type snsVerifier struct {
	http    HTTPDoer
	allowed map[string]struct{}
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	certs map[string]*x509.Certificate
}

func newSNSVerifier(httpClient HTTPDoer, allowedTopicArns []string, logger zerolog.Logger) *snsVerifier {
	allowed := make(map[string]struct{}, len(allowedTopicArns))
	for _, arn := range allowedTopicArns {
		allowed[arn] = struct{}{}
	}
	return &snsVerifier{
		http:    httpClient,
		allowed: allowed,
		logger:  logger,
		now:     time.Now,
		certs:   make(map[string]*x509.Certificate),
	}
}

func (v *snsVerifier) verify(ctx context.Context, p *snsPayload) error {
	if p.Type == "" || p.Signature == "" || p.SigningCertURL == "" {
		return errors.New("message is missing signature fields")
	}
	if !isSNSCertURL(p.SigningCertURL) {
		return fmt.Errorf("untrusted signing certificate URL %q", p.SigningCertURL)
	}
	if len(v.allowed) > 0 {
		if _, ok := v.allowed[p.TopicArn]; !ok {
			return fmt.Errorf("topic %q is not allowed", p.TopicArn)
		}
	}

	toSign, err := p.stringToSign()
	if err != nil {
		return err
	}
	signature, err := base64.StdEncoding.DecodeString(p.Signature)
	if err != nil {
		return fmt.Errorf("signature is not valid base64: %w", err)
	}

	var hash crypto.Hash
	var digest []byte
	switch p.SignatureVersion {
	case "", "1":
		sum := sha1.Sum([]byte(toSign))
		hash, digest = crypto.SHA1, sum[:]
	case "2":
		sum := sha256.Sum256([]byte(toSign))
		hash, digest = crypto.SHA256, sum[:]
	default:
		return fmt.Errorf("unsupported signature version %q", p.SignatureVersion)
	}

	cert, err := v.certificate(ctx, p.SigningCertURL)
	if err != nil {
		return err
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return errors.New("signing certificate does not carry an RSA key")
	}
	return rsa.VerifyPKCS1v15(pub, hash, digest, signature)
}

func (v *snsVerifier) certificate(ctx context.Context, certURL string) (*x509.Certificate, error) {
	v.mu.Lock()
	cert, ok := v.certs[certURL]
	v.mu.Unlock()
	if ok && v.now().Before(cert.NotAfter) {
		return cert, nil
	}

	cert, err := v.download(ctx, certURL)
	if err != nil {
		return nil, err
	}
	now := v.now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, fmt.Errorf("signing certificate %s is not valid at %s", certURL, now.Format(time.RFC3339))
	}

	v.mu.Lock()
	v.cache(certURL, cert, now)
	v.mu.Unlock()
	v.logger.Debug().Str("cert_url", certURL).Msg("Cached SNS signing certificate")
	return cert, nil
}

// cache stores cert, first dropping expired entries and then, when still
// full, an arbitrary one. Callers hold mu.
func (v *snsVerifier) cache(certURL string, cert *x509.Certificate, now time.Time) {
	if _, ok := v.certs[certURL]; !ok && len(v.certs) >= maxCachedSNSCerts {
		for u, c := range v.certs {
			if now.After(c.NotAfter) {
				delete(v.certs, u)
			}
		}
		for u := range v.certs {
			if len(v.certs) < maxCachedSNSCerts {
				break
			}
			delete(v.certs, u)
		}
	}
	v.certs[certURL] = cert
}

func (v *snsVerifier) download(ctx context.Context, certURL string) (*x509.Certificate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading signing certificate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading signing certificate: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("reading signing certificate: %w", err)
	}
	block, _ := pem.Decode(body)
	if block == nil {
		return nil, errors.New("signing certificate is not PEM encoded")
	}
	return x509.ParseCertificate(block.Bytes)
}
