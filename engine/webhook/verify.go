package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/compozy/autoflow/pkg/config"
)

const (
	StrategyNone   = "none"
	StrategyHMAC   = "hmac"
	StrategyStripe = "stripe"
	StrategyGitHub = "github"
)

const (
	headerStripeSignature = "Stripe-Signature"
	headerGitHubSignature = "X-Hub-Signature-256"
	prefixEnv             = "env://"
	prefixGitHub          = "sha256="
	defaultStripeSkew     = 5 * time.Minute
)

var errSignatureMismatch = errors.New("signature mismatch")

// Verifier checks a request signature against its raw body.
type Verifier interface {
	Verify(ctx context.Context, r *http.Request, body []byte) error
}

type VerifyConfig struct {
	Strategy string
	// Secret is the shared key, or env://NAME to read it from the environment.
	Secret string
	Header string
	Skew   time.Duration
}

func VerifyConfigFromApp(cfg *config.WebhookConfig) VerifyConfig {
	if cfg == nil {
		return VerifyConfig{Strategy: StrategyNone}
	}
	return VerifyConfig{
		Strategy: cfg.VerifyStrategy,
		Secret:   cfg.VerifySecret.Value(),
		Header:   cfg.VerifyHeader,
		Skew:     cfg.VerifySkew,
	}
}

func NewVerifier(cfg VerifyConfig) (Verifier, error) {
	if cfg.Strategy == "" || cfg.Strategy == StrategyNone {
		return noneVerifier{}, nil
	}
	secret, err := resolveSecret(cfg.Secret)
	if err != nil {
		return nil, err
	}
	switch cfg.Strategy {
	case StrategyHMAC:
		if cfg.Header == "" {
			return nil, errors.New("missing signature header name for hmac strategy")
		}
		return hmacVerifier{secret: secret, header: cfg.Header}, nil
	case StrategyStripe:
		skew := cfg.Skew
		if skew <= 0 {
			skew = defaultStripeSkew
		}
		return stripeVerifier{secret: secret, skew: skew, now: time.Now}, nil
	case StrategyGitHub:
		return hmacVerifier{secret: secret, header: headerGitHubSignature, prefix: prefixGitHub}, nil
	default:
		return nil, fmt.Errorf("unknown verification strategy %q", cfg.Strategy)
	}
}

func resolveSecret(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("empty secret")
	}
	if name, ok := strings.CutPrefix(s, prefixEnv); ok {
		val := os.Getenv(name)
		if val == "" {
			return nil, fmt.Errorf("secret env %q not set", name)
		}
		return []byte(val), nil
	}
	return []byte(s), nil
}

func sign(secret []byte, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, secret)
	for _, p := range parts {
		_, _ = mac.Write(p)
	}
	return mac.Sum(nil)
}

func matchesHex(expected []byte, sig string) (bool, error) {
	got, err := hex.DecodeString(strings.TrimSpace(sig))
	if err != nil {
		return false, fmt.Errorf("invalid signature encoding: %w", err)
	}
	return hmac.Equal(expected, got), nil
}

type noneVerifier struct{}

func (noneVerifier) Verify(context.Context, *http.Request, []byte) error {
	return nil
}

// hmacVerifier expects hex(HMAC-SHA256(body)) in header, after an optional prefix.
type hmacVerifier struct {
	secret []byte
	header string
	prefix string
}

func (v hmacVerifier) Verify(_ context.Context, r *http.Request, body []byte) error {
	sig := r.Header.Get(v.header)
	if sig == "" {
		return fmt.Errorf("missing %s header", v.header)
	}
	if v.prefix != "" {
		var ok bool
		if sig, ok = strings.CutPrefix(sig, v.prefix); !ok {
			return fmt.Errorf("invalid %s header", v.header)
		}
	}
	ok, err := matchesHex(sign(v.secret, body), sig)
	if err != nil {
		return err
	}
	if !ok {
		return errSignatureMismatch
	}
	return nil
}

type stripeVerifier struct {
	secret []byte
	skew   time.Duration
	now    func() time.Time
}

func (v stripeVerifier) Verify(_ context.Context, r *http.Request, body []byte) error {
	header := r.Header.Get(headerStripeSignature)
	if header == "" {
		return errors.New("missing Stripe-Signature")
	}
	ts, candidates, err := parseStripeSignatureHeader(header)
	if err != nil {
		return err
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.New("invalid Stripe timestamp")
	}
	drift := v.now().Sub(time.Unix(unix, 0))
	if drift > v.skew || -drift > v.skew {
		return errors.New("timestamp skew too large")
	}
	expected := sign(v.secret, []byte(ts), []byte("."), body)
	for _, c := range candidates {
		ok, err := matchesHex(expected, c)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return errSignatureMismatch
}

// parseStripeSignatureHeader splits "t=...,v1=...,v1=..." into the timestamp
// and the v1 signatures.
func parseStripeSignatureHeader(header string) (string, []string, error) {
	var ts string
	var sigs []string
	for part := range strings.SplitSeq(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return "", nil, errors.New("invalid Stripe-Signature format")
	}
	return ts, sigs, nil
}
