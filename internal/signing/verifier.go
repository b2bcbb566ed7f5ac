package signing

import (
	"bytes"
	"crypto"
	_ "crypto/sha1"
	"crypto/sha256"
	_ "crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/GriffinCanCode/netlaunch/internal/jar"
	"github.com/GriffinCanCode/netlaunch/internal/logging"
	"github.com/GriffinCanCode/netlaunch/internal/shared/errs"
	"go.mozilla.org/pkcs7"
	"go.uber.org/zap"
)

// Issue is a problem found with a signer's certificate.
type Issue string

const (
	IssueExpired     Issue = "expired"
	IssueExpiring    Issue = "expiring"
	IssueNotYetValid Issue = "not_yet_valid"
	IssueBadKeyUsage Issue = "bad_key_usage"
	IssueUntrusted   Issue = "untrusted_root"
)

// Fatal reports whether the issue disqualifies the signer.
func (i Issue) Fatal() bool {
	switch i {
	case IssueExpired, IssueNotYetValid, IssueBadKeyUsage:
		return true
	}
	return false
}

// expiringWindow is how far ahead an approaching expiry is reported.
const expiringWindow = 6 * 30 * 24 * time.Hour

// Signer identifies one certificate that signed an archive.
type Signer struct {
	Fingerprint string
	Subject     string
	Issuer      string
	Chain       []*x509.Certificate
	Issues      []Issue
	// Trusted is set when the chain roots in the verifier's trust pool.
	Trusted bool
}

// Leaf returns the signing certificate.
func (s *Signer) Leaf() *x509.Certificate {
	if len(s.Chain) == 0 {
		return nil
	}
	return s.Chain[0]
}

// Has reports whether the signer carries issue.
func (s *Signer) Has(issue Issue) bool {
	for _, i := range s.Issues {
		if i == issue {
			return true
		}
	}
	return false
}

func (s *Signer) usable() bool {
	for _, i := range s.Issues {
		if i.Fatal() {
			return false
		}
	}
	return true
}

// Result is the verification outcome for a single archive.
type Result struct {
	Path string
	// Signable counts entries that require a signature.
	Signable int
	// Signers holds every usable signer covering all signable entries.
	Signers []*Signer
	// Rejected holds signers that covered the archive but were disqualified.
	Rejected []*Signer
}

// Trivial reports whether the archive has nothing to sign.
func (r *Result) Trivial() bool { return r.Signable == 0 }

// Signed reports whether at least one usable signer covers the archive.
func (r *Result) Signed() bool { return len(r.Signers) > 0 }

// Fingerprints returns the fingerprints of the usable signers.
func (r *Result) Fingerprints() []string {
	out := make([]string, 0, len(r.Signers))
	for _, s := range r.Signers {
		out = append(out, s.Fingerprint)
	}
	return out
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock overrides the time used for validity checks.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(v *Verifier) { v.logger = l.Component("signing") }
}

// Verifier checks archive signatures against a trust pool.
type Verifier struct {
	roots  *x509.CertPool
	now    func() time.Time
	logger *logging.Logger
}

// NewVerifier creates a verifier. A nil pool trusts nothing.
func NewVerifier(roots *x509.CertPool, opts ...Option) *Verifier {
	if roots == nil {
		roots = x509.NewCertPool()
	}
	v := &Verifier{roots: roots, now: time.Now, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify opens the archive at p and checks its signatures. Digest or
// signature mismatches yield a VerificationFailure; an archive that is simply
// unsigned is a successful result with no signers.
func (v *Verifier) Verify(p string) (*Result, error) {
	a, err := jar.Open(p)
	if err != nil {
		return nil, &errs.VerificationFailure{URL: p, Reason: "unreadable archive", Err: err}
	}
	defer a.Close()
	return v.VerifyArchive(a)
}

// VerifyArchive checks an already open archive.
func (v *Verifier) VerifyArchive(a *jar.Archive) (*Result, error) {
	res := &Result{Path: a.Path()}
	signable := a.SignableEntries()
	res.Signable = len(signable)

	manifest, err := a.Manifest()
	if err != nil {
		return nil, &errs.VerificationFailure{URL: a.Path(), Reason: "malformed manifest", Err: err}
	}
	if manifest == nil {
		// Without a manifest nothing can be signed, even an empty archive.
		if res.Signable == 0 {
			res.Signable = 1
		}
		return res, nil
	}

	digested, err := checkEntryDigests(a, manifest, signable)
	if err != nil {
		return nil, err
	}

	for _, sf := range a.SignatureFiles() {
		signer, covered, err := v.verifySignatureFile(a, manifest, sf)
		if err != nil {
			return nil, err
		}
		if !coversAll(covered, digested, signable) {
			v.logger.Debug("signer does not cover every entry",
				zap.String("archive", a.Path()), zap.String("signer", signer.Subject))
			continue
		}
		if signer.usable() {
			res.Signers = append(res.Signers, signer)
		} else {
			res.Rejected = append(res.Rejected, signer)
			v.logger.Warn("signer rejected",
				zap.String("archive", a.Path()),
				zap.String("signer", signer.Subject),
				zap.Any("issues", signer.Issues))
		}
	}
	return res, nil
}

// checkEntryDigests verifies each signable entry against its manifest digest
// and returns the set of entries that carried one.
func checkEntryDigests(a *jar.Archive, m *jar.Manifest, signable []string) (map[string]bool, error) {
	digested := make(map[string]bool, len(signable))
	for _, name := range signable {
		sec := m.Entry(name)
		if sec == nil {
			continue
		}
		h, want, ok := digestOf(sec.Get, "-Digest")
		if !ok {
			continue
		}
		data, err := a.ReadEntry(name)
		if err != nil {
			return nil, &errs.VerificationFailure{URL: a.Path(), Reason: "unreadable entry " + name, Err: err}
		}
		if !matches(h, data, want) {
			return nil, &errs.VerificationFailure{URL: a.Path(), Reason: "digest mismatch for " + name}
		}
		digested[name] = true
	}
	return digested, nil
}

func (v *Verifier) verifySignatureFile(a *jar.Archive, m *jar.Manifest, sf string) (*Signer, map[string]bool, error) {
	fail := func(reason string, err error) (*Signer, map[string]bool, error) {
		return nil, nil, &errs.VerificationFailure{URL: a.Path(), Reason: reason, Err: err}
	}

	block, ok := a.SignatureBlock(sf)
	if !ok {
		return fail("no signature block for "+sf, nil)
	}
	sfData, err := a.ReadEntry(sf)
	if err != nil {
		return fail("unreadable "+sf, err)
	}
	blockData, err := a.ReadEntry(block)
	if err != nil {
		return fail("unreadable "+block, err)
	}

	p7, err := pkcs7.Parse(blockData)
	if err != nil {
		return fail("malformed signature block "+block, err)
	}
	if len(p7.Content) == 0 {
		p7.Content = sfData
	} else if !bytes.Equal(p7.Content, sfData) {
		return fail("signature block content differs from "+sf, nil)
	}
	if err := p7.Verify(); err != nil {
		return fail("bad signature in "+block, err)
	}

	leaf := p7.GetOnlySigner()
	if leaf == nil {
		return fail("signature block "+block+" needs exactly one signer", nil)
	}
	signer := v.describe(leaf, p7.Certificates)

	sig, err := jar.ParseManifest(sfData)
	if err != nil {
		return fail("malformed "+sf, err)
	}

	covered := make(map[string]bool)
	if h, want, ok := digestOf(sig.Main.Get, "-Digest-Manifest"); ok && matches(h, m.Raw, want) {
		for name := range m.Sections {
			covered[name] = true
		}
		return signer, covered, nil
	}
	for name, sec := range sig.Sections {
		msec := m.Entry(name)
		if msec == nil {
			continue
		}
		if h, want, ok := digestOf(sec.Get, "-Digest"); ok && matches(h, msec.Raw, want) {
			covered[name] = true
		}
	}
	return signer, covered, nil
}

// describe builds the chain for leaf and records validity problems.
func (v *Verifier) describe(leaf *x509.Certificate, certs []*x509.Certificate) *Signer {
	sum := sha256.Sum256(leaf.Raw)
	s := &Signer{
		Fingerprint: hex.EncodeToString(sum[:]),
		Subject:     leaf.Subject.String(),
		Issuer:      leaf.Issuer.String(),
		Chain:       []*x509.Certificate{leaf},
	}

	now := v.now()
	switch {
	case now.Before(leaf.NotBefore):
		s.Issues = append(s.Issues, IssueNotYetValid)
	case now.After(leaf.NotAfter):
		s.Issues = append(s.Issues, IssueExpired)
	case now.Add(expiringWindow).After(leaf.NotAfter):
		s.Issues = append(s.Issues, IssueExpiring)
	}
	if !usableForCodeSigning(leaf) {
		s.Issues = append(s.Issues, IssueBadKeyUsage)
	}

	intermediates := x509.NewCertPool()
	for _, c := range certs {
		if !c.Equal(leaf) {
			intermediates.AddCert(c)
		}
	}
	chains, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   clampToValidity(now, leaf),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err == nil && len(chains) > 0 {
		s.Trusted = true
		s.Chain = chains[0]
	} else {
		s.Issues = append(s.Issues, IssueUntrusted)
		for _, c := range certs {
			if !c.Equal(leaf) {
				s.Chain = append(s.Chain, c)
			}
		}
	}
	return s
}

// clampToValidity keeps chain building independent of the leaf's expiry,
// which is reported separately.
func clampToValidity(now time.Time, leaf *x509.Certificate) time.Time {
	if now.After(leaf.NotAfter) {
		return leaf.NotAfter
	}
	if now.Before(leaf.NotBefore) {
		return leaf.NotBefore
	}
	return now
}

func usableForCodeSigning(c *x509.Certificate) bool {
	if c.KeyUsage != 0 && c.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		return false
	}
	if len(c.ExtKeyUsage) == 0 && len(c.UnknownExtKeyUsage) == 0 {
		return true
	}
	for _, u := range c.ExtKeyUsage {
		if u == x509.ExtKeyUsageAny || u == x509.ExtKeyUsageCodeSigning {
			return true
		}
	}
	return false
}

func coversAll(covered, digested map[string]bool, signable []string) bool {
	for _, name := range signable {
		if !covered[name] || !digested[name] {
			return false
		}
	}
	return true
}

var digestAlgorithms = []struct {
	name string
	hash crypto.Hash
}{
	{"SHA-512", crypto.SHA512},
	{"SHA-384", crypto.SHA384},
	{"SHA-256", crypto.SHA256},
	{"SHA1", crypto.SHA1},
	{"SHA-1", crypto.SHA1},
}

// digestOf returns the strongest "<ALG><suffix>" attribute present.
func digestOf(get func(string) string, suffix string) (crypto.Hash, []byte, bool) {
	for _, alg := range digestAlgorithms {
		val := strings.TrimSpace(get(alg.name + suffix))
		if val == "" {
			continue
		}
		want, err := base64.StdEncoding.DecodeString(val)
		if err != nil {
			continue
		}
		return alg.hash, want, true
	}
	return 0, nil, false
}

func matches(h crypto.Hash, data, want []byte) bool {
	d := h.New()
	d.Write(data)
	return bytes.Equal(d.Sum(nil), want)
}

// String formats a signer for prompts and logs.
func (s *Signer) String() string {
	if len(s.Issues) == 0 {
		return s.Subject
	}
	return fmt.Sprintf("%s %v", s.Subject, s.Issues)
}
