package r2s3

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	sigAlgorithm  = "AWS4-HMAC-SHA256"
	sigService    = "s3"
	signedHeaders = "host;x-amz-content-sha256;x-amz-date"
)

// signer produces SigV4 headers. The derived key only changes with the date,
// so it is kept for the day.
type signer struct {
	keyID  string
	secret string
	region string
	now    func() time.Time

	mu     sync.Mutex
	day    string
	dayKey []byte
}

func newSigner(keyID, secret, region string) *signer {
	return &signer{keyID: keyID, secret: secret, region: region, now: time.Now}
}

func (s *signer) key(day string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.day != day {
		k := mac([]byte("AWS4"+s.secret), day)
		for _, part := range []string{s.region, sigService, "aws4_request"} {
			k = mac(k, part)
		}
		s.day, s.dayKey = day, k
	}
	return s.dayKey
}

func (s *signer) scope(day string) string {
	return day + "/" + s.region + "/" + sigService + "/aws4_request"
}

// sign sets the date, payload hash and Authorization headers on req. uri is
// the escaped request path.
func (s *signer) sign(req *http.Request, uri, payloadHash string) {
	t := s.now().UTC()
	stamp := t.Format("20060102T150405Z")
	day := stamp[:8]

	req.Header.Set("x-amz-date", stamp)
	req.Header.Set("x-amz-content-sha256", payloadHash)

	var cr strings.Builder
	cr.WriteString(req.Method + "\n" + uri + "\n\n")
	cr.WriteString("host:" + req.URL.Host + "\n")
	cr.WriteString("x-amz-content-sha256:" + payloadHash + "\n")
	cr.WriteString("x-amz-date:" + stamp + "\n\n")
	cr.WriteString(signedHeaders + "\n" + payloadHash)
	crSum := sha256.Sum256([]byte(cr.String()))

	toSign := sigAlgorithm + "\n" + stamp + "\n" + s.scope(day) + "\n" + hex.EncodeToString(crSum[:])
	sig := hex.EncodeToString(mac(s.key(day), toSign))
	req.Header.Set("Authorization", sigAlgorithm+" Credential="+s.keyID+"/"+s.scope(day)+
		", SignedHeaders="+signedHeaders+", Signature="+sig)
}

func mac(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}
