package middleware

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/relaystack/sms-relay/pkg/logger"
)

// TwilioSignature validates the X-Twilio-Signature header on webhook
// requests: HMAC-SHA1 over the public request URL plus the sorted,
// concatenated POST parameters, keyed with the account auth token.
// baseURL is the public base this deployment is reachable at, since
// Twilio signs the URL it requested, not what a proxy rewrote it to.
func TwilioSignature(authToken, baseURL string, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := r.ParseForm(); err != nil {
				http.Error(w, `{"status":"error","message":"invalid form body"}`, http.StatusBadRequest)
				return
			}

			signed := strings.TrimRight(baseURL, "/") + r.URL.RequestURI()
			expected := computeSignature(authToken, signed, r.PostForm)
			provided := r.Header.Get("X-Twilio-Signature")

			if subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
				log.Warn("rejected webhook with bad signature",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				http.Error(w, `{"status":"error","message":"invalid signature"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func computeSignature(authToken, url string, form map[string][]string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url)
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
