package carrier

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/url"
	"sort"
)

// SignatureHeader is the request header carrying the webhook signature.
const SignatureHeader = "X-Carrier-Signature"

// ValidateSignature checks a webhook's HMAC-SHA1 signature: the full
// request URL concatenated with every POST parameter, sorted by name,
// signed with the account's auth token and base64-encoded.
func (c *Client) ValidateSignature(requestURL string, form url.Values, signature string) bool {
	if c.authToken == "" {
		return false
	}
	expected := computeSignature(c.authToken, requestURL, form)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

func computeSignature(authToken, requestURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	payload := requestURL
	for _, k := range keys {
		for _, v := range form[k] {
			payload += k + v
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
