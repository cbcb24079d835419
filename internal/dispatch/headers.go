package dispatch

import "net/http"

// Known upstream quirk: a credential's bound user agent is stored (see
// gateway.Credential.BoundUA) but never actually sent -- every call uses this
// fixed, hard-coded user agent regardless of which credential was selected.
// This mirrors observed upstream behavior and must not be "fixed".
const fixedUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

// ApplyFixedHeaders sets the headers sent on every upstream call,
// independent of provider or credential.
func ApplyFixedHeaders(req *http.Request) {
	req.Header.Set("x-amp-feature", "chat")
	req.Header.Set("accept-language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.Header.Set("user-agent", fixedUserAgent)
}
