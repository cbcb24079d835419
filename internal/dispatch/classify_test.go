package dispatch

import (
	"testing"

	gateway "github.com/amppool/gateway/internal"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want gateway.ErrorType
	}{
		{"401 Unauthorized", gateway.ErrorTypeAuth},
		{"Invalid API Key provided", gateway.ErrorTypeAuth},
		{"Rate limit exceeded", gateway.ErrorTypeRateLimit},
		{"received a 429 from upstream", gateway.ErrorTypeRateLimit},
		{"insufficient_quota", gateway.ErrorTypeQuota},
		{"account balance too low", gateway.ErrorTypeQuota},
		{"context deadline exceeded (Client.Timeout exceeded while awaiting headers)", gateway.ErrorTypeTimeout},
		{"dial tcp: connection refused", gateway.ErrorTypeConnection},
		{"404 page not found", gateway.ErrorTypeNotFound},
		{"502 Bad Gateway", gateway.ErrorTypeServer},
		{"something truly unexpected", gateway.ErrorTypeOther},
	}
	for _, c := range cases {
		if got := Classify(c.msg); got != c.want {
			t.Errorf("Classify(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

func TestStopToStopSequences(t *testing.T) {
	if got := StopToStopSequences("STOP"); len(got) != 1 || got[0] != "STOP" {
		t.Errorf("string case = %v", got)
	}
	if got := StopToStopSequences([]string{"a", "b"}); len(got) != 2 {
		t.Errorf("[]string case = %v", got)
	}
	if got := StopToStopSequences([]any{"a", "b"}); len(got) != 2 {
		t.Errorf("[]any case = %v", got)
	}
	if got := StopToStopSequences(nil); got != nil {
		t.Errorf("nil case = %v, want nil", got)
	}
	if got := StopToStopSequences(""); got != nil {
		t.Errorf("empty string case = %v, want nil", got)
	}
}
