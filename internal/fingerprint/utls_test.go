package fingerprint

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestTransport_Profiles(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	for _, p := range []Profile{ProfileChrome, ProfileFirefox, ProfileSafari, ProfileGo, ProfileRandom} {
		t.Run(string(p), func(t *testing.T) {
			rt, err := Transport(p, Options{InsecureSkipVerify: true})
			if err != nil {
				t.Fatalf("unexpected error creating transport for %s: %v", p, err)
			}

			client := &http.Client{Transport: rt}
			resp, err := client.Get(ts.URL)
			if err != nil {
				t.Fatalf("request failed for profile %s: %v", p, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("expected 200 OK, got %d for profile %s", resp.StatusCode, p)
			}
		})
	}
}

func TestTransport_ProxyFunc(t *testing.T) {
	want, _ := url.Parse("http://127.0.0.1:3128")
	rt, err := Transport(ProfileChrome, Options{Proxy: http.ProxyURL(want)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr, ok := rt.(*http.Transport)
	if !ok {
		t.Fatalf("expected *http.Transport, got %T", rt)
	}
	req, _ := http.NewRequest(http.MethodGet, "https://www.baidu.com/", nil)
	got, err := tr.Proxy(req)
	if err != nil || got.String() != want.String() {
		t.Errorf("expected proxy %s, got %v (%v)", want, got, err)
	}
}

func TestTransport_UnknownProfile(t *testing.T) {
	_, err := Transport(Profile("netscape"), Options{})
	if err == nil {
		t.Fatal("expected error for unknown profile, got nil")
	}
	if err.Error() != `fingerprint: unknown profile "netscape"` {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestParseProfile(t *testing.T) {
	cases := map[string]Profile{"": ProfileChrome, "Firefox": ProfileFirefox, " go ": ProfileGo, "random": ProfileRandom}
	for in, want := range cases {
		got, err := ParseProfile(in)
		if err != nil || got != want {
			t.Errorf("ParseProfile(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseProfile("lynx"); err == nil {
		t.Error("expected error for unknown profile")
	}
}
