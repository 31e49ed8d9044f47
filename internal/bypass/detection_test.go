package bypass

import (
	"net/http"
	"testing"
)

func resp(status int, header map[string]string, body string) *Response {
	h := http.Header{}
	for k, v := range header {
		h.Set(k, v)
	}
	return &Response{StatusCode: status, Header: h, Body: []byte(body)}
}

func TestDetectBaiduVerify(t *testing.T) {
	r := resp(200, nil, `<html><head><title>百度安全验证</title></head></html>`)
	if hit, src := detectBaiduVerify(r); !hit || src != "BaiduVerify" {
		t.Errorf("expected verification page detected by title")
	}

	r = resp(200, nil, "")
	r.FinalURL = "https://wappass.baidu.com/static/captcha/tuxing.html?ak=x"
	if hit, _ := detectBaiduVerify(r); !hit {
		t.Errorf("expected verification page detected by redirect target")
	}

	r = resp(200, nil, `<div class="c-container"><h3><a href="/x">ok</a></h3></div>`)
	r.FinalURL = "https://www.baidu.com/s?wd=go"
	if hit, _ := detectBaiduVerify(r); hit {
		t.Errorf("ordinary result page flagged")
	}
}

func TestDetectCloudflare(t *testing.T) {
	if hit, _ := detectCloudflare(resp(200, map[string]string{"Server": "cloudflare"}, "OK")); hit {
		t.Errorf("200 responses are not challenges")
	}
	if hit, src := detectCloudflare(resp(403, map[string]string{"Server": "cloudflare"}, "")); !hit || src != "Cloudflare" {
		t.Errorf("expected Cloudflare detection by header")
	}
	if hit, _ := detectCloudflare(resp(503, nil, "<html>... cf-turnstile ...</html>")); !hit {
		t.Errorf("expected Cloudflare detection by body")
	}
}

func TestDetectAkamai(t *testing.T) {
	if hit, src := detectAkamai(resp(403, map[string]string{"Server": "AkamaiGHost"}, "")); !hit || src != "Akamai" {
		t.Errorf("expected Akamai detection by header")
	}
	if hit, _ := detectAkamai(resp(403, nil, "Access Denied ... Reference #18.abc")); !hit {
		t.Errorf("expected Akamai detection by body")
	}
	if hit, _ := detectAkamai(resp(403, nil, "Access Denied")); hit {
		t.Errorf("Access Denied alone should not match")
	}
}

func TestDetectDataDome(t *testing.T) {
	if hit, _ := detectDataDome(resp(403, map[string]string{"X-DataDome": "protected"}, "")); !hit {
		t.Errorf("expected DataDome detection by header")
	}
	if hit, _ := detectDataDome(resp(403, nil, `<script src="https://geo.captcha-delivery.com/c.js">`)); !hit {
		t.Errorf("expected DataDome detection by body")
	}
}

func TestDetectPerimeterX(t *testing.T) {
	if hit, _ := detectPerimeterX(resp(403, map[string]string{"X-Px-Captcha": "1"}, "")); !hit {
		t.Errorf("expected PerimeterX detection by header")
	}
	if hit, _ := detectPerimeterX(resp(403, nil, `<div id="px-captcha"></div>`)); !hit {
		t.Errorf("expected PerimeterX detection by body")
	}
}

func TestAnalyze(t *testing.T) {
	if hit, _ := Analyze(nil, DefaultDetectors()); hit {
		t.Error("nil response should not be a challenge")
	}
	hit, src := Analyze(resp(403, map[string]string{"Server": "cloudflare"}, ""), DefaultDetectors())
	if !hit || src != "Cloudflare" {
		t.Errorf("expected Cloudflare, got %v %q", hit, src)
	}
	if hit, _ := Analyze(resp(200, nil, "fine"), DefaultDetectors()); hit {
		t.Error("clean page flagged")
	}
}
