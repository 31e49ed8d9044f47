package useragent

import (
	"crypto/rand"
	"math/big"
	"sync/atomic"
)

// Profile is a coherent set of browser request headers. Sending a Chrome
// User-Agent with a Firefox Accept header is an easy tell, so the headers
// travel together.
type Profile struct {
	UserAgent      string
	Accept         string
	AcceptLanguage string
}

const (
	acceptChrome  = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8"
	acceptFirefox = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	acceptSafari  = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	langZH        = "zh-CN,zh;q=0.9,en;q=0.8"
)

// DefaultProfiles are current desktop browsers with Chinese locale headers.
var DefaultProfiles = []Profile{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36", acceptChrome, langZH},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36", acceptChrome, langZH},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36", acceptChrome, langZH},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:126.0) Gecko/20100101 Firefox/126.0", acceptFirefox, "zh-CN,zh;q=0.8,zh-TW;q=0.7,en-US;q=0.5,en;q=0.3"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:126.0) Gecko/20100101 Firefox/126.0", acceptFirefox, "zh-CN,zh;q=0.8,en-US;q=0.5,en;q=0.3"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15", acceptSafari, "zh-CN,zh-Hans;q=0.9"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0", acceptChrome, langZH},
}

// Pool hands out header profiles round-robin or at random.
type Pool struct {
	profiles []Profile
	next     atomic.Uint64
}

// NewPool builds a pool over profiles, or DefaultProfiles when empty.
func NewPool(profiles []Profile) *Pool {
	if len(profiles) == 0 {
		profiles = DefaultProfiles
	}
	return &Pool{profiles: append([]Profile(nil), profiles...)}
}

// FromUserAgents builds a pool from bare User-Agent strings, pairing each with
// generic Accept headers. Used for operator-supplied lists.
func FromUserAgents(uas []string) *Pool {
	profiles := make([]Profile, 0, len(uas))
	for _, ua := range uas {
		if ua == "" {
			continue
		}
		profiles = append(profiles, Profile{UserAgent: ua, Accept: acceptChrome, AcceptLanguage: langZH})
	}
	return NewPool(profiles)
}

// Next returns profiles in order, wrapping around. Safe for concurrent use.
func (p *Pool) Next() Profile {
	if len(p.profiles) == 0 {
		return Profile{}
	}
	i := p.next.Add(1) - 1
	return p.profiles[i%uint64(len(p.profiles))]
}

// Random returns a uniformly random profile. Safe for concurrent use.
func (p *Pool) Random() Profile {
	if len(p.profiles) == 0 {
		return Profile{}
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(p.profiles))))
	if err != nil {
		return p.Next()
	}
	return p.profiles[n.Int64()]
}

// Len reports how many profiles the pool holds.
func (p *Pool) Len() int { return len(p.profiles) }
