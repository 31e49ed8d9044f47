package scraper

import (
	"testing"
	"time"

	"github.com/FranksOps/gleaner/internal/fingerprint"
	"github.com/FranksOps/gleaner/pkg/useragent"
)

func newTestFetcher(t *testing.T) *Fetcher {
	t.Helper()
	fetcher, err := NewFetcher(FetchConfig{
		Timeout:     5 * time.Second,
		Fingerprint: fingerprint.ProfileGo,
		Profiles:    useragent.NewPool([]useragent.Profile{{UserAgent: "TestBrowser/1.0"}}),
	})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	return fetcher
}
