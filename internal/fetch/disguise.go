package fetch

import (
	"math/rand"
	"sync"
	"time"

	"casawatch/internal/monitor"
)

// defaultProfiles are the fingerprints rotated across concurrent tasks.
// Locale and Accept-Language stay Portuguese: the portals geo-tailor
// results and a mismatched locale is itself a bot signal.
var defaultProfiles = []monitor.DisguiseProfile{
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		Locale:         "pt-PT",
		Headers: map[string]string{
			"Accept-Language":           "pt-PT,pt;q=0.9,en-US;q=0.8,en;q=0.7",
			"Upgrade-Insecure-Requests": "1",
		},
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		ViewportWidth:  1680,
		ViewportHeight: 1050,
		Locale:         "pt-PT",
		Headers: map[string]string{
			"Accept-Language":           "pt-PT,pt;q=0.9,en;q=0.6",
			"Upgrade-Insecure-Requests": "1",
		},
	},
	{
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64; rv:123.0) Gecko/20100101 Firefox/123.0",
		ViewportWidth:  1440,
		ViewportHeight: 900,
		Locale:         "pt-PT",
		Headers: map[string]string{
			"Accept-Language":           "pt-PT,pt;q=0.8,en;q=0.5",
			"Upgrade-Insecure-Requests": "1",
		},
	},
}

// DisguisePool hands out a profile per task so that concurrent fetches do
// not share a fingerprint.
type DisguisePool struct {
	mu       sync.Mutex
	rng      *rand.Rand
	profiles []monitor.DisguiseProfile
}

// NewDisguisePool builds a pool over the default profiles.
func NewDisguisePool() *DisguisePool {
	return &DisguisePool{
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		profiles: defaultProfiles,
	}
}

// Pick returns a randomly chosen profile.
func (p *DisguisePool) Pick() monitor.DisguiseProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profiles[p.rng.Intn(len(p.profiles))]
}
