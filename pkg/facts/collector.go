// Package facts discovers the platform of a node through its Shell and
// caches the result in the store.
package facts

import (
	"bufio"
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
	"github.com/openfroyo/froyo-mysql/pkg/stores"
)

// DefaultTTL is how long collected facts stay cached.
const DefaultTTL = time.Hour

// osReleasePaths are tried in order.
var osReleasePaths = []string{"/etc/os-release", "/usr/lib/os-release"}

// Cache stores facts between runs. stores.SQLiteStore satisfies it.
type Cache interface {
	UpsertFacts(ctx context.Context, fact *stores.Fact) error
	GetFacts(ctx context.Context, targetID string) (*stores.Fact, error)
}

// Collector collects platform facts from a node.
type Collector struct {
	cache  Cache
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithCache caches facts in c.
func WithCache(c Cache) Option {
	return func(col *Collector) { col.cache = c }
}

// WithTTL sets the cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(col *Collector) { col.ttl = ttl }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(col *Collector) { col.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(col *Collector) { col.now = now }
}

// NewCollector creates a facts collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{ttl: DefaultTTL, logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect returns the node's facts, from the cache when they are fresh
// and refresh is false.
func (c *Collector) Collect(ctx context.Context, shell engine.Shell, refresh bool) (*engine.Facts, error) {
	target := shell.Target()

	if c.cache != nil && !refresh {
		if cached, err := c.cached(ctx, target); err == nil {
			c.logger.Debug().Str("target", target).Msg("using cached facts")
			return cached, nil
		} else if !engine.IsNotFound(err) {
			c.logger.Warn().Err(err).Str("target", target).Msg("failed to read cached facts")
		}
	}

	start := c.now()
	facts, err := c.collect(ctx, shell)
	if err != nil {
		return nil, err
	}
	facts.TargetID = target
	facts.CollectedAt = start
	facts.TTL = c.ttl

	c.logger.Info().
		Str("target", target).
		Str("platform", facts.Platform).
		Str("platform_family", facts.PlatformFamily).
		Str("platform_version", facts.PlatformVersion).
		Dur("duration", c.now().Sub(start)).
		Msg("facts collected")

	if c.cache != nil {
		rec, err := stores.NewFactRecord(facts)
		if err == nil {
			err = c.cache.UpsertFacts(ctx, rec)
		}
		if err != nil {
			c.logger.Warn().Err(err).Str("target", target).Msg("failed to cache facts")
		}
	}

	return facts, nil
}

func (c *Collector) cached(ctx context.Context, target string) (*engine.Facts, error) {
	rec, err := c.cache.GetFacts(ctx, target)
	if err != nil {
		return nil, err
	}
	facts, err := rec.Facts()
	if err != nil {
		return nil, err
	}
	if facts.Expired(c.now()) {
		return nil, engine.NewPermanentError("cached facts expired", errors.New(target)).WithCode(engine.ErrCodeNotFound)
	}
	return facts, nil
}

func (c *Collector) collect(ctx context.Context, shell engine.Shell) (*engine.Facts, error) {
	var release map[string]string
	for _, p := range osReleasePaths {
		data, err := shell.ReadFile(ctx, p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		release = ParseOSRelease(string(data))
		break
	}
	if release == nil {
		return nil, engine.NewPermanentError("os-release not found", os.ErrNotExist).
			WithCode(engine.ErrCodeNotFound).
			WithDetail("paths", osReleasePaths)
	}

	facts := &engine.Facts{
		Platform:        release["ID"],
		PlatformVersion: release["VERSION_ID"],
		PlatformFamily:  PlatformFamily(release["ID"], release["ID_LIKE"]),
		Codename:        release["VERSION_CODENAME"],
	}

	res, err := shell.Run(ctx, "hostname")
	if err != nil {
		return nil, err
	}
	if res.Success() {
		facts.Hostname = strings.TrimSpace(res.Stdout)
	}

	return facts, nil
}

// ParseOSRelease parses os-release(5) content.
func ParseOSRelease(content string) map[string]string {
	out := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
			value = value[1 : len(value)-1]
		}
		out[strings.TrimSpace(key)] = value
	}
	return out
}

// families maps distribution IDs to platform families.
var families = map[string]string{
	"debian":              "debian",
	"ubuntu":              "debian",
	"linuxmint":           "debian",
	"raspbian":            "debian",
	"rhel":                "rhel",
	"centos":              "rhel",
	"rocky":               "rhel",
	"almalinux":           "rhel",
	"ol":                  "rhel",
	"scientific":          "rhel",
	"fedora":              "fedora",
	"amzn":                "amazon",
	"sles":                "suse",
	"opensuse":            "suse",
	"opensuse-leap":       "suse",
	"opensuse-tumbleweed": "suse",
	"suse":                "suse",
	"arch":                "arch",
	"manjaro":             "arch",
}

// PlatformFamily maps an os-release ID and ID_LIKE to a platform family.
// Unknown distributions map to their own ID.
func PlatformFamily(id, idLike string) string {
	if f, ok := families[id]; ok {
		return f
	}
	for _, like := range strings.Fields(idLike) {
		if f, ok := families[like]; ok {
			return f
		}
	}
	return id
}
