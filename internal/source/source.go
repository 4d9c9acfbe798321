package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tanq16/parafetch/internal/manager"
	"github.com/tanq16/parafetch/internal/utils"
)

var ErrUnsupportedScheme = errors.New("unsupported url scheme")

// Target is a link turned into something the download manager can fetch.
// Options carries metadata the source already knows, so the manager can skip
// its own probe.
type Target struct {
	Link    string
	URL     string
	Options []manager.TaskOption
}

// Resolver maps user supplied links to fetchable HTTP URLs. Plain http(s)
// links pass through; s3://bucket/key links are turned into presigned GETs.
type Resolver struct {
	profile string
	log     zerolog.Logger

	once  sync.Once
	s3    *s3Source
	s3Err error
	newS3 func(ctx context.Context, profile string) (*s3Source, error)
}

func NewResolver(awsProfile string) *Resolver {
	return &Resolver{
		profile: awsProfile,
		log:     utils.GetLogger("source"),
		newS3:   newS3Source,
	}
}

func (r *Resolver) Resolve(ctx context.Context, link string) (Target, error) {
	if IsS3(link) {
		src, err := r.s3Source(ctx)
		if err != nil {
			return Target{}, err
		}
		return src.resolve(ctx, link)
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return Target{}, fmt.Errorf("invalid url %q: %w", link, err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return Target{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, parsed.Scheme)
	}
	if parsed.Host == "" {
		return Target{}, fmt.Errorf("invalid url %q: missing host", link)
	}
	return Target{Link: link, URL: link}, nil
}

func (r *Resolver) s3Source(ctx context.Context) (*s3Source, error) {
	r.once.Do(func() {
		r.s3, r.s3Err = r.newS3(ctx, r.profile)
		if r.s3Err == nil {
			r.log.Debug().Str("op", "source/s3").Str("profile", r.profile).Msg("s3 client ready")
		}
	})
	return r.s3, r.s3Err
}

func IsS3(link string) bool {
	return strings.HasPrefix(strings.ToLower(link), "s3://")
}
