package identity

import (
	"context"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"git.home.luguber.info/inful/webship/internal/config"
)

// CredentialSource resolves the clone credential for a repository.
// A nil token with a nil error means the repository is fetched anonymously.
type CredentialSource interface {
	CloneToken(ctx context.Context, repoURL string) (*oauth2.Token, error)
}

// StaticSource serves tokens from configuration. A per-host token wins over
// the default token.
type StaticSource struct {
	fallback oauth2.TokenSource
	hosts    map[string]oauth2.TokenSource
}

// NewStaticSource builds a StaticSource from the credentials section.
func NewStaticSource(cfg config.CredentialsConfig) *StaticSource {
	s := &StaticSource{hosts: make(map[string]oauth2.TokenSource, len(cfg.Hosts))}
	if cfg.Token != "" {
		s.fallback = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	}
	for host, tok := range cfg.Hosts {
		if tok == "" {
			continue
		}
		s.hosts[strings.ToLower(host)] = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok})
	}
	return s
}

// CloneToken implements CredentialSource.
func (s *StaticSource) CloneToken(ctx context.Context, repoURL string) (*oauth2.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ts := s.fallback
	if host := hostOf(repoURL); host != "" {
		if hs, ok := s.hosts[host]; ok {
			ts = hs
		}
	}
	if ts == nil {
		return nil, nil
	}
	return ts.Token()
}

// Anonymous never returns a credential.
type Anonymous struct{}

// CloneToken implements CredentialSource.
func (Anonymous) CloneToken(context.Context, string) (*oauth2.Token, error) { return nil, nil }

// hostOf extracts the lower-cased host from an http(s) or scp-style URL.
func hostOf(repoURL string) string {
	if u, err := url.Parse(repoURL); err == nil && u.Host != "" {
		return strings.ToLower(u.Hostname())
	}
	// git@host:owner/repo.git
	if at := strings.Index(repoURL, "@"); at >= 0 {
		rest := repoURL[at+1:]
		if colon := strings.Index(rest, ":"); colon > 0 {
			return strings.ToLower(rest[:colon])
		}
	}
	return ""
}
