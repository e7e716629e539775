package publish

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"git.home.luguber.info/inful/webship/internal/foundation/errors"
	"git.home.luguber.info/inful/webship/internal/logfields"
)

const (
	releasesDir = "releases"
	currentLink = "current"
)

// Artifact identifies a published release.
type Artifact struct {
	// Path is the release directory backing the artifact.
	Path string
	// URL is where the artifact is served.
	URL string
	// Previous is the release that was live before the swap, if any.
	Previous string
}

// Publisher manages release directories and the live pointer per application.
// Changes to an application's live link and removal of its releases are
// serialized per slug.
type Publisher struct {
	root    string
	baseURL string

	mu    sync.Mutex
	slugs map[string]*sync.Mutex
}

// NewPublisher creates a publisher writing below root. baseURL prefixes the
// served artifact URL; empty yields a relative /sites/<slug>/ URL.
func NewPublisher(root, baseURL string) *Publisher {
	return &Publisher{
		root:    root,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		slugs:   make(map[string]*sync.Mutex),
	}
}

// lock takes the slug's lock and returns its release.
func (p *Publisher) lock(slug string) func() {
	p.mu.Lock()
	m, ok := p.slugs[slug]
	if !ok {
		m = &sync.Mutex{}
		p.slugs[slug] = m
	}
	p.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Root returns the publish root directory.
func (p *Publisher) Root() string { return p.root }

// SiteDir returns the live directory served for slug.
func (p *Publisher) SiteDir(slug string) string {
	return filepath.Join(p.root, slug, currentLink)
}

// URLFor returns the public URL of an application's live artifact.
func (p *Publisher) URLFor(slug string) string {
	path := "/sites/" + url.PathEscape(slug) + "/"
	return p.baseURL + path
}

// Stage copies outputDir into the build's release directory. The release is
// not live until Promote.
func (p *Publisher) Stage(ctx context.Context, slug, buildID, outputDir string) (string, error) {
	if err := checkName(slug); err != nil {
		return "", err
	}
	if err := checkName(buildID); err != nil {
		return "", err
	}
	release := p.releasePath(slug, buildID)
	if err := os.RemoveAll(release); err != nil {
		return "", publishErr(err, "failed to clear release directory", release)
	}
	if err := copyTree(ctx, outputDir, release); err != nil {
		_ = os.RemoveAll(release)
		if ctx.Err() != nil {
			return "", context.Cause(ctx)
		}
		return "", publishErr(err, "failed to copy build output", release)
	}
	slog.Debug("Staged release", logfields.Path(release), logfields.BuildID(buildID))
	return release, nil
}

// Promote atomically points the application's live symlink at the staged
// release of buildID.
func (p *Publisher) Promote(slug, buildID string) (Artifact, error) {
	if err := checkName(slug); err != nil {
		return Artifact{}, err
	}
	if err := checkName(buildID); err != nil {
		return Artifact{}, err
	}
	defer p.lock(slug)()
	return p.promote(slug, buildID)
}

func (p *Publisher) promote(slug, buildID string) (Artifact, error) {
	release := p.releasePath(slug, buildID)
	if info, err := os.Stat(release); err != nil || !info.IsDir() {
		return Artifact{}, publishErr(err, "release not staged", release)
	}
	previous, _ := p.Current(slug)

	link := filepath.Join(p.root, slug, currentLink)
	tmp := link + ".tmp-" + buildID
	_ = os.Remove(tmp)
	if err := os.Symlink(filepath.Join(releasesDir, buildID), tmp); err != nil {
		return Artifact{}, publishErr(err, "failed to create release link", tmp)
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return Artifact{}, publishErr(err, "failed to swap live release", link)
	}
	slog.Info("Promoted release", logfields.Path(release), logfields.BuildID(buildID))
	return Artifact{Path: release, URL: p.URLFor(slug), Previous: previous}, nil
}

// Publish stages and promotes in one step.
func (p *Publisher) Publish(ctx context.Context, slug, buildID, outputDir string) (Artifact, error) {
	if _, err := p.Stage(ctx, slug, buildID, outputDir); err != nil {
		return Artifact{}, err
	}
	return p.Promote(slug, buildID)
}

// Discard removes a staged release that never went live.
func (p *Publisher) Discard(slug, buildID string) error {
	if checkName(slug) != nil || checkName(buildID) != nil {
		return nil
	}
	defer p.lock(slug)()
	release := p.releasePath(slug, buildID)
	if cur, _ := p.Current(slug); cur == release {
		return nil
	}
	if err := os.RemoveAll(release); err != nil {
		return publishErr(err, "failed to discard release", release)
	}
	return nil
}

// Current returns the release directory the live link points at.
func (p *Publisher) Current(slug string) (string, error) {
	target, err := os.Readlink(filepath.Join(p.root, slug, currentLink))
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(p.root, slug, target)
	}
	return filepath.Clean(target), nil
}

// Restore points the live link back at release, used when the durable record
// disagrees with the filesystem after a crash. An empty release removes the link.
func (p *Publisher) Restore(slug, release string) error {
	if err := checkName(slug); err != nil {
		return err
	}
	defer p.lock(slug)()
	cur, err := p.Current(slug)
	if err == nil && cur == filepath.Clean(release) {
		return nil
	}
	if release == "" {
		if err := os.Remove(filepath.Join(p.root, slug, currentLink)); err != nil && !os.IsNotExist(err) {
			return publishErr(err, "failed to remove live link", slug)
		}
		return nil
	}
	_, err = p.promote(slug, filepath.Base(release))
	return err
}

// Collect removes every release of slug except the live one and those in keep.
// It returns the removed release directories.
func (p *Publisher) Collect(slug string, keep ...string) ([]string, error) {
	skip := make(map[string]bool, len(keep))
	for _, k := range keep {
		skip[filepath.Clean(k)] = true
	}
	return p.Prune(slug, func(path string) bool {
		return skip[path] || skip[filepath.Base(path)]
	})
}

// Prune removes every release of slug except the live one and those keep
// reports true for. keep receives the release directory path. The live link
// cannot move while Prune runs, so keep must not call back into the publisher.
func (p *Publisher) Prune(slug string, keep func(release string) bool) ([]string, error) {
	if err := checkName(slug); err != nil {
		return nil, err
	}
	defer p.lock(slug)()
	dir := filepath.Join(p.root, slug, releasesDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, publishErr(err, "failed to list releases", dir)
	}
	live, _ := p.Current(slug)
	var removed []string
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if path == live || (keep != nil && keep(path)) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("Failed to remove superseded release", logfields.Path(path), logfields.Error(err))
			continue
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// Sites lists the application slugs that have a publish directory.
func (p *Publisher) Sites() ([]string, error) {
	entries, err := os.ReadDir(p.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, publishErr(err, "failed to list sites", p.root)
	}
	var slugs []string
	for _, e := range entries {
		if e.IsDir() {
			slugs = append(slugs, e.Name())
		}
	}
	return slugs, nil
}

func (p *Publisher) releasePath(slug, buildID string) string {
	return filepath.Join(p.root, slug, releasesDir, buildID)
}

func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			return copyFile(path, target)
		default:
			// Symlinks and special files never leave the build workspace.
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 -- path comes from walking the build output
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644) // #nosec G302 G304 -- served content
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return errors.ValidationError(fmt.Sprintf("invalid publish name %q", name)).Build()
	}
	return nil
}

func publishErr(err error, msg, path string) error {
	return errors.PublishFailed(msg).WithCause(err).WithContext("path", path).Build()
}
