package spine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// PackProvider is a Provider backed by an installed pack's verses.json file:
// a flat {"Book.Chapter.Verse": "surface text"} map written to
// <install_path>/verses.json. This is the minimal concrete spine format the
// core requires; ingest of real third-party text formats (MorphGNT, etc.) is
// a separate, out-of-scope adapter that would produce this same file.
type PackProvider struct {
	packID      string
	installPath string

	mu     sync.Mutex
	loaded bool
	verses map[string]string
}

// NewPackProvider creates a lazily-loading pack-backed spine provider.
func NewPackProvider(packID, installPath string) *PackProvider {
	return &PackProvider{packID: packID, installPath: installPath}
}

func (p *PackProvider) ensureLoaded() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}
	path := filepath.Join(p.installPath, "verses.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("spine: reading %s: %w", path, err)
	}
	var verses map[string]string
	if err := json.Unmarshal(raw, &verses); err != nil {
		return fmt.Errorf("spine: parsing %s: %w", path, err)
	}
	p.verses = verses
	p.loaded = true
	return nil
}

func (p *PackProvider) GetVerseText(_ context.Context, ref string) (string, error) {
	if err := p.ensureLoaded(); err != nil {
		return "", err
	}
	text, ok := p.verses[ref]
	if !ok {
		return "", ErrVerseNotFound(ref)
	}
	return text, nil
}

func (p *PackProvider) GetVerseTokens(ctx context.Context, ref string) ([]Token, error) {
	text, err := p.GetVerseText(ctx, ref)
	if err != nil {
		return nil, err
	}
	return tokenize(text), nil
}

func (p *PackProvider) HasVerse(_ context.Context, ref string) (bool, error) {
	if err := p.ensureLoaded(); err != nil {
		return false, err
	}
	_, ok := p.verses[ref]
	return ok, nil
}

func (p *PackProvider) SourceKey() string { return p.packID }
