package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SignatureFeed is the bulk document a feed fetcher hands to Reload.
type SignatureFeed struct {
	Signatures []FeedSignature `json:"signatures" yaml:"signatures"`
	Patterns   []FeedPattern   `json:"patterns" yaml:"patterns"`
}

// FeedSignature is one known-bad hash.
type FeedSignature struct {
	SHA256 string `json:"sha256" yaml:"sha256"`
	Label  string `json:"label" yaml:"label"`
}

// FeedPattern is one named text pattern.
type FeedPattern struct {
	Name    string `json:"name" yaml:"name"`
	Pattern string `json:"pattern" yaml:"pattern"`
}

// Validate rejects malformed records before anything touches the database.
func (f SignatureFeed) Validate() error {
	for i, s := range f.Signatures {
		if !isSHA256Hex(strings.ToLower(strings.TrimSpace(s.SHA256))) {
			return fmt.Errorf("signature %d: invalid sha256 %q", i, s.SHA256)
		}
		if strings.TrimSpace(s.Label) == "" {
			return fmt.Errorf("signature %d: empty label", i)
		}
	}
	for i, p := range f.Patterns {
		if strings.TrimSpace(p.Name) == "" || p.Pattern == "" {
			return fmt.Errorf("pattern %d: name and pattern are required", i)
		}
	}
	return nil
}

// LoadSignatureFeed reads a feed document. Files ending in .yaml or .yml
// are parsed as YAML, everything else as JSON.
func LoadSignatureFeed(path string) (SignatureFeed, error) {
	var feed SignatureFeed
	data, err := os.ReadFile(path)
	if err != nil {
		return feed, fmt.Errorf("failed to read feed: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &feed)
	default:
		err = json.Unmarshal(data, &feed)
	}
	if err != nil {
		return feed, fmt.Errorf("failed to parse feed %s: %w", filepath.Base(path), err)
	}
	return feed, feed.Validate()
}
