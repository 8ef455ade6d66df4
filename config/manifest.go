package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/unkn0wn-root/offlinecache"
)

const versionPlaceholder = "{{version}}"

// LoadManifest reads the TOML asset manifest at path. An empty path yields
// the built-in manifest.
//
//	assets       = ["/", "/offline.html", "/static/css/app.min.css?v={{version}}"]
//	offline_page = "/offline.html"
//	icons        = ["/static/images/icon.png?v={{version}}", "/static/images/icon.png"]
func LoadManifest(path, version string) (offlinecache.Manifest, error) {
	if strings.TrimSpace(path) == "" {
		return offlinecache.DefaultManifest(version), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return offlinecache.Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data, version)
}

func ParseManifest(data []byte, version string) (offlinecache.Manifest, error) {
	var raw struct {
		Assets      []string `toml:"assets"`
		OfflinePage string   `toml:"offline_page"`
		Icons       []string `toml:"icons"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return offlinecache.Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if len(raw.Assets) == 0 {
		return offlinecache.Manifest{}, errors.New("parse manifest: assets is empty")
	}
	sub := func(s string) string {
		return strings.ReplaceAll(strings.TrimSpace(s), versionPlaceholder, version)
	}
	m := offlinecache.Manifest{OfflinePage: sub(raw.OfflinePage)}
	for _, a := range raw.Assets {
		if a = sub(a); a != "" {
			m.Assets = append(m.Assets, a)
		}
	}
	for _, i := range raw.Icons {
		if i = sub(i); i != "" {
			m.Icons = append(m.Icons, i)
		}
	}
	return m, nil
}
