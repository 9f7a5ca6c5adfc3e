// Package extension generates the on-disk helper extension that grants the
// commander runtime control over proxy settings and browsing data. The
// extension itself holds no logic: it only carries the permissions whose
// APIs the DevTools bridge evaluates against its worker.
package extension

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Helper is a generated helper extension directory.
type Helper struct {
	dir string
}

// backgroundScript is the extension worker. It does nothing on its own; the
// bridge drives chrome.proxy and chrome.browsingData through it.
const backgroundScript = `// proxy-pilot helper worker. Driven over DevTools; intentionally inert.
console.log("proxy-pilot helper ready");
`

// New writes a helper extension into a fresh temporary directory. Directory
// and files are owner-only since the browser profile may be shared.
func New() (*Helper, error) {
	dir, err := os.MkdirTemp("", "proxy-pilot-ext-*")
	if err != nil {
		return nil, fmt.Errorf("create extension dir: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("set extension dir permissions: %w", err)
	}

	h := &Helper{dir: dir}
	if err := h.writeManifest(); err != nil {
		h.Cleanup()
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "background.js"), []byte(backgroundScript), 0o600); err != nil {
		h.Cleanup()
		return nil, fmt.Errorf("write background script: %w", err)
	}
	return h, nil
}

// Dir returns the extension directory path for --load-extension.
func (h *Helper) Dir() string {
	return h.dir
}

// Cleanup removes the extension directory.
func (h *Helper) Cleanup() {
	if h.dir != "" {
		_ = os.RemoveAll(h.dir)
	}
}

func (h *Helper) writeManifest() error {
	manifest := map[string]any{
		"manifest_version": 3,
		"name":             "proxy-pilot helper",
		"version":          "1.0",
		"permissions": []string{
			"proxy",
			"browsingData",
		},
		"host_permissions": []string{
			"<all_urls>",
		},
		"background": map[string]any{
			"service_worker": "background.js",
		},
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(h.dir, "manifest.json"), data, 0o600); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}
