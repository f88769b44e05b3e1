package config

import (
	"bufio"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// LoadManualApps reads the manual-apps file: one absolute path per line,
// "#" comments and blank lines tolerated, leading/trailing whitespace
// trimmed. Non-absolute paths are rejected with a warning.
// A missing file yields an empty, non-error list — manual apps are an
// optional boost source, not a requirement.
func LoadManualApps(path string) []string {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var apps []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !filepath.IsAbs(line) {
			log.Printf("preheatd: config: manual-apps entry %q is not an absolute path, skipping", line)
			continue
		}
		apps = append(apps, line)
	}
	return apps
}
