package scanner

import "testing"

func TestSanitize(t *testing.T) {
	cases := []struct {
		name     string
		path     string
		wantPath string
		wantOK   bool
	}{
		{"absolute path accepted", "/usr/bin/app", "/usr/bin/app", true},
		{"relative path rejected", "usr/bin/app", "", false},
		{"deleted marker rejected", "/usr/bin/app (deleted)", "", false},
		{"prelink suffix stripped", "/usr/bin/app.#prelink#.12345", "/usr/bin/app", true},
		{"empty path rejected", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotPath, gotOK := Sanitize(tc.path)
			if gotOK != tc.wantOK {
				t.Fatalf("Sanitize(%q) ok = %v, want %v", tc.path, gotOK, tc.wantOK)
			}
			if gotOK && gotPath != tc.wantPath {
				t.Fatalf("Sanitize(%q) = %q, want %q", tc.path, gotPath, tc.wantPath)
			}
		})
	}
}
