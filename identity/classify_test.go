package identity

import (
	"testing"

	"github.com/ftahirops/preheatd/config"
)

func sysConfig() *config.SystemConfig {
	return &config.SystemConfig{
		PoolExcludePatterns:  []string{"*esr*"},
		PoolPriorityPatterns: []string{"/opt/custom/*"},
	}
}

func TestClassifyManualAppsShortCircuitsEverythingElse(t *testing.T) {
	cfg := sysConfig()
	manual := []string{"/usr/lib/firefox-esr/firefox-esr"}

	got := Classify("/usr/lib/firefox-esr/firefox-esr", manual, cfg)
	if got.String() != "priority" {
		t.Fatalf("expected priority, got %v", got)
	}
}

func TestClassifyManualAppsMatchesFileURIForm(t *testing.T) {
	cfg := sysConfig()
	manual := []string{"file:///usr/bin/myapp"}

	got := Classify("/usr/bin/myapp", manual, cfg)
	if got.String() != "priority" {
		t.Fatalf("expected a file:// manual-apps entry to match the plain path form, got %v", got)
	}
}

func TestClassifyExcludePatternBeatsUserAppDir(t *testing.T) {
	cfg := sysConfig()
	got := Classify("/usr/bin/firefox-esr", nil, cfg)
	if got.String() != "observation" {
		t.Fatalf("expected exclude pattern to win over the /usr/bin user-app-dir rule, got %v", got)
	}
}

func TestClassifyUserAppDirDefaultsToPriority(t *testing.T) {
	cfg := sysConfig()
	got := Classify("/usr/bin/htop", nil, cfg)
	if got.String() != "priority" {
		t.Fatalf("expected /usr/bin membership to classify priority, got %v", got)
	}
}

func TestClassifyPriorityPatternMatchesOutsideUserAppDirs(t *testing.T) {
	cfg := sysConfig()
	got := Classify("/opt/custom/tool", nil, cfg)
	if got.String() != "priority" {
		t.Fatalf("expected pool-priority-patterns match outside the standard dirs, got %v", got)
	}
}

func TestClassifyDefaultsToObservation(t *testing.T) {
	cfg := sysConfig()
	got := Classify("/home/user/random-binary", nil, cfg)
	if got.String() != "observation" {
		t.Fatalf("expected default observation classification, got %v", got)
	}
}

func TestProposeFamilyMatchesESRVariantInSameDirectory(t *testing.T) {
	if !ProposeFamily("/usr/lib/firefox/firefox", "/usr/lib/firefox/firefox-esr") {
		t.Fatal("expected firefox/firefox-esr to be proposed as a family")
	}
	if !ProposeFamily("/usr/lib/app/app-1.2.3", "/usr/lib/app/app") {
		t.Fatal("expected a numeric version suffix to be stripped for comparison")
	}
}

func TestProposeFamilyRejectsDifferentDirectories(t *testing.T) {
	if ProposeFamily("/usr/lib/firefox/firefox", "/opt/firefox/firefox-esr") {
		t.Fatal("expected no family proposal across different directories")
	}
}

func TestProposeFamilyRejectsIdenticalBasenames(t *testing.T) {
	if ProposeFamily("/usr/lib/a/app", "/usr/lib/a/app") {
		t.Fatal("identical basenames are the same exe, not a variant pair")
	}
}

func TestProposeFamilyRejectsUnrelatedBasenames(t *testing.T) {
	if ProposeFamily("/usr/lib/a/firefox", "/usr/lib/a/thunderbird") {
		t.Fatal("expected unrelated basenames to not be proposed as a family")
	}
}
