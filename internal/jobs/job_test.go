package jobs

import "testing"

func TestCleanURL_DropsTrackingParams(t *testing.T) {
	got := CleanURL("https://YouTube.com/watch?v=abc123&si=tracker&utm_source=share#t=30")
	want := "https://youtube.com/watch?v=abc123"
	if got != want {
		t.Fatalf("CleanURL = %q, want %q", got, want)
	}
}

func TestCleanURL_KeepsIdentifyingParams(t *testing.T) {
	// v= identifies the video and must survive cleaning.
	a := CleanURL("https://www.youtube.com/watch?v=one")
	b := CleanURL("https://www.youtube.com/watch?v=two")
	if a == b {
		t.Fatalf("distinct videos collapsed to %q", a)
	}
}

func TestCleanURL_UnparseableReturnedTrimmed(t *testing.T) {
	if got := CleanURL("  not a url  "); got != "not a url" {
		t.Fatalf("CleanURL = %q", got)
	}
}

func TestFingerprint_VariantsCollapse(t *testing.T) {
	a := Fingerprint(CleanURL("https://youtu.be/abc?si=x"), "best")
	b := Fingerprint(CleanURL("https://youtu.be/abc?si=totally-different"), "best")
	if a != b {
		t.Fatalf("share-link variants did not collapse: %q vs %q", a, b)
	}
}

func TestFingerprint_FormatMatters(t *testing.T) {
	url := CleanURL("https://youtu.be/abc")
	if Fingerprint(url, "best") == Fingerprint(url, "bestaudio") {
		t.Fatal("different formats produced the same fingerprint")
	}
}

func TestDetectPlatform(t *testing.T) {
	cases := map[string]Platform{
		"https://www.youtube.com/watch?v=abc": PlatformYouTube,
		"https://youtu.be/abc":                PlatformYouTube,
		"https://www.tiktok.com/@u/video/1":   PlatformTikTok,
		"https://www.instagram.com/reel/x/":   PlatformInstagram,
		"https://example.com/video.mp4":       PlatformUnknown,
	}
	for url, want := range cases {
		if got := DetectPlatform(url); got != want {
			t.Errorf("DetectPlatform(%q) = %q, want %q", url, got, want)
		}
	}
}

func TestValidSource(t *testing.T) {
	if !ValidSource("https://youtu.be/abc") {
		t.Fatal("https URL rejected")
	}
	for _, bad := range []string{"", "ftp://example.com/x", "youtube.com/watch", "https://"} {
		if ValidSource(bad) {
			t.Errorf("ValidSource(%q) = true", bad)
		}
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateSucceeded, StateFailed, StateCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateQueued, StateRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestNew_StartsQueued(t *testing.T) {
	j := New("user-1", "https://youtu.be/abc?si=x", "best")
	if j.State != StateQueued {
		t.Fatalf("state = %q", j.State)
	}
	if j.Attempts != 0 {
		t.Fatalf("attempts = %d", j.Attempts)
	}
	if j.SourceURL != "https://youtu.be/abc" {
		t.Fatalf("source url not cleaned: %q", j.SourceURL)
	}
	if j.Platform != PlatformYouTube {
		t.Fatalf("platform = %q", j.Platform)
	}
	if j.Fingerprint == "" {
		t.Fatal("empty fingerprint")
	}
}
