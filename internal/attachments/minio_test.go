package attachments

import (
	"regexp"
	"testing"
	"time"
)

func TestGenerateObjectName(t *testing.T) {
	name := GenerateObjectName("Holiday Photo.JPG")
	day := time.Now().Format("2006/01/02")
	pattern := regexp.MustCompile(`^\d{4}/\d{2}/\d{2}/[0-9a-f-]{36}_[0-9a-f-]{36}\.jpg$`)
	if !pattern.MatchString(name) {
		t.Fatalf("unexpected object name %q", name)
	}
	if name[:10] != day {
		t.Fatalf("object name %q does not start with %s", name, day)
	}
	if GenerateObjectName("a.png") == GenerateObjectName("a.png") {
		t.Fatal("object names must be unique")
	}
}

func TestResourceType(t *testing.T) {
	cases := map[string]string{
		"image/png":       "image",
		"video/mp4":       "video",
		"application/pdf": "raw",
		"":                "raw",
	}
	for ct, want := range cases {
		if got := ResourceType(ct); got != want {
			t.Fatalf("ResourceType(%q) = %q, want %q", ct, got, want)
		}
	}
}

func TestDetectContentType(t *testing.T) {
	if got := DetectContentType(".WEBP"); got != "image/webp" {
		t.Fatalf("DetectContentType(.WEBP) = %q", got)
	}
	if got := DetectContentType(".xyz"); got != "application/octet-stream" {
		t.Fatalf("DetectContentType(.xyz) = %q", got)
	}
}

func TestNewDeleteToken(t *testing.T) {
	a, err := newDeleteToken()
	if err != nil {
		t.Fatalf("newDeleteToken() error = %v", err)
	}
	b, _ := newDeleteToken()
	if len(a) != 32 || a == b {
		t.Fatalf("unexpected tokens %q %q", a, b)
	}
}
