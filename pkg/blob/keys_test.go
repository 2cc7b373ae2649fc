package blob

import (
	"errors"
	"strings"
	"testing"
)

func TestDeriveKeyFolders(t *testing.T) {
	cases := map[string]string{
		"content":       "books/",
		"cover_art":     "bookArt/",
		"profile_image": "profilePictures/",
		"avatar":        "misc/",
	}
	for prefix, folder := range cases {
		key := DeriveKey("u1", prefix, "tok", "a.txt")
		if !strings.HasPrefix(key, folder) {
			t.Fatalf("prefix %q: key %q should start with %q", prefix, key, folder)
		}
	}
}

func TestDeriveKeyStripsSpacesAndPaths(t *testing.T) {
	got := DeriveKey("owner-1", "content", "tok-1", "../../my great book.txt")
	want := "books/owner-1_content_tok-1_mygreatbook.txt"
	if got != want {
		t.Fatalf("DeriveKey = %q, want %q", got, want)
	}
	if got := SanitizeFilename("   "); got != "file" {
		t.Fatalf("empty filename should fall back, got %q", got)
	}
	if got := SanitizeFilename(`C:\Users\me\cover art.png`); got != "coverart.png" {
		t.Fatalf("windows path not reduced: %q", got)
	}
}

func TestNewTokenIsFresh(t *testing.T) {
	a, b := NewToken(), NewToken()
	if a == "" || a == b {
		t.Fatalf("tokens should be unique, got %q and %q", a, b)
	}
	if strings.Contains(a, "_") {
		t.Fatalf("token must not contain the key separator: %q", a)
	}
}

func TestParseKeyRoundTrip(t *testing.T) {
	for _, prefix := range []string{"content", "cover_art", "profile_image"} {
		key := DeriveKey("owner-9", prefix, "tok-9", "file_with_underscores.pdf")
		parts, err := ParseKey(key)
		if err != nil {
			t.Fatalf("parse %q: %v", key, err)
		}
		if parts.OwnerID != "owner-9" || parts.Prefix != prefix || parts.Token != "tok-9" || parts.Filename != "file_with_underscores.pdf" {
			t.Fatalf("unexpected parts for %q: %+v", key, parts)
		}
	}
}

func TestParseKeyRejectsForeignKeys(t *testing.T) {
	for _, key := range []string{"", "nofolder", "books/", "books/owner", "misc/owner_other_tok_file", "bookArt/owner_content_tok_file"} {
		if _, err := ParseKey(key); !errors.Is(err, ErrMalformedKey) {
			t.Fatalf("ParseKey(%q) err = %v, want ErrMalformedKey", key, err)
		}
	}
}

func TestNamingURLAndKey(t *testing.T) {
	n := NewNaming("", "library-bucket", "ca-central-1")
	if n.BaseURL != "https://library-bucket.s3.ca-central-1.amazonaws.com" {
		t.Fatalf("unexpected default base url %q", n.BaseURL)
	}
	url := n.URL("books/u_content_t_a.txt")
	key, err := n.Key(url)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if key != "books/u_content_t_a.txt" {
		t.Fatalf("key = %q", key)
	}
	if _, err := n.Key("https://elsewhere.example.com/books/x"); !errors.Is(err, ErrMalformedURL) {
		t.Fatalf("foreign url should be malformed, got %v", err)
	}
	if _, err := n.Key(n.BaseURL + "/"); !errors.Is(err, ErrMalformedURL) {
		t.Fatalf("empty key should be malformed, got %v", err)
	}
}

func TestNamingTrimsTrailingSlash(t *testing.T) {
	n := NewNaming("http://localhost:9000/library/", "", "")
	if got := n.URL("k"); got != "http://localhost:9000/library/k" {
		t.Fatalf("URL = %q", got)
	}
}

func TestContentTypeFor(t *testing.T) {
	if got := ContentTypeFor("content", "noext"); got != "text/plain" {
		t.Fatalf("content default = %q", got)
	}
	if got := ContentTypeFor("cover_art", "noext"); got != "image/png" {
		t.Fatalf("cover default = %q", got)
	}
	if got := ContentTypeFor("content", "book.pdf"); got != "application/pdf" {
		t.Fatalf("pdf = %q", got)
	}
}
