package blob

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/ChaceN89/library/pkg/domain"
)

// FolderFor maps an upload prefix to its top-level folder.
func FolderFor(prefix string) string {
	switch prefix {
	case domain.PrefixContent:
		return "books"
	case domain.PrefixCoverArt:
		return "bookArt"
	case domain.PrefixProfileImage:
		return "profilePictures"
	default:
		return "misc"
	}
}

// NewToken returns a fresh uniqueness token for one upload operation.
func NewToken() string {
	return uuid.NewString()
}

// SanitizeFilename keeps the base name of an uploaded file and strips spaces.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		name = ""
	}
	name = strings.ReplaceAll(name, " ", "")
	if name == "" {
		return "file"
	}
	return name
}

// DeriveKey builds {folder}/{owner}_{prefix}_{token}_{filename}.
func DeriveKey(ownerID, prefix, token, filename string) string {
	return fmt.Sprintf("%s/%s_%s_%s_%s", FolderFor(prefix), ownerID, prefix, token, SanitizeFilename(filename))
}

// KeyParts is the decomposition of a derived key.
type KeyParts struct {
	Folder   string
	OwnerID  string
	Prefix   string
	Token    string
	Filename string
}

// ParseKey inverts DeriveKey for keys whose prefix is known to the scheme.
// Owner ids and tokens never contain underscores; prefixes may.
func ParseKey(key string) (KeyParts, error) {
	folder, rest, ok := strings.Cut(key, "/")
	if !ok || folder == "" || rest == "" {
		return KeyParts{}, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	ownerID, rest, ok := strings.Cut(rest, "_")
	if !ok || ownerID == "" {
		return KeyParts{}, fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	for _, prefix := range []string{domain.PrefixContent, domain.PrefixCoverArt, domain.PrefixProfileImage} {
		tail, found := strings.CutPrefix(rest, prefix+"_")
		if !found || FolderFor(prefix) != folder {
			continue
		}
		token, filename, ok := strings.Cut(tail, "_")
		if !ok || token == "" || filename == "" {
			break
		}
		return KeyParts{Folder: folder, OwnerID: ownerID, Prefix: prefix, Token: token, Filename: filename}, nil
	}
	return KeyParts{}, fmt.Errorf("%w: %q", ErrMalformedKey, key)
}

// Naming maps keys to public URLs and back.
type Naming struct {
	BaseURL string
}

// NewNaming builds a Naming for baseURL, or for the virtual-hosted S3 URL of
// bucket/region when baseURL is empty.
func NewNaming(baseURL, bucket, region string) Naming {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region)
	}
	return Naming{BaseURL: baseURL}
}

// URL returns the public URL of key.
func (n Naming) URL(key string) string {
	return n.BaseURL + "/" + key
}

// Key extracts the object key from a URL produced by URL.
func (n Naming) Key(url string) (string, error) {
	key, ok := strings.CutPrefix(url, n.BaseURL+"/")
	if !ok || key == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedURL, url)
	}
	return key, nil
}
