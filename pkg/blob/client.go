package blob

import (
	"context"
	"errors"
	"mime"
	"path"
	"strings"

	"github.com/ChaceN89/library/pkg/domain"
)

var (
	// ErrStorage marks any failure of the remote object store.
	ErrStorage      = errors.New("blob storage failure")
	ErrMalformedURL = errors.New("url does not belong to the blob store")
	ErrMalformedKey = errors.New("key does not follow the naming scheme")
)

// Client is the blob store as seen by the lifecycle manager.
type Client interface {
	// Put stores data under key with caching disabled and returns its URL.
	Put(ctx context.Context, data []byte, key, contentType string) (string, error)
	// DeleteByURL removes the object a stored URL points at.
	DeleteByURL(ctx context.Context, url string) error
}

// Recorder observes blob operations.
type Recorder interface {
	ObserveBlob(op, result string)
}

// Instrument wraps c so every call is reported to r.
func Instrument(c Client, r Recorder) Client {
	if r == nil {
		return c
	}
	return &instrumented{next: c, rec: r}
}

type instrumented struct {
	next Client
	rec  Recorder
}

func (i *instrumented) Put(ctx context.Context, data []byte, key, contentType string) (string, error) {
	url, err := i.next.Put(ctx, data, key, contentType)
	i.rec.ObserveBlob("put", resultLabel(err))
	return url, err
}

func (i *instrumented) DeleteByURL(ctx context.Context, url string) error {
	err := i.next.DeleteByURL(ctx, url)
	i.rec.ObserveBlob("delete", resultLabel(err))
	return err
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ContentTypeFor picks a content type from the filename extension, falling back
// to a per-prefix default.
func ContentTypeFor(prefix, filename string) string {
	if ext := strings.ToLower(path.Ext(filename)); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	switch prefix {
	case domain.PrefixCoverArt, domain.PrefixProfileImage:
		return "image/png"
	default:
		return "text/plain"
	}
}
