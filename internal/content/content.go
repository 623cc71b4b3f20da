// Package content defines the closed set of shareable message content.
package content

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Kind identifies a content variant on the wire and in storage.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindNote  Kind = "note"
)

// ErrRemote is returned for content that only exists on a remote server: it
// cannot be encoded locally, and video payloads are not rebuilt inline.
var ErrRemote = errors.New("content: remote content is not handled locally")

// Raw is a piece of composed or captured content. The set of implementations
// is closed: Text, Note, Image, Video and ImageData.
type Raw interface {
	Kind() Kind
	isRaw()
}

// Text is a plain chat message.
type Text struct{ Body string }

// Note is a longer-form text post.
type Note struct{ Body string }

// Image references an image by location. A file path or file:// URL is read
// when staged; http(s) URLs are the posted form of an uploaded image.
type Image struct{ URL string }

// Video references a video by location, with the same rules as Image.
type Video struct{ URL string }

// ImageData is an in-memory image that has not been uploaded yet. It only
// exists on the sender side.
type ImageData struct{ Bytes []byte }

func (Text) Kind() Kind      { return KindText }
func (Note) Kind() Kind      { return KindNote }
func (Image) Kind() Kind     { return KindImage }
func (Video) Kind() Kind     { return KindVideo }
func (ImageData) Kind() Kind { return KindImage }

func (Text) isRaw()      {}
func (Note) isRaw()      {}
func (Image) isRaw()     {}
func (Video) isRaw()     {}
func (ImageData) isRaw() {}

// NeedsUpload reports whether content of kind k carries a binary payload
// that must go through the upload gateway before a message can reference it.
func NeedsUpload(k Kind) bool {
	switch k {
	case KindImage, KindVideo:
		return true
	case KindText, KindNote:
		return false
	default:
		return false
	}
}

// ParseKind validates a stored kind string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindText, KindImage, KindVideo, KindNote:
		return k, nil
	default:
		return "", fmt.Errorf("content: unknown kind %q", s)
	}
}

// Encode serializes raw to the bytes that get encrypted: UTF-8 for text and
// notes, the file or in-memory bytes for media.
func Encode(raw Raw) ([]byte, error) {
	switch c := raw.(type) {
	case Text:
		return []byte(c.Body), nil
	case Note:
		return []byte(c.Body), nil
	case ImageData:
		if len(c.Bytes) == 0 {
			return nil, errors.New("content: empty image data")
		}
		return c.Bytes, nil
	case Image:
		return readLocal(c.URL)
	case Video:
		return readLocal(c.URL)
	case nil:
		return nil, errors.New("content: nil content")
	default:
		return nil, fmt.Errorf("content: unsupported variant %T", raw)
	}
}

// Decode rebuilds inline content from decrypted bytes. Images come back as
// ImageData. Video is always remote, so KindVideo fails with ErrRemote and
// callers keep the raw bytes.
func Decode(k Kind, b []byte) (Raw, error) {
	switch k {
	case KindText:
		return Text{Body: string(b)}, nil
	case KindNote:
		return Note{Body: string(b)}, nil
	case KindImage:
		return ImageData{Bytes: b}, nil
	case KindVideo:
		return nil, fmt.Errorf("decode %s: %w", k, ErrRemote)
	default:
		return nil, fmt.Errorf("content: unknown kind %q", k)
	}
}

func readLocal(ref string) ([]byte, error) {
	path := ref
	if strings.Contains(ref, "://") {
		u, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("content: parse %q: %w", ref, err)
		}
		if u.Scheme != "file" {
			return nil, ErrRemote
		}
		path = u.Path
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("content: read media: %w", err)
	}
	return b, nil
}
