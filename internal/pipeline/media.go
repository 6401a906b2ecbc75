package pipeline

import (
	"bytes"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"insightxr/internal/asset"
)

const sniffLen = 3072

// Upload is a media payload submitted by the user.
type Upload struct {
	Name        string
	Size        int64
	ContentType string
	Body        io.Reader
}

// sniffMedia reads the head of the payload and resolves its media type. The
// returned reader replays the head followed by the rest of the body.
func sniffMedia(u Upload) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(u.Body, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", nil, err //nolint:wrapcheck
	}
	head = head[:n]
	if n == 0 {
		return "", nil, asset.ErrEmptyPayload
	}
	body := io.MultiReader(bytes.NewReader(head), u.Body)

	detected := mimetype.Detect(head)
	for m := detected; m != nil; m = m.Parent() {
		if isMediaType(m.String()) {
			return m.String(), body, nil
		}
	}
	// Sniffing is inconclusive for some containers; fall back to the
	// declared type only when nothing more specific was detected.
	if detected.Is("application/octet-stream") {
		declared, _, _ := mime.ParseMediaType(u.ContentType)
		if isMediaType(declared) {
			return declared, body, nil
		}
	}
	return "", nil, asset.ErrUnsupportedMedia
}

func isMediaType(t string) bool {
	return strings.HasPrefix(t, "audio/") || strings.HasPrefix(t, "video/")
}

// extensionSet builds the allow-list from already normalized extensions such
// as ".mp4"; an empty list allows any.
func extensionSet(exts []string) map[string]struct{} {
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		allowed[ext] = struct{}{}
	}
	return allowed
}

// cleanFileName strips any directory components a client may send.
func cleanFileName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		return ""
	}
	return name
}
