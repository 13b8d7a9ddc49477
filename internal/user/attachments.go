package user

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"

	"chatcore/internal/chaterr"
	"chatcore/internal/state"

	"github.com/h2non/filetype"
)

// processAttachments content-sniffs and stores each upload, content-addressed
// by its SHA-256 hash, failing badArgument if any exceeds maxBytes. Storage
// is idempotent (internal/filestore.Save no-ops on an existing hash), so the
// same attachment sent twice costs one disk write at most.
func (s *Service) processAttachments(ctx context.Context, uploads []attachmentUpload, maxBytes int64) ([]state.Attachment, error) {
	if len(uploads) == 0 {
		return nil, nil
	}
	if s.files == nil {
		return nil, chaterr.New(chaterr.BadArgument)
	}

	out := make([]state.Attachment, 0, len(uploads))
	for _, u := range uploads {
		if int64(len(u.Data)) > maxBytes {
			return nil, chaterr.New(chaterr.BadArgument)
		}

		mimeType := u.MimeType
		if kind, err := filetype.Match(u.Data); err == nil && kind != filetype.Unknown {
			mimeType = kind.MIME.Value
		}

		sum := sha256.Sum256(u.Data)
		hash := hex.EncodeToString(sum[:])
		if err := s.files.Save(bytes.NewReader(u.Data), hash); err != nil {
			return nil, chaterr.Wrap(err)
		}

		out = append(out, state.Attachment{Name: u.Name, MimeType: mimeType, FileID: hash})
	}
	return out, nil
}
