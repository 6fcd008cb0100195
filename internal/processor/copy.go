package processor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"dupmill/internal/retrier"
	"dupmill/internal/storage"
)

// maxLocalVerifyAttempts is how many times the copy protocol re-fetches
// and re-hashes source content before giving up on a checksum match.
const maxLocalVerifyAttempts = 3

// copyContent streams contentId from src to dst, verifying the fetched
// bytes against srcChecksum locally before ever pushing them to the
// destination, and verifying the destination's own reported checksum
// afterward; a put whose reported checksum disagrees is retried like
// any other failed put. The local temp file used for staging is removed on every
// return path. On success it returns the number of bytes copied.
func (p *Processor) copyContent(ctx context.Context, spaceID, contentID, srcChecksum string, sourceProperties map[string]string) (int64, error) {
	mimetype := sourceProperties[storage.PropContentMimetype]

	tmpPath, err := p.fetchAndVerifyLocally(ctx, spaceID, contentID, srcChecksum)
	if tmpPath != "" {
		defer os.Remove(tmpPath)
	}
	if err != nil {
		return 0, err
	}

	file, err := os.Open(tmpPath)
	if err != nil {
		return 0, fatalf("failed to reopen staged content for %s/%s: %v", spaceID, contentID, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, fatalf("failed to stat staged content for %s/%s: %v", spaceID, contentID, err)
	}

	_, err = retrier.Do(ctx, p.RetrierConfig, func() (string, error) {
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			return "", err
		}
		destChecksum, err := p.Dest.PutContent(ctx, spaceID, contentID, mimetype, cleanProperties(sourceProperties), info.Size(), srcChecksum, file)
		if err != nil {
			return "", err
		}
		if destChecksum != srcChecksum {
			return destChecksum, fmt.Errorf("checksum mismatch after put: source=%s dest=%s", srcChecksum, destChecksum)
		}
		return destChecksum, nil
	})
	if err != nil {
		return 0, fatalf("failed to put destination content for %s/%s: %v", spaceID, contentID, err)
	}
	return info.Size(), nil
}

// fetchAndVerifyLocally retrieves contentId from the source up to
// maxLocalVerifyAttempts times, staging each attempt to a fresh temp
// file and hashing it locally, until the hash matches srcChecksum. It
// returns the path of the last staged file (valid whether or not the
// verification ultimately succeeded, so the caller can still clean up).
func (p *Processor) fetchAndVerifyLocally(ctx context.Context, spaceID, contentID, srcChecksum string) (string, error) {
	var lastPath string

	for attempt := 0; attempt < maxLocalVerifyAttempts; attempt++ {
		if lastPath != "" {
			os.Remove(lastPath)
			lastPath = ""
		}

		obj, err := retrier.Do(ctx, p.RetrierConfig, func() (storage.Object, error) {
			return p.Source.GetContent(ctx, spaceID, contentID)
		})
		if err != nil {
			return "", fatalf("failed to get source content for %s/%s: %v", spaceID, contentID, err)
		}

		path, localChecksum, err := stageAndHash(obj)
		obj.Close()
		if err != nil {
			return "", fatalf("failed to stage source content for %s/%s: %v", spaceID, contentID, err)
		}
		lastPath = path

		if localChecksum == srcChecksum {
			return lastPath, nil
		}
	}

	return lastPath, fatalf("unable to retrieve content matching expected source checksum %s for %s/%s after %d attempts", srcChecksum, spaceID, contentID, maxLocalVerifyAttempts)
}

// stageAndHash copies src to a new temp file and returns its path along
// with the hex MD5 of what was written.
func stageAndHash(src storage.Object) (string, string, error) {
	tmp, err := os.CreateTemp("", "dupmill-content-*.tmp")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer tmp.Close()

	hash := md5.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hash), src); err != nil {
		os.Remove(tmp.Name())
		return "", "", fmt.Errorf("failed to copy content to temp file: %w", err)
	}

	return tmp.Name(), hex.EncodeToString(hash.Sum(nil)), nil
}
