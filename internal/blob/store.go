// Package blob provides the durable file stores backing ingestion: the
// pre-index blob store for uploaded documents and the journal blob
// store for exported sessions. Both are plain directories with atomic
// manifest/export writes, and both are authoritative over the files
// they create; the vector collections derived from them are not.
package blob

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "localmind/internal/errors"
	"localmind/internal/logging"
)

const manifestName = "_manifest.json"

// timestampLayout keeps a fixed-width fraction so stamped timestamps
// sort lexicographically in chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Info describes a stored blob. Serialized into the manifest.
type Info struct {
	BlobID           string `json:"blob_id"`
	OriginalFilename string `json:"original_filename"`
	FileExtension    string `json:"file_extension"`
	SizeBytes        int64  `json:"size_bytes"`
	CreatedAt        string `json:"created_at"`
	StoragePath      string `json:"storage_path"`
}

// Store manages uploaded files under a single directory plus a manifest
// mapping blob id to metadata. The manifest is re-read on every
// operation so concurrent processes never act on a stale cache.
type Store struct {
	root   string
	logger logging.Logger
}

// NewStore creates the storage directory if needed.
func NewStore(root string, logger logging.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, apperrors.StorageUnavailable("failed to create blob storage directory", err)
	}
	return &Store{root: root, logger: logger.WithComponent("blob_store")}, nil
}

// newBlobID allocates a fresh random id with 96 bits of entropy. Bytes
// 6-8 of a v4 UUID carry its version and variant bits, so the id is
// built from the twelve fully random bytes around them.
func newBlobID() string {
	raw := uuid.New()
	random := append(append(make([]byte, 0, 12), raw[:6]...), raw[9:15]...)
	return "blob_" + hex.EncodeToString(random)
}

// Save writes content under a fresh blob id and records it in the
// manifest. The id is returned only after both writes succeed.
func (s *Store) Save(content []byte, originalFilename string) (string, error) {
	blobID := newBlobID()
	ext := strings.ToLower(filepath.Ext(originalFilename))
	storagePath := filepath.Join(s.root, blobID+ext)

	if err := os.WriteFile(storagePath, content, 0o600); err != nil {
		return "", apperrors.StorageUnavailable("failed to write blob file", err)
	}

	info := Info{
		BlobID:           blobID,
		OriginalFilename: originalFilename,
		FileExtension:    ext,
		SizeBytes:        int64(len(content)),
		CreatedAt:        time.Now().UTC().Format(timestampLayout),
		StoragePath:      storagePath,
	}

	manifest, err := s.loadManifest()
	if err != nil {
		return "", err
	}
	manifest[blobID] = info
	if err := s.saveManifest(manifest); err != nil {
		// Leave the orphan file behind; a retry allocates a fresh id and
		// the orphan is invisible without a manifest entry.
		return "", err
	}

	s.logger.Info("Saved blob", "blob_id", blobID, "filename", originalFilename, "size_bytes", info.SizeBytes)
	return blobID, nil
}

// Get returns the on-disk path for a blob. A manifest entry whose file
// is missing reports not-found; healing is the caller's responsibility.
func (s *Store) Get(blobID string) (string, error) {
	manifest, err := s.loadManifest()
	if err != nil {
		return "", err
	}

	info, ok := manifest[blobID]
	if !ok {
		return "", apperrors.NotFound("blob", blobID)
	}
	if _, err := os.Stat(info.StoragePath); err != nil {
		return "", apperrors.NotFound("blob", blobID)
	}
	return info.StoragePath, nil
}

// GetInfo returns the metadata record for a blob.
func (s *Store) GetInfo(blobID string) (*Info, error) {
	manifest, err := s.loadManifest()
	if err != nil {
		return nil, err
	}
	info, ok := manifest[blobID]
	if !ok {
		return nil, apperrors.NotFound("blob", blobID)
	}
	return &info, nil
}

// List returns all blob records, unordered.
func (s *Store) List() ([]Info, error) {
	manifest, err := s.loadManifest()
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(manifest))
	for _, info := range manifest {
		infos = append(infos, info)
	}
	return infos, nil
}

// Delete removes the file, then the manifest entry. Removing the file
// first keeps a mid-delete crash retryable: the manifest entry survives
// and a second Delete call finishes the job.
func (s *Store) Delete(blobID string) (bool, error) {
	manifest, err := s.loadManifest()
	if err != nil {
		return false, err
	}
	info, ok := manifest[blobID]
	if !ok {
		return false, nil
	}

	if err := os.Remove(info.StoragePath); err != nil && !os.IsNotExist(err) {
		return false, apperrors.StorageUnavailable("failed to remove blob file", err)
	}

	delete(manifest, blobID)
	if err := s.saveManifest(manifest); err != nil {
		return false, err
	}

	s.logger.Info("Deleted blob", "blob_id", blobID)
	return true, nil
}

func (s *Store) manifestPath() string {
	return filepath.Join(s.root, manifestName)
}

func (s *Store) loadManifest() (map[string]Info, error) {
	data, err := os.ReadFile(s.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Info{}, nil
		}
		return nil, apperrors.StorageUnavailable("failed to read blob manifest", err)
	}

	manifest := map[string]Info{}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, apperrors.StorageUnavailable("blob manifest is corrupt", err)
	}
	return manifest, nil
}

// saveManifest persists the manifest atomically: write a temp file in
// the same directory, then rename over the target.
func (s *Store) saveManifest(manifest map[string]Info) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return apperrors.StorageUnavailable("failed to encode blob manifest", err)
	}

	tmp, err := os.CreateTemp(s.root, manifestName+".tmp-*")
	if err != nil {
		return apperrors.StorageUnavailable("failed to create temp manifest", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return apperrors.StorageUnavailable("failed to write temp manifest", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return apperrors.StorageUnavailable("failed to close temp manifest", err)
	}
	if err := os.Rename(tmpPath, s.manifestPath()); err != nil {
		_ = os.Remove(tmpPath)
		return apperrors.StorageUnavailable("failed to replace manifest", err)
	}
	return nil
}
