// Package objectstore is tenant-prefixed, versioned blob storage:
//
//	<tenant_id>/<safe_key>_<key_hash_16hex>/_latest
//	<tenant_id>/<safe_key>_<key_hash_16hex>/<version_id>.data
//	<tenant_id>/<safe_key>_<key_hash_16hex>/<version_id>.meta.json
//
// Every put is a new version; _latest is a pointer replaced atomically.
// The Store implements the versioned semantics once over a byte-level
// BlobStore contract; filesystem, S3, and GCS backends provide the
// bytes. The filesystem backend is the reference implementation.
package objectstore

import (
	"context"
	"encoding/json"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/idis-platform/idis/pkg/canonical"
	"github.com/idis-platform/idis/pkg/idiserr"
)

const (
	latestFileName = "_latest"
	dataSuffix     = ".data"
	metaSuffix     = ".meta.json"

	// safeKeyMax bounds the readable half of a key directory name; the
	// 16-hex key hash keeps truncated keys collision-free.
	safeKeyMax = 64
)

var (
	keyRE     = regexp.MustCompile(`^[A-Za-z0-9_.\-/]+$`)
	tenantRE  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	driveRE   = regexp.MustCompile(`^[A-Za-z]:`)
	versionRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

// ObjectMeta is the sidecar record written next to every version.
type ObjectMeta struct {
	TenantID    string    `json:"tenant_id"`
	Key         string    `json:"key"`
	VersionID   string    `json:"version_id"`
	SHA256      string    `json:"sha256"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlobStore is the byte-level backend contract: whole-blob reads and
// atomic whole-blob replaces, addressed by slash-separated names that
// the Store derives from validated components. A missing blob is a
// NOT_FOUND error.
type BlobStore interface {
	ReadBlob(ctx context.Context, name string) ([]byte, error)
	WriteBlob(ctx context.Context, name string, data []byte) error
	RemoveBlob(ctx context.Context, name string) error
	ListBlobs(ctx context.Context, prefix string) ([]string, error)
	RemovePrefix(ctx context.Context, prefix string) error
}

// ValidateTenantID fails closed on anything that is not UUID-shaped.
func ValidateTenantID(tenantID string) error {
	if !tenantRE.MatchString(tenantID) {
		return idiserr.Newf(idiserr.KindInvalidInput, "objectstore: tenant id %q is not UUID-shaped", tenantID)
	}
	return nil
}

// ValidateKey rejects traversal and platform tricks before any path is
// built: '..' segments, empty segments, leading '/' or '~', drive
// letters, backslashes, null bytes, and any character outside
// [A-Za-z0-9_.-/].
func ValidateKey(key string) error {
	switch {
	case key == "":
		return idiserr.New(idiserr.KindInvalidInput, "objectstore: key is empty")
	case strings.ContainsRune(key, '\x00'):
		return idiserr.New(idiserr.KindInvalidInput, "objectstore: key contains a null byte")
	case strings.ContainsRune(key, '\\'):
		return idiserr.Newf(idiserr.KindInvalidInput, "objectstore: key %q contains a backslash", key)
	case strings.HasPrefix(key, "/"):
		return idiserr.Newf(idiserr.KindInvalidInput, "objectstore: key %q has a leading slash", key)
	case strings.HasPrefix(key, "~"):
		return idiserr.Newf(idiserr.KindInvalidInput, "objectstore: key %q has a leading tilde", key)
	case driveRE.MatchString(key):
		return idiserr.Newf(idiserr.KindInvalidInput, "objectstore: key %q starts with a drive letter", key)
	}
	if !keyRE.MatchString(key) {
		return idiserr.Newf(idiserr.KindInvalidInput, "objectstore: key %q contains forbidden characters", key)
	}
	for _, seg := range strings.Split(key, "/") {
		switch seg {
		case "":
			return idiserr.Newf(idiserr.KindInvalidInput, "objectstore: key %q has an empty path segment", key)
		case "..":
			return idiserr.Newf(idiserr.KindInvalidInput, "objectstore: key %q attempts traversal", key)
		}
	}
	return nil
}

func validateVersionID(versionID string) error {
	if !versionRE.MatchString(versionID) || strings.Contains(versionID, "..") {
		return idiserr.Newf(idiserr.KindInvalidInput, "objectstore: invalid version id %q", versionID)
	}
	return nil
}

// keyDir flattens a key into its directory name. The readable prefix is
// the key with slashes folded to underscores, truncated; the 16-hex
// sha256 prefix of the raw key disambiguates.
func keyDir(key string) string {
	safe := strings.ReplaceAll(key, "/", "_")
	if len(safe) > safeKeyMax {
		safe = safe[:safeKeyMax]
	}
	return safe + "_" + canonical.HashString(key)[:16]
}

// Store layers versioned, tenant-prefixed object semantics over a
// BlobStore.
type Store struct {
	blobs BlobStore
	clock func() time.Time
	newID func() string
}

// Option adjusts a Store at construction.
type Option func(*Store)

// WithClock overrides the created_at time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithIDFunc overrides version id generation.
func WithIDFunc(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// New creates a store over the given backend.
func New(blobs BlobStore, opts ...Option) *Store {
	s := &Store{blobs: blobs, clock: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) objectDir(tenantID, key string) string {
	return path.Join(tenantID, keyDir(key))
}

// Put writes data as a new version of key and repoints _latest at it.
// Older versions are untouched.
func (s *Store) Put(ctx context.Context, tenantID, key string, data []byte, contentType string) (*ObjectMeta, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	meta := &ObjectMeta{
		TenantID:    tenantID,
		Key:         key,
		VersionID:   s.newID(),
		SHA256:      canonical.HashBytes(data),
		SizeBytes:   int64(len(data)),
		ContentType: contentType,
		CreatedAt:   s.clock().UTC(),
	}
	rawMeta, err := canonical.Marshal(meta)
	if err != nil {
		return nil, idiserr.Wrapf(idiserr.KindInvalidInput, err, "objectstore: marshal meta for %s", key)
	}

	dir := s.objectDir(tenantID, key)
	dataName := path.Join(dir, meta.VersionID+dataSuffix)
	metaName := path.Join(dir, meta.VersionID+metaSuffix)

	if err := s.blobs.WriteBlob(ctx, dataName, data); err != nil {
		return nil, err
	}
	if err := s.blobs.WriteBlob(ctx, metaName, rawMeta); err != nil {
		_ = s.blobs.RemoveBlob(ctx, dataName)
		return nil, err
	}
	// _latest moves last so readers never see a dangling pointer.
	if err := s.blobs.WriteBlob(ctx, path.Join(dir, latestFileName), []byte(meta.VersionID+"\n")); err != nil {
		_ = s.blobs.RemoveBlob(ctx, metaName)
		_ = s.blobs.RemoveBlob(ctx, dataName)
		return nil, err
	}
	return meta, nil
}

// Get returns one version's bytes and meta. An empty versionID follows
// _latest. The payload is re-hashed against the recorded sha256 before
// it is returned.
func (s *Store) Get(ctx context.Context, tenantID, key, versionID string) ([]byte, *ObjectMeta, error) {
	meta, err := s.Head(ctx, tenantID, key, versionID)
	if err != nil {
		return nil, nil, err
	}
	dir := s.objectDir(tenantID, key)
	data, err := s.blobs.ReadBlob(ctx, path.Join(dir, meta.VersionID+dataSuffix))
	if err != nil {
		return nil, nil, err
	}
	if got := canonical.HashBytes(data); got != meta.SHA256 {
		return nil, nil, idiserr.Newf(idiserr.KindConflict, "objectstore: %s version %s data does not match recorded sha256", key, meta.VersionID)
	}
	return data, meta, nil
}

// Head returns one version's meta without touching the payload.
func (s *Store) Head(ctx context.Context, tenantID, key, versionID string) (*ObjectMeta, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	dir := s.objectDir(tenantID, key)

	if versionID == "" {
		latest, err := s.blobs.ReadBlob(ctx, path.Join(dir, latestFileName))
		if err != nil {
			if idiserr.IsKind(err, idiserr.KindNotFound) {
				return nil, idiserr.Newf(idiserr.KindNotFound, "objectstore: object %s not found", key)
			}
			return nil, err
		}
		versionID = strings.TrimSpace(string(latest))
	}
	if err := validateVersionID(versionID); err != nil {
		return nil, err
	}

	rawMeta, err := s.blobs.ReadBlob(ctx, path.Join(dir, versionID+metaSuffix))
	if err != nil {
		if idiserr.IsKind(err, idiserr.KindNotFound) {
			return nil, idiserr.Newf(idiserr.KindNotFound, "objectstore: object %s version %s not found", key, versionID)
		}
		return nil, err
	}
	meta, err := decodeMeta(rawMeta)
	if err != nil {
		return nil, idiserr.Wrapf(idiserr.KindOf(err), err, "objectstore: object %s version %s", key, versionID)
	}
	if meta.TenantID != tenantID || meta.Key != key {
		return nil, idiserr.Newf(idiserr.KindConflict, "objectstore: object %s version %s meta does not match its location", key, versionID)
	}
	return meta, nil
}

// ListVersions returns all versions of key, newest first by created_at
// with version id as the tiebreaker.
func (s *Store) ListVersions(ctx context.Context, tenantID, key string) ([]ObjectMeta, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	dir := s.objectDir(tenantID, key)

	names, err := s.blobs.ListBlobs(ctx, dir)
	if err != nil {
		return nil, err
	}
	var versions []ObjectMeta
	for _, name := range names {
		if !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		rawMeta, err := s.blobs.ReadBlob(ctx, name)
		if err != nil {
			return nil, err
		}
		meta, err := decodeMeta(rawMeta)
		if err != nil {
			return nil, idiserr.Wrapf(idiserr.KindOf(err), err, "objectstore: object %s", key)
		}
		versions = append(versions, *meta)
	}
	if len(versions) == 0 {
		return nil, idiserr.Newf(idiserr.KindNotFound, "objectstore: object %s not found", key)
	}
	sort.Slice(versions, func(i, j int) bool {
		if !versions[i].CreatedAt.Equal(versions[j].CreatedAt) {
			return versions[i].CreatedAt.After(versions[j].CreatedAt)
		}
		return versions[i].VersionID > versions[j].VersionID
	})
	return versions, nil
}

// Delete removes one version, or the whole object when versionID is
// empty. Deleting the version _latest points at rewires the pointer to
// the next most recent remaining version; deleting the last version
// removes the object directory.
func (s *Store) Delete(ctx context.Context, tenantID, key, versionID string) error {
	if err := ValidateTenantID(tenantID); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	dir := s.objectDir(tenantID, key)

	if versionID == "" {
		if _, err := s.blobs.ReadBlob(ctx, path.Join(dir, latestFileName)); err != nil {
			if idiserr.IsKind(err, idiserr.KindNotFound) {
				return idiserr.Newf(idiserr.KindNotFound, "objectstore: object %s not found", key)
			}
			return err
		}
		return s.blobs.RemovePrefix(ctx, dir)
	}

	if _, err := s.Head(ctx, tenantID, key, versionID); err != nil {
		return err
	}
	if err := s.blobs.RemoveBlob(ctx, path.Join(dir, versionID+dataSuffix)); err != nil && !idiserr.IsKind(err, idiserr.KindNotFound) {
		return err
	}
	if err := s.blobs.RemoveBlob(ctx, path.Join(dir, versionID+metaSuffix)); err != nil && !idiserr.IsKind(err, idiserr.KindNotFound) {
		return err
	}

	latestName := path.Join(dir, latestFileName)
	latest, err := s.blobs.ReadBlob(ctx, latestName)
	if err != nil && !idiserr.IsKind(err, idiserr.KindNotFound) {
		return err
	}
	if err == nil && strings.TrimSpace(string(latest)) != versionID {
		return nil
	}

	remaining, err := s.ListVersions(ctx, tenantID, key)
	if err != nil {
		if idiserr.IsKind(err, idiserr.KindNotFound) {
			return s.blobs.RemovePrefix(ctx, dir)
		}
		return err
	}
	return s.blobs.WriteBlob(ctx, latestName, []byte(remaining[0].VersionID+"\n"))
}

func decodeMeta(raw []byte) (*ObjectMeta, error) {
	var meta ObjectMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, idiserr.Wrap(idiserr.KindInvalidInput, err, "meta is not valid JSON")
	}
	if meta.VersionID == "" || meta.SHA256 == "" {
		return nil, idiserr.New(idiserr.KindInvalidInput, "meta is incomplete")
	}
	return &meta, nil
}
