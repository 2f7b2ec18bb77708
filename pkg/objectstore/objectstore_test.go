package objectstore_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idis-platform/idis/pkg/canonical"
	"github.com/idis-platform/idis/pkg/idiserr"
	"github.com/idis-platform/idis/pkg/objectstore"
)

const (
	testTenant  = "cccccccc-cccc-4ccc-8ccc-cccccccccccc"
	otherTenant = "dddddddd-dddd-4ddd-8ddd-dddddddddddd"
)

var testNow = time.Date(2026, 4, 6, 12, 0, 0, 0, time.UTC)

// seqIDs hands out v-1, v-2, ... so tests can name versions.
func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("v-%d", n)
	}
}

// tickingClock advances one second per put so created_at ordering is
// strict.
func tickingClock() func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return testNow.Add(time.Duration(n-1) * time.Second)
	}
}

func newFSStore(t *testing.T) (*objectstore.Store, string) {
	t.Helper()
	base := t.TempDir()
	blobs, err := objectstore.NewFSBlobStore(base)
	require.NoError(t, err)
	store := objectstore.New(blobs, objectstore.WithClock(tickingClock()), objectstore.WithIDFunc(seqIDs()))
	return store, base
}

// dirFor recomputes the on-disk directory the layout mandates.
func dirFor(base, tenantID, key string) string {
	safe := strings.ReplaceAll(key, "/", "_")
	if len(safe) > 64 {
		safe = safe[:64]
	}
	return filepath.Join(base, tenantID, safe+"_"+canonical.HashString(key)[:16])
}

func TestValidateKey(t *testing.T) {
	for _, key := range []string{
		"report.pdf",
		"deals/deal-001/pitchdeck.pdf",
		"a/b/c/d",
		"UPPER_case.123-ok",
	} {
		assert.NoError(t, objectstore.ValidateKey(key), "key %q", key)
	}

	tests := []struct {
		name string
		key  string
		msg  string
	}{
		{"empty", "", "key is empty"},
		{"null byte", "a\x00b", "null byte"},
		{"backslash", `a\b`, "backslash"},
		{"leading slash", "/etc/passwd", "leading slash"},
		{"leading tilde", "~/secrets", "leading tilde"},
		{"drive letter", "C:/windows", "drive letter"},
		{"traversal segment", "a/../b", "attempts traversal"},
		{"bare traversal", "..", "attempts traversal"},
		{"empty segment", "a//b", "empty path segment"},
		{"space", "a b", "forbidden characters"},
		{"colon", "a:b", "forbidden characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := objectstore.ValidateKey(tt.key)
			require.Error(t, err)
			assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestValidateTenantID(t *testing.T) {
	assert.NoError(t, objectstore.ValidateTenantID(testTenant))
	for _, id := range []string{"", "tenant-1", "cccccccc-cccc-4ccc-8ccc", "zzzzzzzz-cccc-4ccc-8ccc-cccccccccccc"} {
		err := objectstore.ValidateTenantID(id)
		assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput), "tenant %q", id)
	}
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	store, base := newFSStore(t)
	payload := []byte("quarterly ARR ledger")

	meta, err := store.Put(context.Background(), testTenant, "deals/deal-001/arr.csv", payload, "text/csv")
	require.NoError(t, err)
	assert.Equal(t, testTenant, meta.TenantID)
	assert.Equal(t, "deals/deal-001/arr.csv", meta.Key)
	assert.Equal(t, "v-1", meta.VersionID)
	assert.Equal(t, canonical.HashBytes(payload), meta.SHA256)
	assert.Equal(t, int64(len(payload)), meta.SizeBytes)
	assert.Equal(t, "text/csv", meta.ContentType)
	assert.Equal(t, testNow, meta.CreatedAt)

	data, got, err := store.Get(context.Background(), testTenant, "deals/deal-001/arr.csv", "")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, meta, got)

	// Layout on disk matches the contract.
	dir := dirFor(base, testTenant, "deals/deal-001/arr.csv")
	latest, err := os.ReadFile(filepath.Join(dir, "_latest"))
	require.NoError(t, err)
	assert.Equal(t, "v-1\n", string(latest))
	assert.FileExists(t, filepath.Join(dir, "v-1.data"))
	assert.FileExists(t, filepath.Join(dir, "v-1.meta.json"))
}

func TestStore_VersioningAndLatest(t *testing.T) {
	store, _ := newFSStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := store.Put(ctx, testTenant, "memo.md", []byte(fmt.Sprintf("draft %d", i)), "text/markdown")
		require.NoError(t, err)
	}

	data, meta, err := store.Get(ctx, testTenant, "memo.md", "")
	require.NoError(t, err)
	assert.Equal(t, "draft 3", string(data))
	assert.Equal(t, "v-3", meta.VersionID)

	data, _, err = store.Get(ctx, testTenant, "memo.md", "v-1")
	require.NoError(t, err)
	assert.Equal(t, "draft 1", string(data))

	versions, err := store.ListVersions(ctx, testTenant, "memo.md")
	require.NoError(t, err)
	require.Len(t, versions, 3)
	assert.Equal(t, "v-3", versions[0].VersionID)
	assert.Equal(t, "v-2", versions[1].VersionID)
	assert.Equal(t, "v-1", versions[2].VersionID)
}

func TestStore_Head(t *testing.T) {
	store, _ := newFSStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, testTenant, "memo.md", []byte("draft"), "")
	require.NoError(t, err)

	meta, err := store.Head(ctx, testTenant, "memo.md", "")
	require.NoError(t, err)
	assert.Equal(t, "v-1", meta.VersionID)
	assert.Empty(t, meta.ContentType)

	_, err = store.Head(ctx, testTenant, "missing.md", "")
	assert.True(t, idiserr.IsKind(err, idiserr.KindNotFound))

	_, err = store.Head(ctx, testTenant, "memo.md", "v-9")
	assert.True(t, idiserr.IsKind(err, idiserr.KindNotFound))

	_, err = store.Head(ctx, testTenant, "memo.md", "../../escape")
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))
}

func TestStore_DeleteVersionRewiresLatest(t *testing.T) {
	store, base := newFSStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := store.Put(ctx, testTenant, "memo.md", []byte(fmt.Sprintf("draft %d", i)), "")
		require.NoError(t, err)
	}

	// Deleting the current latest repoints at the next most recent.
	require.NoError(t, store.Delete(ctx, testTenant, "memo.md", "v-3"))
	data, meta, err := store.Get(ctx, testTenant, "memo.md", "")
	require.NoError(t, err)
	assert.Equal(t, "draft 2", string(data))
	assert.Equal(t, "v-2", meta.VersionID)

	dir := dirFor(base, testTenant, "memo.md")
	latest, err := os.ReadFile(filepath.Join(dir, "_latest"))
	require.NoError(t, err)
	assert.Equal(t, "v-2\n", string(latest))
	assert.NoFileExists(t, filepath.Join(dir, "v-3.data"))

	require.NoError(t, store.Delete(ctx, testTenant, "memo.md", "v-2"))
	require.NoError(t, store.Delete(ctx, testTenant, "memo.md", "v-1"))

	// Nothing remains, including the directory.
	_, err = store.Head(ctx, testTenant, "memo.md", "")
	assert.True(t, idiserr.IsKind(err, idiserr.KindNotFound))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestStore_DeleteOlderVersionKeepsLatest(t *testing.T) {
	store, _ := newFSStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := store.Put(ctx, testTenant, "memo.md", []byte(fmt.Sprintf("draft %d", i)), "")
		require.NoError(t, err)
	}

	require.NoError(t, store.Delete(ctx, testTenant, "memo.md", "v-1"))

	_, meta, err := store.Get(ctx, testTenant, "memo.md", "")
	require.NoError(t, err)
	assert.Equal(t, "v-3", meta.VersionID)

	versions, err := store.ListVersions(ctx, testTenant, "memo.md")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "v-3", versions[0].VersionID)
	assert.Equal(t, "v-2", versions[1].VersionID)

	_, err = store.Get(ctx, testTenant, "memo.md", "v-1")
	assert.True(t, idiserr.IsKind(err, idiserr.KindNotFound))
}

func TestStore_DeleteWholeObject(t *testing.T) {
	store, base := newFSStore(t)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		_, err := store.Put(ctx, testTenant, "memo.md", []byte(fmt.Sprintf("draft %d", i)), "")
		require.NoError(t, err)
	}

	require.NoError(t, store.Delete(ctx, testTenant, "memo.md", ""))

	_, err := store.Head(ctx, testTenant, "memo.md", "")
	assert.True(t, idiserr.IsKind(err, idiserr.KindNotFound))
	_, err = os.Stat(dirFor(base, testTenant, "memo.md"))
	assert.True(t, os.IsNotExist(err))

	err = store.Delete(ctx, testTenant, "memo.md", "")
	assert.True(t, idiserr.IsKind(err, idiserr.KindNotFound))
}

func TestStore_TamperDetection(t *testing.T) {
	store, base := newFSStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, testTenant, "memo.md", []byte("original"), "")
	require.NoError(t, err)

	dataPath := filepath.Join(dirFor(base, testTenant, "memo.md"), "v-1.data")
	require.NoError(t, os.WriteFile(dataPath, []byte("tampered"), 0o644))

	_, _, err = store.Get(ctx, testTenant, "memo.md", "")
	require.Error(t, err)
	assert.True(t, idiserr.IsKind(err, idiserr.KindConflict))
	assert.Contains(t, err.Error(), "does not match recorded sha256")

	// Head does not read the payload, so it still answers.
	_, err = store.Head(ctx, testTenant, "memo.md", "")
	assert.NoError(t, err)
}

func TestStore_CrossTenantIsolation(t *testing.T) {
	store, _ := newFSStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, testTenant, "memo.md", []byte("tenant one"), "")
	require.NoError(t, err)

	// Same key under another tenant is a distinct object.
	_, err = store.Get(ctx, otherTenant, "memo.md", "")
	assert.True(t, idiserr.IsKind(err, idiserr.KindNotFound))

	_, err = store.Put(ctx, otherTenant, "memo.md", []byte("tenant two"), "")
	require.NoError(t, err)

	data, _, err := store.Get(ctx, testTenant, "memo.md", "")
	require.NoError(t, err)
	assert.Equal(t, "tenant one", string(data))

	err = store.Delete(ctx, otherTenant, "memo.md", "")
	require.NoError(t, err)
	_, _, err = store.Get(ctx, testTenant, "memo.md", "")
	assert.NoError(t, err)
}

func TestStore_RejectsBadTenantAndKey(t *testing.T) {
	store, _ := newFSStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "not-a-uuid", "memo.md", []byte("x"), "")
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))

	_, err = store.Put(ctx, testTenant, "../escape", []byte("x"), "")
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))

	_, _, err = store.Get(ctx, testTenant, "/abs/path", "")
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))

	err = store.Delete(ctx, "", "memo.md", "")
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))
}

func TestStore_LongKeysDoNotCollide(t *testing.T) {
	store, base := newFSStore(t)
	ctx := context.Background()

	shared := strings.Repeat("a", 70)
	keyOne := shared + "/one.bin"
	keyTwo := shared + "/two.bin"

	_, err := store.Put(ctx, testTenant, keyOne, []byte("one"), "")
	require.NoError(t, err)
	_, err = store.Put(ctx, testTenant, keyTwo, []byte("two"), "")
	require.NoError(t, err)

	one, _, err := store.Get(ctx, testTenant, keyOne, "")
	require.NoError(t, err)
	two, _, err := store.Get(ctx, testTenant, keyTwo, "")
	require.NoError(t, err)
	assert.Equal(t, "one", string(one))
	assert.Equal(t, "two", string(two))

	// Directory names share the truncated prefix but differ in hash.
	dirOne := filepath.Base(dirFor(base, testTenant, keyOne))
	dirTwo := filepath.Base(dirFor(base, testTenant, keyTwo))
	assert.NotEqual(t, dirOne, dirTwo)
	assert.Equal(t, dirOne[:64], dirTwo[:64])
	assert.DirExists(t, filepath.Dir(dirFor(base, testTenant, keyOne)))
}

func TestFSBlobStore_ContainmentFailsClosed(t *testing.T) {
	blobs, err := objectstore.NewFSBlobStore(t.TempDir())
	require.NoError(t, err)

	_, err = blobs.ReadBlob(context.Background(), "../outside")
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))
	assert.Contains(t, err.Error(), "escapes the base directory")

	err = blobs.WriteBlob(context.Background(), "../../etc/evil", []byte("x"))
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))

	err = blobs.RemovePrefix(context.Background(), "")
	assert.True(t, idiserr.IsKind(err, idiserr.KindInvalidInput))
	assert.Contains(t, err.Error(), "refusing to remove the base directory")
}

func TestStore_MetaTenantMismatchIsConflict(t *testing.T) {
	store, base := newFSStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, testTenant, "memo.md", []byte("x"), "")
	require.NoError(t, err)

	// Rewrite the sidecar to claim another tenant.
	metaPath := filepath.Join(dirFor(base, testTenant, "memo.md"), "v-1.meta.json")
	raw, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(metaPath, []byte(strings.ReplaceAll(string(raw), testTenant, otherTenant)), 0o644))

	_, err = store.Head(ctx, testTenant, "memo.md", "")
	assert.True(t, idiserr.IsKind(err, idiserr.KindConflict))
	assert.Contains(t, err.Error(), "does not match its location")
}
