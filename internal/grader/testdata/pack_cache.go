package testdata

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/noraiz-anwar/code-response-assessment/internal/common/cache"
	"github.com/noraiz-anwar/code-response-assessment/internal/common/storage"
	"github.com/noraiz-anwar/code-response-assessment/internal/grader/model"
	appErr "github.com/noraiz-anwar/code-response-assessment/pkg/errors"
)

const (
	packSuffix    = ".tar.zst"
	stampFileName = "meta.json"
	tempPackName  = "pack.tmp"
	lockKeyPrefix = "grader:datapack:lock:"
	lockTTL       = 5 * time.Minute
)

// PackConfig tunes the local pack cache.
type PackConfig struct {
	Bucket    string `yaml:"bucket" json:"bucket"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
	CacheDir  string `yaml:"cache_dir" json:"cache_dir"`
	// TTL bounds how long a cached pack is trusted without a remote
	// staleness check.
	TTL        time.Duration `yaml:"ttl" json:"ttl"`
	LockWait   time.Duration `yaml:"lock_wait" json:"lock_wait"`
	MaxEntries int           `yaml:"max_entries" json:"max_entries"`
	MaxBytes   int64         `yaml:"max_bytes" json:"max_bytes"`
}

func (c PackConfig) withDefaults() PackConfig {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "packs"
	}
	if c.TTL <= 0 {
		c.TTL = 30 * time.Minute
	}
	if c.LockWait <= 0 {
		c.LockWait = 30 * time.Second
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 64
	}
	return c
}

type packEntry struct {
	path      string
	sizeBytes int64
	expiresAt time.Time
}

// PackCache materializes problem packs from object storage into local
// directories. Packs live at <key_prefix>/<problem>.tar.zst; an optional
// <key>.sha256 sidecar carries the expected digest. Concurrent fetchers of
// the same pack are serialized through a distributed lock, losers wait for
// the winner's extraction to land.
type PackCache struct {
	cfg     PackConfig
	storage storage.ObjectStorage
	lock    cache.LockOps

	mu        sync.Mutex
	entries   map[string]*packEntry
	lruKeys   []string
	totalSize int64
}

func NewPackCache(cfg PackConfig, store storage.ObjectStorage, lock cache.LockOps) *PackCache {
	return &PackCache{
		cfg:     cfg.withDefaults(),
		storage: store,
		lock:    lock,
		entries: make(map[string]*packEntry),
	}
}

// packStamp is written to meta.json after a successful extraction, so its
// presence witnesses a complete pack and its etag detects staleness.
type packStamp struct {
	ProblemID string    `json:"problem_id"`
	ETag      string    `json:"etag"`
	SHA256    string    `json:"sha256"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Dir returns the local directory holding the problem's extracted pack,
// fetching it if missing or stale.
func (c *PackCache) Dir(ctx context.Context, problemID string) (string, error) {
	if err := validateProblemID(problemID); err != nil {
		return "", err
	}
	if c.storage == nil {
		return "", appErr.New(appErr.CacheError).WithMessage("storage client is not initialized")
	}
	if c.cfg.CacheDir == "" {
		return "", appErr.New(appErr.CacheError).WithMessage("cache dir is not configured")
	}
	dir := filepath.Join(c.cfg.CacheDir, problemID)

	if c.hitEntry(problemID) {
		return dir, nil
	}

	stat, err := c.storage.StatObject(ctx, c.cfg.Bucket, c.objectKey(problemID))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.DataPackUnavailable, "stat pack for %q failed", problemID)
	}
	etag := trimETag(stat.ETag)

	if c.checkDisk(dir, etag) {
		c.addEntry(problemID, dir)
		return dir, nil
	}

	if err := c.fetchAndExtract(ctx, problemID, etag, dir); err != nil {
		return "", err
	}
	c.addEntry(problemID, dir)
	return dir, nil
}

func (c *PackCache) objectKey(problemID string) string {
	return path.Join(c.cfg.KeyPrefix, problemID+packSuffix)
}

func (c *PackCache) hitEntry(problemID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[problemID]
	if !ok {
		return false
	}
	if time.Now().After(entry.expiresAt) {
		c.removeEntryLocked(problemID)
		return false
	}
	entry.expiresAt = time.Now().Add(c.cfg.TTL)
	c.touchLocked(problemID)
	return true
}

func (c *PackCache) checkDisk(dir, etag string) bool {
	data, err := os.ReadFile(filepath.Join(dir, stampFileName))
	if err != nil {
		return false
	}
	var stamp packStamp
	if err := json.Unmarshal(data, &stamp); err != nil {
		return false
	}
	return trimETag(stamp.ETag) == etag
}

func (c *PackCache) fetchAndExtract(ctx context.Context, problemID, etag, dir string) error {
	if c.lock == nil {
		return appErr.New(appErr.CacheError).WithMessage("lock client is not initialized")
	}
	lockKey := lockKeyPrefix + problemID
	locked, err := c.lock.TryLock(ctx, lockKey, lockTTL)
	if err != nil {
		return appErr.Wrapf(err, appErr.LockFailed, "acquire pack lock failed")
	}
	if !locked {
		return c.waitForPack(ctx, etag, dir)
	}
	defer func() {
		_ = c.lock.Unlock(ctx, lockKey)
	}()

	// Another fetcher may have landed the pack before we took the lock.
	if c.checkDisk(dir, etag) {
		return nil
	}

	if err := os.RemoveAll(dir); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "cleanup pack dir failed")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "create pack dir failed")
	}

	tempPath := filepath.Join(dir, tempPackName)
	digest, err := c.downloadPack(ctx, problemID, tempPath)
	if err != nil {
		return err
	}
	if err := extractPack(tempPath, dir); err != nil {
		return err
	}
	_ = os.Remove(tempPath)

	stamp, _ := json.Marshal(packStamp{
		ProblemID: problemID,
		ETag:      etag,
		SHA256:    digest,
		FetchedAt: time.Now().UTC(),
	})
	if err := os.WriteFile(filepath.Join(dir, stampFileName), stamp, 0644); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "write pack stamp failed")
	}
	return nil
}

func (c *PackCache) waitForPack(ctx context.Context, etag, dir string) error {
	deadline := time.Now().Add(c.cfg.LockWait)
	for {
		if c.checkDisk(dir, etag) {
			return nil
		}
		if time.Now().After(deadline) {
			return appErr.New(appErr.Timeout).WithMessage("wait for pack fetch timeout")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// downloadPack streams the pack to dstPath while hashing it, then checks the
// digest against the .sha256 sidecar when one exists.
func (c *PackCache) downloadPack(ctx context.Context, problemID, dstPath string) (string, error) {
	key := c.objectKey(problemID)
	reader, err := c.storage.GetObject(ctx, c.cfg.Bucket, key)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.DataPackUnavailable, "download pack for %q failed", problemID)
	}
	defer reader.Close()

	file, err := os.Create(dstPath)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.CacheError, "create pack file failed")
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(file, io.TeeReader(reader, hasher)); err != nil {
		return "", appErr.Wrapf(err, appErr.DataPackUnavailable, "write pack file failed")
	}
	digest := hex.EncodeToString(hasher.Sum(nil))

	expected, err := c.expectedDigest(ctx, key)
	if err != nil {
		return "", err
	}
	if expected != "" && !strings.EqualFold(digest, expected) {
		return "", appErr.Newf(appErr.DataPackCorrupted, "pack digest mismatch for %q", problemID)
	}
	return digest, nil
}

// expectedDigest reads the sidecar checksum object. Packs without one are
// accepted unverified.
func (c *PackCache) expectedDigest(ctx context.Context, key string) (string, error) {
	reader, err := c.storage.GetObject(ctx, c.cfg.Bucket, key+".sha256")
	if err != nil {
		return "", nil
	}
	defer reader.Close()
	data, err := io.ReadAll(io.LimitReader(reader, 1024))
	if err != nil {
		return "", nil
	}
	// sha256sum format: the digest is the first field.
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", nil
	}
	digest := fields[0]
	if len(digest) != sha256.Size*2 {
		return "", appErr.Newf(appErr.DataPackCorrupted, "malformed checksum sidecar for %q", key)
	}
	return digest, nil
}

func extractPack(srcPath, dstDir string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "open pack failed")
	}
	defer file.Close()

	zstdReader, err := zstd.NewReader(file)
	if err != nil {
		return appErr.Wrapf(err, appErr.DataPackCorrupted, "create zstd reader failed")
	}
	defer zstdReader.Close()

	tr := tar.NewReader(zstdReader)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.DataPackCorrupted, "read tar entry failed")
		}
		if hdr.Name == "" {
			continue
		}
		cleanName := filepath.Clean(hdr.Name)
		if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
			return appErr.New(appErr.DataPackCorrupted).WithMessage("invalid tar entry path")
		}
		target := filepath.Join(dstDir, cleanName)
		if !strings.HasPrefix(target, filepath.Clean(dstDir)+string(filepath.Separator)) {
			return appErr.New(appErr.DataPackCorrupted).WithMessage("tar entry escape detected")
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create dir failed")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create parent dir failed")
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(hdr.Mode&0777))
			if err != nil {
				return appErr.Wrapf(err, appErr.CacheError, "create file failed")
			}
			if _, err := io.Copy(out, tr); err != nil {
				_ = out.Close()
				return appErr.Wrapf(err, appErr.DataPackCorrupted, "write file failed")
			}
			_ = out.Close()
		default:
			// links, devices and the rest have no business in a data pack
		}
	}
	return nil
}

func (c *PackCache) addEntry(problemID, dir string) {
	size := dirSize(dir)
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[problemID]; ok {
		c.totalSize -= existing.sizeBytes
	}
	c.entries[problemID] = &packEntry{
		path:      dir,
		sizeBytes: size,
		expiresAt: time.Now().Add(c.cfg.TTL),
	}
	c.totalSize += size
	c.touchLocked(problemID)
	c.evictLocked()
}

func (c *PackCache) touchLocked(problemID string) {
	for i, k := range c.lruKeys {
		if k == problemID {
			c.lruKeys = append(c.lruKeys[:i], c.lruKeys[i+1:]...)
			break
		}
	}
	c.lruKeys = append(c.lruKeys, problemID)
}

func (c *PackCache) evictLocked() {
	for {
		if len(c.entries) > c.cfg.MaxEntries {
			c.removeOldestLocked()
			continue
		}
		if c.cfg.MaxBytes > 0 && c.totalSize > c.cfg.MaxBytes {
			c.removeOldestLocked()
			continue
		}
		return
	}
}

func (c *PackCache) removeOldestLocked() {
	if len(c.lruKeys) == 0 {
		return
	}
	key := c.lruKeys[0]
	c.lruKeys = c.lruKeys[1:]
	c.removeEntryLocked(key)
}

// removeEntryLocked drops the entry and its directory. Any stale lruKeys
// reference is left behind; removeOldestLocked pops keys unconditionally so
// stale ones fall out on their own.
func (c *PackCache) removeEntryLocked(problemID string) {
	entry, ok := c.entries[problemID]
	if !ok {
		return
	}
	delete(c.entries, problemID)
	c.totalSize -= entry.sizeBytes
	_ = os.RemoveAll(entry.path)
}

func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

// Pack serves problems from object-storage archives through the cache.
type Pack struct {
	cache *PackCache
}

func NewPack(cache *PackCache) *Pack {
	return &Pack{cache: cache}
}

func (p *Pack) Problem(ctx context.Context, problemID string) (model.ProblemInfo, error) {
	dir, err := p.cache.Dir(ctx, problemID)
	if err != nil {
		return model.ProblemInfo{}, err
	}
	return problemInfo(dir, problemID)
}

func (p *Pack) Cases(ctx context.Context, problemID string, runType model.RunType) ([]model.TestCase, error) {
	dir, err := p.cache.Dir(ctx, problemID)
	if err != nil {
		return nil, err
	}
	return loadCases(dir, runType)
}

var _ Provider = (*Pack)(nil)
