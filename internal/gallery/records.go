package gallery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/lucasew/gallerycache/internal/errutil"
	"github.com/lucasew/gallerycache/internal/kvstore"
	"github.com/lucasew/gallerycache/internal/record"
)

const (
	PhotoPrefix      = "photo/"
	ThumbPrefix      = "thumb/"
	FacesPrefix      = "faces/"
	BackgroundPrefix = "background/"
	FolderPrefix     = "folder/"
	PersonPrefix     = "person/"

	retiredKey = "meta/retired"
)

// BlobPrefixes are the namespaces keyed by photo ID besides the cache.
var BlobPrefixes = []string{ThumbPrefix, FacesPrefix, BackgroundPrefix}

// Records is the metadata catalog persisted in a kvstore.Store.
//
// Every value is a record envelope. Values that fail to decode are logged
// and treated as absent.
type Records struct {
	store kvstore.Store

	// mu serializes read-modify-write of folders, persons and the ledger.
	mu sync.Mutex
}

func NewRecords(store kvstore.Store) *Records {
	return &Records{store: store}
}

func (r *Records) put(ctx context.Context, key, kind string, v any) error {
	raw, err := record.Encode(kind, v)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// get decodes key into v. A missing or undecodable value reports false.
func (r *Records) get(ctx context.Context, key, kind string, v any) (bool, error) {
	raw, found, err := r.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !found {
		return false, nil
	}
	if err := record.Decode(raw, kind, v); err != nil {
		errutil.LogMsg(err, "Ignoring undecodable record", "key", key)
		return false, nil
	}
	return true, nil
}

// remove deletes key, returning the bytes it took.
func (r *Records) remove(ctx context.Context, key string) (int64, error) {
	raw, found, err := r.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if !found {
		return 0, nil
	}
	if err := r.store.Remove(ctx, key); err != nil {
		return 0, fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return kvstore.EntrySize(key, raw), nil
}

func list[T any](ctx context.Context, r *Records, prefix, kind string) ([]*T, error) {
	keys, err := kvstore.KeysWithPrefix(ctx, r.store, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	out := make([]*T, 0, len(keys))
	for _, key := range keys {
		v := new(T)
		ok, err := r.get(ctx, key, kind, v)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *Records) PutPhoto(ctx context.Context, p *PhotoRecord) error {
	return r.put(ctx, PhotoPrefix+p.ID, "photo", p)
}

func (r *Records) Photo(ctx context.Context, id string) (*PhotoRecord, bool, error) {
	var p PhotoRecord
	ok, err := r.get(ctx, PhotoPrefix+id, "photo", &p)
	if !ok || err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

// Photos returns every photo record, oldest first.
func (r *Records) Photos(ctx context.Context) ([]*PhotoRecord, error) {
	photos, err := list[PhotoRecord](ctx, r, PhotoPrefix, "photo")
	if err != nil {
		return nil, err
	}
	sort.Slice(photos, func(i, j int) bool {
		if !photos[i].CreatedAt.Equal(photos[j].CreatedAt) {
			return photos[i].CreatedAt.Before(photos[j].CreatedAt)
		}
		return photos[i].ID < photos[j].ID
	})
	return photos, nil
}

// PhotoIDs implements eviction.Catalog.
func (r *Records) PhotoIDs(ctx context.Context) ([]string, error) {
	photos, err := r.Photos(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(photos))
	for i, p := range photos {
		ids[i] = p.ID
	}
	return ids, nil
}

// Demote implements eviction.Catalog. Missing photos are ignored.
func (r *Records) Demote(ctx context.Context, id string) error {
	p, ok, err := r.Photo(ctx, id)
	if err != nil || !ok {
		return err
	}
	if p.Variant == ThumbnailOnly {
		return nil
	}
	p.Variant = ThumbnailOnly
	p.Tags = mergeTags(p.Tags, []string{"storage-limited"})
	return r.PutPhoto(ctx, p)
}

// DropPhoto implements eviction.Catalog. The photo's size moves to the
// retired ledger so the virtual quota does not shrink. Blobs go first so the
// ledger write has room.
func (r *Records) DropPhoto(ctx context.Context, id string) (int64, error) {
	p, ok, err := r.Photo(ctx, id)
	if err != nil {
		return 0, err
	}
	freed, err := r.removeKeys(ctx, blobKeys(id))
	if err != nil {
		return freed, err
	}
	if ok {
		if err := r.retire(ctx, p.FileSize); err != nil {
			return freed, err
		}
	}
	n, err := r.DeletePhoto(ctx, id)
	return freed + n, err
}

// DeletePhoto removes the photo record, its blobs and its folder and person
// memberships. The cache entry is owned by the eviction manager and is not
// touched. It returns the bytes freed.
func (r *Records) DeletePhoto(ctx context.Context, id string) (int64, error) {
	freed, err := r.removeKeys(ctx, append([]string{PhotoPrefix + id}, blobKeys(id)...))
	return freed, errors.Join(err, r.unlink(ctx, id))
}

func blobKeys(id string) []string {
	keys := make([]string, len(BlobPrefixes))
	for i, p := range BlobPrefixes {
		keys[i] = p + id
	}
	return keys
}

func (r *Records) removeKeys(ctx context.Context, keys []string) (int64, error) {
	var freed int64
	var errs []error
	for _, key := range keys {
		n, err := r.remove(ctx, key)
		freed += n
		errs = append(errs, err)
	}
	return freed, errors.Join(errs...)
}

func (r *Records) unlink(ctx context.Context, photoID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	folders, err := list[Folder](ctx, r, FolderPrefix, "folder")
	errs = append(errs, err)
	for _, f := range folders {
		if i := slices.Index(f.Photos, photoID); i >= 0 {
			f.Photos = slices.Delete(f.Photos, i, i+1)
			errs = append(errs, r.PutFolder(ctx, f))
		}
	}

	persons, err := list[Person](ctx, r, PersonPrefix, "person")
	errs = append(errs, err)
	for _, p := range persons {
		if i := slices.Index(p.Photos, photoID); i >= 0 {
			p.Photos = slices.Delete(p.Photos, i, i+1)
			errs = append(errs, r.PutPerson(ctx, p))
		}
	}
	return errors.Join(errs...)
}

func (r *Records) PutThumbnail(ctx context.Context, id string, data []byte) error {
	return r.put(ctx, ThumbPrefix+id, "thumb", data)
}

func (r *Records) Thumbnail(ctx context.Context, id string) ([]byte, bool, error) {
	var data []byte
	ok, err := r.get(ctx, ThumbPrefix+id, "thumb", &data)
	return data, ok, err
}

func (r *Records) PutFaces(ctx context.Context, photoID string, faces []FaceDetection) error {
	return r.put(ctx, FacesPrefix+photoID, "faces", faces)
}

func (r *Records) Faces(ctx context.Context, photoID string) ([]FaceDetection, error) {
	var faces []FaceDetection
	_, err := r.get(ctx, FacesPrefix+photoID, "faces", &faces)
	return faces, err
}

func (r *Records) PutFolder(ctx context.Context, f *Folder) error {
	return r.put(ctx, FolderPrefix+f.ID, "folder", f)
}

func (r *Records) Folder(ctx context.Context, id string) (*Folder, bool, error) {
	var f Folder
	ok, err := r.get(ctx, FolderPrefix+id, "folder", &f)
	if !ok || err != nil {
		return nil, false, err
	}
	return &f, true, nil
}

// Folders returns every folder, oldest first.
func (r *Records) Folders(ctx context.Context) ([]*Folder, error) {
	folders, err := list[Folder](ctx, r, FolderPrefix, "folder")
	if err != nil {
		return nil, err
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].CreatedAt.Before(folders[j].CreatedAt) })
	return folders, nil
}

// AddToFolder appends photoID to the folder once.
func (r *Records) AddToFolder(ctx context.Context, folderID, photoID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok, err := r.Folder(ctx, folderID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrFolderNotFound, folderID)
	}
	if slices.Contains(f.Photos, photoID) {
		return nil
	}
	f.Photos = append(f.Photos, photoID)
	return r.PutFolder(ctx, f)
}

func (r *Records) PutPerson(ctx context.Context, p *Person) error {
	return r.put(ctx, PersonPrefix+p.ID, "person", p)
}

func (r *Records) Person(ctx context.Context, id string) (*Person, bool, error) {
	var p Person
	ok, err := r.get(ctx, PersonPrefix+id, "person", &p)
	if !ok || err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

// Persons returns every person, oldest first.
func (r *Records) Persons(ctx context.Context) ([]*Person, error) {
	persons, err := list[Person](ctx, r, PersonPrefix, "person")
	if err != nil {
		return nil, err
	}
	sort.Slice(persons, func(i, j int) bool {
		if !persons[i].CreatedAt.Equal(persons[j].CreatedAt) {
			return persons[i].CreatedAt.Before(persons[j].CreatedAt)
		}
		return persons[i].ID < persons[j].ID
	})
	return persons, nil
}

// UpdatePersons runs fn over the current persons under the catalog lock and
// persists the ones it returns.
func (r *Records) UpdatePersons(ctx context.Context, fn func([]*Person) []*Person) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	persons, err := r.Persons(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range fn(persons) {
		errs = append(errs, r.PutPerson(ctx, p))
	}
	return errors.Join(errs...)
}

// Retired is the total size of photos dropped by cleanup.
func (r *Records) Retired(ctx context.Context) (int64, error) {
	var n int64
	_, err := r.get(ctx, retiredKey, "retired", &n)
	return n, err
}

func (r *Records) retire(ctx context.Context, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.Retired(ctx)
	if err != nil {
		return err
	}
	return r.put(ctx, retiredKey, "retired", n+size)
}

// VirtualUsage implements budget.VirtualSource: the sum of original file
// sizes plus the retired ledger.
func (r *Records) VirtualUsage(ctx context.Context) (int64, error) {
	photos, err := r.Photos(ctx)
	if err != nil {
		return 0, err
	}
	total, err := r.Retired(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range photos {
		total += p.FileSize
	}
	return total, nil
}

func mergeTags(a, b []string) []string {
	out := append([]string{}, a...)
	out = append(out, b...)
	slices.Sort(out)
	return slices.Compact(out)
}
