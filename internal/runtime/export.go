package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/containerd/containerd/v2/core/containers"
	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/core/images/archive"
	"github.com/containerd/containerd/v2/pkg/rootfs"
	"github.com/containerd/platforms"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Filename of the OCI archive produced by Export.
const exportFilename = "image.tar"

// Image metadata applied during export.
type ExportOptions struct {
	Entrypoint   []string // Entrypoint set on the image config. Empty keeps the base image's.
	ExposedPorts []string // Exposed-port entries (e.g., "1847/tcp"). Metadata only.
}

// Commits the container's filesystem changes and exports the result as an
// OCI archive.
//
// The diff between the container's snapshot and its parent is stored as a
// new layer. Entrypoint and exposed ports from opts are set on the image
// config. The resulting image is written to output/image.tar through a
// temporary file and an atomic rename, so a failed or cancelled export
// never leaves a partial archive behind. The stored image record in
// containerd is never modified. The mutated manifest, config, and index
// are written to the content store as ephemeral blobs and referenced only
// during the export. A content lease protects these blobs from garbage
// collection until the export completes.
func (c *Container) Export(ctx context.Context, output string, opts ExportOptions) error {
	loaded, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return wrapRuntime(err)
	}

	info, err := loaded.Info(ctx)
	if err != nil {
		return wrapRuntime(err)
	}

	layer, diffID, err := c.snapshotDiff(ctx, info)
	if err != nil {
		return wrapRuntime(err)
	}

	// The ephemeral blobs written by buildExportTarget are unreferenced
	// by any image record; a content lease keeps containerd's GC from
	// collecting them before the archive is written.
	ctx, done, err := c.client.WithLease(ctx)
	if err != nil {
		return wrapRuntime(err)
	}
	defer done(context.Background())

	target, err := c.buildExportTarget(ctx, info.Image, func(manifest *ocispec.Manifest, config *ocispec.Image) {
		applyExportMeta(manifest, config, layer, diffID, opts)
	})
	if err != nil {
		return wrapRuntime(err)
	}

	if err := c.exportImage(ctx, target, info.Image, output); err != nil {
		return wrapRuntime(err)
	}

	slog.Info("image exported", "path", filepath.Join(output, exportFilename))
	return nil
}

// Appends the committed layer and applies export metadata to the image
// config.
//
// The entrypoint replaces the base image's and clears any inherited Cmd so
// the binary runs with no implicit arguments. Exposed ports replace the base
// image's declarations.
func applyExportMeta(manifest *ocispec.Manifest, config *ocispec.Image, layer ocispec.Descriptor, diffID digest.Digest, opts ExportOptions) {
	manifest.Layers = append(manifest.Layers, layer)
	config.RootFS.DiffIDs = append(config.RootFS.DiffIDs, diffID)

	if len(opts.Entrypoint) > 0 {
		config.Config.Entrypoint = opts.Entrypoint
		config.Config.Cmd = nil
	}
	if len(opts.ExposedPorts) > 0 {
		ports := make(map[string]struct{}, len(opts.ExposedPorts))
		for _, p := range opts.ExposedPorts {
			ports[p] = struct{}{}
		}
		config.Config.ExposedPorts = ports
	}
}

// Commits the container's filesystem changes as a layer: the diff between
// its snapshot and the base image's top layer, plus the diff ID the image
// config needs. The stored image is left untouched.
func (c *Container) snapshotDiff(ctx context.Context, info containers.Container) (ocispec.Descriptor, digest.Digest, error) {
	layer, err := rootfs.CreateDiff(ctx,
		info.SnapshotKey,
		c.client.SnapshotService(info.Snapshotter),
		c.client.DiffService(),
	)
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}

	diffID, err := images.GetDiffID(ctx, c.client.ContentStore(), layer)
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}

	return layer, diffID, nil
}

// Writes the image to an OCI tar archive named image.tar in the output
// directory.
//
// The target descriptor is exported directly via [archive.WithManifest]
// rather than looking up the image by name, so the caller can export
// ephemeral content (a mutated manifest with an extra layer) without
// modifying the stored image record. The image name is attached as the OCI
// reference annotation on the archive entry. When the target is a
// multi-platform index, only the manifest matching the container's platform
// is included.
func (c *Container) exportImage(ctx context.Context, target ocispec.Descriptor, imageName, output string) error {
	p, err := platforms.Parse(c.platform)
	if err != nil {
		return err
	}

	return writeAtomically(output, exportFilename, func(w io.Writer) error {
		return c.client.Export(ctx, w,
			archive.WithManifest(target, imageName),
			archive.WithPlatform(platforms.Only(p)),
		)
	})
}

// Writes dir/name through a temporary file in the same directory, renaming
// it into place only after write succeeds, so consumers never observe a
// partial file. A failed or cancelled write leaves nothing behind.
func writeAtomically(dir, name string, write func(io.Writer) error) error {
	f, err := os.CreateTemp(dir, name+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	err = write(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}

	return os.Rename(tmp, filepath.Join(dir, name))
}

// Produces the descriptor to export by applying mutate to the image's
// manifest and config.
//
// The updated manifest and config (and, for index-rooted images, a fresh
// single-entry index) land in the content store as ephemeral blobs. The
// image record itself never changes, so the next build starts from the
// same clean base.
func (c *Container) buildExportTarget(ctx context.Context, imageName string, mutate func(*ocispec.Manifest, *ocispec.Image)) (ocispec.Descriptor, error) {
	is := c.client.ImageService()

	img, err := is.Get(ctx, imageName)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	target, index, manifestIdx, err := c.resolveManifestDescriptor(ctx, img.Target, imageName)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	newManifestDesc, err := c.mutateManifest(ctx, target, imageName, mutate)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	return c.buildImageTarget(ctx, img.Target, index, manifestIdx, newManifestDesc, imageName)
}

// Narrows the image root descriptor to the manifest for the container's
// platform.
//
// An index root is read and walked for a platform match; a manifest root
// passes straight through. Returns the manifest descriptor, the index (nil
// when the root already was a manifest), and the manifest's position in the
// index.
//
// Index entries are not guaranteed to carry platform metadata (Docker Hub
// omits it on some images). Entries without one are probed by reading the
// image config, the same fallback containerd's images.Manifest applies.
func (c *Container) resolveManifestDescriptor(ctx context.Context, root ocispec.Descriptor, imageName string) (ocispec.Descriptor, *ocispec.Index, int, error) {
	if !images.IsIndexType(root.MediaType) {
		return root, nil, 0, nil
	}

	idx, err := c.readIndex(ctx, root)
	if err != nil {
		return ocispec.Descriptor{}, nil, 0, err
	}

	p, err := platforms.Parse(c.platform)
	if err != nil {
		return ocispec.Descriptor{}, nil, 0, err
	}

	i, ok := c.matchManifest(ctx, idx, platforms.OnlyStrict(p))
	if ok {
		return idx.Manifests[i], &idx, i, nil
	}

	if len(idx.Manifests) == 0 {
		return ocispec.Descriptor{}, nil, 0, fmt.Errorf("%w: %s", ErrEmptyIndex, imageName)
	}
	return idx.Manifests[0], &idx, 0, nil
}

// Finds the index entry matching the given platform.
//
// Entries carrying an explicit platform are checked first; entries without
// one are then probed via their image config. Returns the entry position
// and whether a match was found.
func (c *Container) matchManifest(ctx context.Context, idx ocispec.Index, matcher platforms.MatchComparer) (int, bool) {
	for i, m := range idx.Manifests {
		if m.Platform != nil && matcher.Match(*m.Platform) {
			return i, true
		}
	}
	for i, m := range idx.Manifests {
		if m.Platform != nil || !images.IsManifestType(m.MediaType) {
			continue
		}
		if p, ok := c.configPlatform(ctx, m); ok && matcher.Match(p) {
			return i, true
		}
	}
	return 0, false
}

// Extracts the platform an image config declares, following a manifest
// descriptor. Returns false when the blobs cannot be read.
func (c *Container) configPlatform(ctx context.Context, desc ocispec.Descriptor) (ocispec.Platform, bool) {
	manifest, err := c.readManifest(ctx, desc)
	if err != nil {
		return ocispec.Platform{}, false
	}
	config, err := c.readConfig(ctx, manifest.Config)
	if err != nil {
		return ocispec.Platform{}, false
	}
	return ocispec.Platform{
		OS:           config.OS,
		Architecture: config.Architecture,
		Variant:      config.Variant,
	}, true
}

// Applies mutate to a copy of the manifest and its config, writing the
// updated blobs to the content store and returning the new manifest
// descriptor.
func (c *Container) mutateManifest(ctx context.Context, target ocispec.Descriptor, imageName string, mutate func(*ocispec.Manifest, *ocispec.Image)) (ocispec.Descriptor, error) {
	manifest, err := c.readManifest(ctx, target)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	config, err := c.readConfig(ctx, manifest.Config)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	mutate(&manifest, &config)

	newConfigDesc, err := c.writeBlob(ctx, manifest.Config.MediaType, config, imageName+"-config")
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	manifest.Config = newConfigDesc

	return c.writeBlob(ctx, target.MediaType, manifest, imageName+"-manifest", content.WithLabels(manifestGCLabels(manifest)))
}

// Produces the final export descriptor after the manifest update.
//
// Images resolved through an index get a new single-entry index holding
// only the updated manifest. Other platforms' entries are dropped; their
// layer blobs were never pulled into the content store, so keeping the
// entries would produce an archive with dangling references.
func (c *Container) buildImageTarget(ctx context.Context, root ocispec.Descriptor, index *ocispec.Index, manifestIdx int, newManifest ocispec.Descriptor, imageName string) (ocispec.Descriptor, error) {
	if index == nil {
		return newManifest, nil
	}

	index.Manifests = []ocispec.Descriptor{newManifest}
	return c.writeBlob(ctx, root.MediaType, index, imageName+"-index", content.WithLabels(indexGCLabels(*index)))
}

// Reads an OCI manifest blob from the content store.
func (c *Container) readManifest(ctx context.Context, desc ocispec.Descriptor) (ocispec.Manifest, error) {
	b, err := content.ReadBlob(ctx, c.client.ContentStore(), desc)
	if err != nil {
		return ocispec.Manifest{}, err
	}
	var m ocispec.Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return ocispec.Manifest{}, err
	}
	return m, nil
}

// Reads an OCI image index blob from the content store.
func (c *Container) readIndex(ctx context.Context, desc ocispec.Descriptor) (ocispec.Index, error) {
	b, err := content.ReadBlob(ctx, c.client.ContentStore(), desc)
	if err != nil {
		return ocispec.Index{}, err
	}
	var idx ocispec.Index
	if err := json.Unmarshal(b, &idx); err != nil {
		return ocispec.Index{}, err
	}
	return idx, nil
}

// Reads an OCI image config blob from the content store.
func (c *Container) readConfig(ctx context.Context, desc ocispec.Descriptor) (ocispec.Image, error) {
	b, err := content.ReadBlob(ctx, c.client.ContentStore(), desc)
	if err != nil {
		return ocispec.Image{}, err
	}
	var img ocispec.Image
	if err := json.Unmarshal(b, &img); err != nil {
		return ocispec.Image{}, err
	}
	return img, nil
}

// Marshals v and stores it as a content blob, returning its descriptor.
func (c *Container) writeBlob(ctx context.Context, mediaType string, v any, ref string, opts ...content.Opt) (ocispec.Descriptor, error) {
	cs := c.client.ContentStore()
	b, err := json.Marshal(v)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(b),
		Size:      int64(len(b)),
	}
	if err := content.WriteBlob(ctx, cs, ref, bytes.NewReader(b), desc, opts...); err != nil {
		return ocispec.Descriptor{}, err
	}
	return desc, nil
}

// Builds the GC reference labels linking a manifest blob to its config and
// layer blobs, so containerd's garbage collector can see them as reachable.
func manifestGCLabels(m ocispec.Manifest) map[string]string {
	labels := map[string]string{
		"containerd.io/gc.ref.content.config": m.Config.Digest.String(),
	}
	for i, layer := range m.Layers {
		key := fmt.Sprintf("containerd.io/gc.ref.content.l.%d", i)
		labels[key] = layer.Digest.String()
	}
	return labels
}

// Builds the GC reference labels linking an index blob to its manifests.
func indexGCLabels(idx ocispec.Index) map[string]string {
	labels := make(map[string]string, len(idx.Manifests))
	for i, m := range idx.Manifests {
		key := fmt.Sprintf("containerd.io/gc.ref.content.m.%d", i)
		labels[key] = m.Digest.String()
	}
	return labels
}
