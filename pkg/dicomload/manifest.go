package dicomload

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"ct2egsphant/internal/models"
)

const (
	// DefaultManifestName is the file listing the converted images
	DefaultManifestName = "File_names"

	// DefaultManifestPrefix names the stripped copies listed in the manifest
	DefaultManifestPrefix = "MC_"
)

// ManifestEntry returns the manifest line for img in a manifest stored in
// dir. With a prefix the line names the stripped copy written by
// StripSeries; without one it is the path of the source file relative to
// dir. Images built in memory are listed by file name.
func ManifestEntry(dir, prefix string, img *models.CTImage) string {
	switch {
	case img.Path == "":
		return img.Filename
	case prefix != "":
		return prefix + img.Filename
	}
	if rel, err := relativePath(dir, img.Path); err == nil {
		return rel
	}
	return img.Path
}

func relativePath(dir, path string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// WriteManifest writes one ManifestEntry per image, in ascending z. The
// file is replaced atomically.
func WriteManifest(path, prefix string, images []*models.CTImage) (err error) {
	ordered := make([]*models.CTImage, len(images))
	copy(ordered, images)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position.Z < ordered[j].Position.Z
	})
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating manifest: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	for _, img := range ordered {
		if _, err = fmt.Fprintln(w, ManifestEntry(dir, prefix, img)); err != nil {
			return fmt.Errorf("writing manifest: %w", err)
		}
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing manifest: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming manifest: %w", err)
	}
	return nil
}
