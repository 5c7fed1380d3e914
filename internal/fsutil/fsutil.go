package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrStartNotFound is returned when a sequence start file is not among the listed images.
var ErrStartNotFound = errors.New("start image not found")

// imageExts are the formats every engine can decode.
var imageExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".bmp":  {},
	".tif":  {},
	".tiff": {},
}

var rawExts = map[string]struct{}{
	".dng": {},
	".nef": {},
	".cr2": {},
	".cr3": {},
	".arw": {},
	".rw2": {},
	".orf": {},
	".pef": {},
	".raf": {},
	".srw": {},
	".x3f": {},
}

// ListImages returns the stitchable image files under root in lexicographic
// path order. RAW files are not included.
func ListImages(root string) ([]string, error) {
	return listFiles(root, IsImageFile)
}

// ListRAW returns the RAW camera files under root in lexicographic path order.
func ListRAW(root string) ([]string, error) {
	return listFiles(root, IsRAWFile)
}

func listFiles(root string, keep func(path string) bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if keep(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// SelectSequence returns the contiguous run of count images beginning at the
// image whose base name is start. An empty start selects from the beginning
// and a count <= 0 selects through the end.
func SelectSequence(paths []string, start string, count int) ([]string, error) {
	from := 0
	if start != "" {
		from = -1
		for i, p := range paths {
			if filepath.Base(p) == start {
				from = i
				break
			}
		}
		if from < 0 {
			return nil, fmt.Errorf("%w: %s", ErrStartNotFound, start)
		}
	}
	to := len(paths)
	if count > 0 {
		to = min(from+count, len(paths))
	}
	return paths[from:to], nil
}

// IsRAWFile checks if a file is a RAW camera format.
func IsRAWFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, isRaw := rawExts[ext]
	return isRaw
}

// IsImageFile checks if a file is a stitchable image format.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, isImage := imageExts[ext]
	return isImage
}

// IsDir reports whether path names an existing directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
