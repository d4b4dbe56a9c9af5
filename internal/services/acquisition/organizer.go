// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package acquisition turns completed downloads into organized library
// entries and owns the import retry accounting.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"

	"github.com/aronjanosch/readmeabook/internal/models"
)

// ErrLibraryRootNotConfigured means imports cannot run until the operator
// sets a library directory.
var ErrLibraryRootNotConfigured = errors.New("library root is not configured")

var (
	errPayloadMissing = errors.New("download payload not found on disk")
	errNoAudioFiles   = errors.New("payload contains no audio files")
	errBadMetadata    = errors.New("audiobook metadata cannot form a library path")
	errPathEscape     = errors.New("target path escapes the library root")
)

var audioExtensions = map[string]bool{
	".m4b":  true,
	".m4a":  true,
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".opus": true,
	".aac":  true,
	".wma":  true,
}

// Organizer copies download payloads into the Author/Title (Year) library
// layout. Sources are never deleted here: torrents keep seeding from their
// original location and usenet cleanup happens at the client.
type Organizer struct {
	fs   afero.Fs
	root string
}

func NewOrganizer(fsys afero.Fs, libraryRoot string) *Organizer {
	return &Organizer{fs: fsys, root: libraryRoot}
}

// OrganizeResult reports where an import landed.
type OrganizeResult struct {
	TargetDir   string
	Files       int
	TotalBytes  int64
	Fingerprint string
}

// Organize copies the payload's audio files under the library root and
// fingerprints their content. Reruns are idempotent: existing destination
// files are overwritten, which is what an import retry wants.
func (o *Organizer) Organize(ctx context.Context, book *models.Audiobook, contentPath string) (*OrganizeResult, error) {
	if strings.TrimSpace(o.root) == "" {
		return nil, ErrLibraryRootNotConfigured
	}
	if strings.TrimSpace(contentPath) == "" {
		return nil, fmt.Errorf("%w: client reported no content path", errPayloadMissing)
	}

	info, err := o.fs.Stat(contentPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", errPayloadMissing, contentPath)
		}
		return nil, fmt.Errorf("stat payload: %w", err)
	}

	files, err := o.collectAudioFiles(contentPath, info)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w under %s", errNoAudioFiles, contentPath)
	}

	targetDir, err := o.targetDir(book)
	if err != nil {
		return nil, err
	}

	if err := o.fs.MkdirAll(targetDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", targetDir, err)
	}

	digest := xxhash.New()
	var total int64
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := o.copyFile(f, targetDir, digest)
		if err != nil {
			return nil, err
		}
		total += n
	}

	return &OrganizeResult{
		TargetDir:   targetDir,
		Files:       len(files),
		TotalBytes:  total,
		Fingerprint: fmt.Sprintf("%016x", digest.Sum64()),
	}, nil
}

type audioFile struct {
	src string
	rel string
}

// collectAudioFiles gathers the payload's audio files sorted by relative
// path, so multi-file books copy and fingerprint in a stable order. Hidden
// entries are skipped.
func (o *Organizer) collectAudioFiles(contentPath string, info os.FileInfo) ([]audioFile, error) {
	if !info.IsDir() {
		if !isAudioFile(contentPath) {
			return nil, nil
		}
		return []audioFile{{src: contentPath, rel: filepath.Base(contentPath)}}, nil
	}

	var files []audioFile
	err := afero.Walk(o.fs, contentPath, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(fi.Name(), ".") && path != contentPath {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if fi.IsDir() || !isAudioFile(path) {
			return nil
		}
		rel, err := filepath.Rel(contentPath, path)
		if err != nil {
			return err
		}
		files = append(files, audioFile{src: path, rel: rel})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk payload: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].rel < files[j].rel })
	return files, nil
}

// targetDir builds Author/Title (Year) under the library root. Components
// are sanitized so release metadata cannot climb out of the root.
func (o *Organizer) targetDir(book *models.Audiobook) (string, error) {
	author := sanitizeComponent(book.Author)
	title := sanitizeComponent(book.Title)
	if author == "" || title == "" {
		return "", fmt.Errorf("%w: %q by %q", errBadMetadata, book.Title, book.Author)
	}
	if book.Year > 0 {
		title = fmt.Sprintf("%s (%d)", title, book.Year)
	}

	dir := filepath.Join(o.root, author, title)
	rootPrefix := filepath.Clean(o.root) + string(filepath.Separator)
	if !strings.HasPrefix(filepath.Clean(dir)+string(filepath.Separator), rootPrefix) {
		return "", fmt.Errorf("%w: %s", errPathEscape, dir)
	}
	return dir, nil
}

// copyFile copies one audio file into the target directory, preserving its
// path relative to the payload root, and verifies the byte count. Content
// streams through the shared digest as it copies.
func (o *Organizer) copyFile(f audioFile, targetDir string, digest *xxhash.Digest) (int64, error) {
	src, err := o.fs.Open(f.src)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", f.src, err)
	}
	defer src.Close()

	dstPath := filepath.Join(targetDir, f.rel)
	if dir := filepath.Dir(dstPath); dir != targetDir {
		if err := o.fs.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	dst, err := o.fs.Create(dstPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dstPath, err)
	}

	written, err := io.Copy(io.MultiWriter(dst, digest), src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("copy %s: %w", f.rel, err)
	}

	srcInfo, err := o.fs.Stat(f.src)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", f.src, err)
	}
	if written != srcInfo.Size() {
		return 0, fmt.Errorf("copy %s: wrote %d of %d bytes", f.rel, written, srcInfo.Size())
	}
	return written, nil
}

func isAudioFile(path string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(path))]
}

// sanitizeComponent makes a metadata string safe as a single path element.
// Separators and reserved characters become spaces, control characters are
// dropped, whitespace runs collapse, and leading or trailing dots go away.
func sanitizeComponent(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune(' ')
		case r < 0x20:
		default:
			b.WriteRune(r)
		}
	}
	cleaned := strings.Join(strings.Fields(b.String()), " ")
	return strings.Trim(cleaned, ". ")
}
