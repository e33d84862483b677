// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Archive writes the contents of dir to dest as a zstd-compressed
// tarball with entry names relative to dir. `warren vm prune
// --archive` uses this to preserve a VM's state directory (agent
// credentials, audit log) before removal. A failed archive removes
// the partial output.
func Archive(dir, dest string) (err error) {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", dest, err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(dest)
		}
	}()

	compressor, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create archive %s: %w", dest, err)
	}
	archive := tar.NewWriter(compressor)

	if err = addTree(archive, dir); err != nil {
		return fmt.Errorf("archive %s: %w", dir, err)
	}
	if err = archive.Close(); err != nil {
		return fmt.Errorf("finish archive %s: %w", dest, err)
	}
	if err = compressor.Close(); err != nil {
		return fmt.Errorf("finish archive %s: %w", dest, err)
	}
	return out.Close()
}

func addTree(archive *tar.Writer, dir string) error {
	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		relative, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if relative == "." {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}
		var link string
		if entry.Type()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relative)
		if err := archive.WriteHeader(header); err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(archive, file)
		file.Close()
		return err
	})
}
