package imageio

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// bidsImageExtensions are the file suffixes accepted as volumetric images
// when scanning a BIDS tree.
var bidsImageExtensions = []string{".nii", ".nii.gz"}

// BIDSQuery selects one image inside a BIDS dataset tree. Empty fields
// match anything; Suffix defaults to "asl".
type BIDSQuery struct {
	Subject string
	Session string
	Suffix  string
}

// BIDSPath builds the canonical path of an ASL image inside a BIDS tree:
// root/sub-<subject>[/ses-<session>]/asl/sub-<subject>[_ses-<session>]_<suffix><ext>.
// It only constructs the path; writers create the parent directories.
func BIDSPath(root, subject, session, suffix, extension string) (string, error) {
	if subject == "" {
		return "", errors.New("subject must be set")
	}
	if suffix == "" {
		suffix = "asl"
	}
	if extension == "" {
		extension = ".nii.gz"
	}

	dir := filepath.Join(root, "sub-"+subject)
	name := "sub-" + subject
	if session != "" {
		dir = filepath.Join(dir, "ses-"+session)
		name += "_ses-" + session
	}
	dir = filepath.Join(dir, "asl")
	return filepath.Join(dir, fmt.Sprintf("%s_%s%s", name, suffix, extension)), nil
}

// ResolveImagePath turns a user-supplied input path into a loadable image
// file: a directory is treated as a BIDS dataset root and resolved through
// FindBIDSImage, any other path is returned unchanged for the NIfTI loader.
func ResolveImagePath(path string, q BIDSQuery) (string, error) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return path, nil
	}
	return FindBIDSImage(path, q)
}

// FindBIDSImage walks a BIDS dataset tree and returns the first image file
// matching the query. With an all-empty query any file whose name carries
// an "_asl" suffix matches.
func FindBIDSImage(root string, q BIDSQuery) (string, error) {
	suffix := q.Suffix
	if suffix == "" {
		suffix = "asl"
	}

	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || found != "" {
			return err
		}
		name := d.Name()
		if !hasImageExtension(name) {
			return nil
		}
		if !strings.Contains(name, "_"+suffix) {
			return nil
		}
		if q.Subject != "" && !strings.Contains(name, "sub-"+q.Subject) {
			return nil
		}
		if q.Session != "" && !strings.Contains(name, "ses-"+q.Session) {
			return nil
		}
		found = path
		return fs.SkipAll
	})
	if err != nil {
		return "", errors.Wrapf(err, "walking BIDS tree %s", root)
	}
	if found == "" {
		return "", errors.Errorf("no image matching subject %q session %q suffix %q under %s",
			q.Subject, q.Session, suffix, root)
	}
	return found, nil
}

func hasImageExtension(name string) bool {
	for _, ext := range bidsImageExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
