//go:build !dlib

package face

import "errors"

func newDlibDetector(string) (Detector, error) {
	return nil, errors.New("dlib backend not compiled in (rebuild with -tags dlib)")
}
