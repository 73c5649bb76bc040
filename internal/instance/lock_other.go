//go:build !unix

package instance

import "os"

func tryLock(*os.File) (bool, error) {
	return false, ErrNotSupported
}

func unlock(*os.File) error {
	return ErrNotSupported
}
