//go:build !unix

package signers

import (
	"errors"
	"io/fs"
	"os"
)

func isLockError(err error) bool {
	return errors.Is(err, fs.ErrPermission)
}

// Without errno values any failed rename is retried as a copy.
func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr)
}
