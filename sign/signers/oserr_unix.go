//go:build unix

package signers

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/unix"
)

func isLockError(err error) bool {
	return errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, unix.EBUSY) ||
		errors.Is(err, unix.ETXTBSY) ||
		errors.Is(err, unix.EROFS) ||
		errors.Is(err, unix.EAGAIN)
}

func isCrossDevice(err error) bool {
	return errors.Is(err, unix.EXDEV)
}
