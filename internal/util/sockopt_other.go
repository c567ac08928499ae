//go:build !unix

package util

import (
	"errors"
	"syscall"
)

// SetCloexec is unsupported off Unix; inherited descriptors are not used there.
func SetCloexec(fd uintptr, enabled bool) error {
	return errors.New("close-on-exec is not supported on this platform")
}

func isCloexecSet(fd uintptr) (bool, error) {
	return false, errors.New("close-on-exec is not supported on this platform")
}

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
