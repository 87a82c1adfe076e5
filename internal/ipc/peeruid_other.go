//go:build !linux && !darwin

package ipc

import "errors"

func socketPeerUID(int) (uint32, error) {
	return 0, errors.New("peer credentials not supported on this platform")
}
