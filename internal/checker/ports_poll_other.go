//go:build !linux

package checker

import "errors"

func newPollBackend() (PortBackend, error) {
	return nil, errors.New("poll backend is only available on linux")
}
