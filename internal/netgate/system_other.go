//go:build !linux

package netgate

import "context"

// Status implements StatusProvider.
func (p *SystemProvider) Status(ctx context.Context) (Status, error) {
	return Status{}, ErrUnsupported
}
