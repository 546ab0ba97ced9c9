//go:build !uldaq
// +build !uldaq

package mccdaq

// Device is a board opened through libuldaq.  This build has no driver support,
// build with -tags uldaq to enable it.
type Device struct{ Mock }

// Open always fails with ErrNoDriver in builds without the uldaq tag
func Open(iface InterfaceType, code string) (*Device, error) {
	return nil, ErrNoDriver
}
