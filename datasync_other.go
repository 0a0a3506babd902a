//go:build !linux
// +build !linux

package relf

import "os"

func datasync(f *os.File) error {
	return f.Sync()
}
