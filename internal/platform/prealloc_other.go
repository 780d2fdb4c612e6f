//go:build !linux

package platform

import "os"

func reserve(*os.File, int64) {}
