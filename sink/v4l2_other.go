//go:build !(linux && (amd64 || arm64 || riscv64 || ppc64le || loong64))

package sink

import (
	"fmt"
	"runtime"
)

func OpenV4L2(path string) (Device, error) {
	return nil, fmt.Errorf("v4l2 output %s is not supported on %s/%s", path, runtime.GOOS, runtime.GOARCH)
}
