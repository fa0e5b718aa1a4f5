// Package providers - ONNX Runtime library location and environment setup.
package providers

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// LibraryPathEnv overrides the shared library location when set.
const LibraryPathEnv = "ONNXRUNTIME_LIB"

var (
	envOnce sync.Once
	envErr  error
)

// GetSharedLibPath returns the path to the shared library for the current platform.
//
// Returns:
//   - string: The path to the shared library.
func GetSharedLibPath() string {
	if p := os.Getenv(LibraryPathEnv); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.1.23.0.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}

// InitEnvironment points ONNX Runtime at its shared library and initialises the
// process-wide environment. Only the first call has an effect; later calls return
// the first result.
//
// Arguments:
//   - libPath: The shared library path. Empty selects GetSharedLibPath.
//
// Returns:
//   - error: An error if the library is missing or the environment fails to start.
func InitEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath == "" {
			libPath = GetSharedLibPath()
		}
		if _, err := os.Stat(libPath); os.IsNotExist(err) {
			envErr = fmt.Errorf("ONNX Runtime library not found at %s: %w", libPath, err)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			envErr = fmt.Errorf("error initializing ORT environment: %w", err)
		}
	})
	return envErr
}
