package vision

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// InitRuntime loads the ONNX Runtime shared library. An empty path picks the
// platform default name. The returned func tears the environment down.
func InitRuntime(libPath string) (func(), error) {
	if libPath == "" {
		libPath = defaultRuntimeLib()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("init onnx runtime %s: %w", libPath, err)
	}
	return func() { _ = ort.DestroyEnvironment() }, nil
}

func defaultRuntimeLib() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
