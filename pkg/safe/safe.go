package safe

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/NirvanaNimbusa/grpc-server-go/infra/gslog"
)

// Run executes fn and swallows any panic after logging it.
func Run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			gslog.Error("panic", zap.Any("recover", r), zap.String("component", "safe"))
		}
	}()

	fn()
}

// Call executes fn and converts a panic into the returned error, so the
// caller can fold it into its normal error path.
func Call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			gslog.Error("panic", zap.Any("recover", r), zap.String("component", "safe"))
			err = fmt.Errorf("recovered panic: %v", r)
		}
	}()

	return fn()
}
