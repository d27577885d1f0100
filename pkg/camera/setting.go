package camera

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"newcamera/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

// classifyAcquireErr maps an open/configure error onto ErrPermissionDenied
// or ErrDeviceAcquisition, keeping the original error in the chain.
func classifyAcquireErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceAcquisition) {
		return err
	}
	if isPermissionErr(err) {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}

	return fmt.Errorf("%w: %w", ErrDeviceAcquisition, err)
}

func isPermissionErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "permission denied") || strings.Contains(s, "operation not permitted")
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EBUSY) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "busy") || strings.Contains(s, "ebusy")
}
