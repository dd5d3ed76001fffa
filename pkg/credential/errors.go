package credential

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/moweilong/widgetauth/internal/pkg/errno"
	"github.com/moweilong/widgetauth/pkg/errorsx"
)

// AcquisitionError reports a failed mint or refresh. A transport failure has
// Status 0 and a non-nil Err; otherwise Status and Payload describe the answer.
type AcquisitionError struct {
	Op      Op
	Status  int
	Payload map[string]any
	Err     error
}

func (e *AcquisitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("credential %s failed: status %d", e.Op, e.Status)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, errno.ErrCredentialAcquisition) match.
func (e *AcquisitionError) Is(target error) bool {
	return errors.Is(errno.ErrCredentialAcquisition, target)
}

// As converts to the catalogue error so HTTP layers render it uniformly.
func (e *AcquisitionError) As(target any) bool {
	x, ok := target.(**errorsx.ErrorX)
	if !ok {
		return false
	}
	*x = errno.ErrCredentialAcquisition.KV("op", string(e.Op), "status", strconv.Itoa(e.Status))
	return true
}
