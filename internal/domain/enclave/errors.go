package enclave

import "errors"

// Failure classes. Every error returned by a provider or the workflow wraps
// exactly one of them.
var (
	// ErrArgument reports malformed or contradictory command-line input.
	ErrArgument = errors.New("argument error")
	// ErrDecoding reports invalid base64 or an undecodable key blob.
	ErrDecoding = errors.New("decoding error")
	// ErrHardware reports a provider failure: no device, a policy the device
	// refuses, or a key that cannot be re-materialised on this device.
	ErrHardware = errors.New("hardware error")
	// ErrAuthentication reports that user authentication was denied,
	// cancelled or timed out.
	ErrAuthentication = errors.New("authentication error")
)

// Classify returns the failure class wrapped by err, or nil if err is not classified.
func Classify(err error) error {
	for _, class := range []error{ErrArgument, ErrDecoding, ErrAuthentication, ErrHardware} {
		if errors.Is(err, class) {
			return class
		}
	}
	return nil
}
