// Package source holds the error taxonomy shared by the remote client and
// the sync engine.
package source

import (
	"errors"
	"fmt"
)

// ConfigurationError indicates that a setting required to talk to the
// remote service is missing. The user should be sent to setup.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error (%s): %s", e.Field, e.Message)
}

// IsConfigurationError reports whether err (or any error in its chain) is a
// ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// NetworkError is a transport failure or a non-success HTTP status.
// StatusCode is zero for transport failures.
type NetworkError struct {
	Op         string
	StatusCode int
	Status     string
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Status, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": network error"
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetworkError reports whether err (or any error in its chain) is a
// NetworkError.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// RemoteRejection is a well-formed response whose status is not "success".
type RemoteRejection struct {
	Op      string
	Message string
}

func (e *RemoteRejection) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request rejected"
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// IsRemoteRejection reports whether err (or any error in its chain) is a
// RemoteRejection.
func IsRemoteRejection(err error) bool {
	var rejection *RemoteRejection
	return errors.As(err, &rejection)
}

// FileDownloadError is the failure to fetch or write a single file. It
// never aborts sibling downloads.
type FileDownloadError struct {
	FileName string
	Err      error
}

func (e *FileDownloadError) Error() string {
	return fmt.Sprintf("failed to download file %s: %v", e.FileName, e.Err)
}

func (e *FileDownloadError) Unwrap() error { return e.Err }

// IsFileDownloadError reports whether err (or any error in its chain) is a
// FileDownloadError.
func IsFileDownloadError(err error) bool {
	var dlErr *FileDownloadError
	return errors.As(err, &dlErr)
}

// UserMessage returns the text shown to the user for err. Remote rejections
// and network errors read the same way.
func UserMessage(err error) string {
	var (
		cfgErr    *ConfigurationError
		rejection *RemoteRejection
		netErr    *NetworkError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "Please complete setup first: " + cfgErr.Message
	case errors.As(err, &rejection):
		if rejection.Message != "" {
			return rejection.Message
		}
		return "The service rejected the request."
	case errors.As(err, &netErr):
		return "Could not reach the service. Check the log for details."
	default:
		return err.Error()
	}
}
