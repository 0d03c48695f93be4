package types

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors for locally detected failures. Network-level
// failures wrap the transport error instead.
var (
	// ErrNoMirrors means no candidate mirror resolved online.
	ErrNoMirrors = errors.New("no mirrors available")
	// ErrProtectedPackage rejects uninstalling a core system package.
	// It is raised locally and never reaches the network.
	ErrProtectedPackage = errors.New("cannot uninstall core system package")
	// ErrManifestParse aborts an install whose manifest does not parse.
	ErrManifestParse = errors.New("manifest parse failed")
	// ErrCapabilityDenied closes a pending install without state change.
	ErrCapabilityDenied = errors.New("capability approval denied")
	// ErrNotFound reports a missing package, listing, or download.
	ErrNotFound = errors.New("not found")
)

// DownloadErrorKind enumerates the structured transfer failures
// reported over the push channel and in the update ledger.
type DownloadErrorKind string

const (
	DownloadHashMismatch      DownloadErrorKind = "HashMismatch"
	DownloadTimeout           DownloadErrorKind = "Timeout"
	DownloadOffline           DownloadErrorKind = "Offline"
	DownloadNotMirroring      DownloadErrorKind = "NotMirroring"
	DownloadFileNotFound      DownloadErrorKind = "FileNotFound"
	DownloadBlobNotFound      DownloadErrorKind = "BlobNotFound"
	DownloadVfsError          DownloadErrorKind = "VfsError"
	DownloadHandlingError     DownloadErrorKind = "HandlingError"
	DownloadInvalidManifest   DownloadErrorKind = "InvalidManifest"
	DownloadWorkerSpawnFailed DownloadErrorKind = "WorkerSpawnFailed"
	// DownloadOpaque carries an unrecognized error string verbatim.
	DownloadOpaque DownloadErrorKind = ""
)

// DownloadError is the structured error attached to a terminal
// download event or an update-ledger entry.
type DownloadError struct {
	Kind DownloadErrorKind
	// Desired and Actual are set for HashMismatch only.
	Desired string
	Actual  string
	// Message is set for HandlingError and opaque errors.
	Message string
}

// NewHashMismatch builds the integrity-failure error for a transfer.
func NewHashMismatch(desired, actual string) *DownloadError {
	return &DownloadError{Kind: DownloadHashMismatch, Desired: desired, Actual: actual}
}

// NewTimeout builds the unresponsive-mirror error.
func NewTimeout() *DownloadError {
	return &DownloadError{Kind: DownloadTimeout}
}

// NewHandlingError wraps an arbitrary failure message.
func NewHandlingError(msg string) *DownloadError {
	return &DownloadError{Kind: DownloadHandlingError, Message: msg}
}

// Error renders the failure for logs and notifications.
func (e *DownloadError) Error() string {
	switch e.Kind {
	case DownloadHashMismatch:
		return fmt.Sprintf("hash mismatch: desired %s, actual %s", e.Desired, e.Actual)
	case DownloadTimeout:
		return "mirror timed out"
	case DownloadOffline:
		return "mirror offline"
	case DownloadNotMirroring:
		return "mirror is not serving this package"
	case DownloadFileNotFound:
		return "file not found on mirror"
	case DownloadBlobNotFound:
		return "blob not found on mirror"
	case DownloadVfsError:
		return "storage error on mirror"
	case DownloadInvalidManifest:
		return "invalid manifest in archive"
	case DownloadWorkerSpawnFailed:
		return "transfer worker failed to start"
	default:
		return e.Message
	}
}

// unit kinds serialize as bare strings on the wire.
var unitKinds = map[DownloadErrorKind]bool{
	DownloadTimeout:           true,
	DownloadOffline:           true,
	DownloadNotMirroring:      true,
	DownloadFileNotFound:      true,
	DownloadBlobNotFound:      true,
	DownloadVfsError:          true,
	DownloadInvalidManifest:   true,
	DownloadWorkerSpawnFailed: true,
}

// MarshalJSON emits the push-channel wire forms: a HashMismatch or
// Timeout object, a tagged HandlingError object, or a bare string.
func (e DownloadError) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case DownloadHashMismatch:
		return json.Marshal(map[string]map[string]string{
			"HashMismatch": {"desired": e.Desired, "actual": e.Actual},
		})
	case DownloadTimeout:
		return json.Marshal(map[string]map[string]string{"Timeout": {}})
	case DownloadHandlingError:
		return json.Marshal(map[string]string{"HandlingError": e.Message})
	case DownloadOpaque:
		return json.Marshal(e.Message)
	default:
		return json.Marshal(string(e.Kind))
	}
}

// UnmarshalJSON accepts bare strings (unit kinds or opaque text) and
// single-key tagged objects.
func (e *DownloadError) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if unitKinds[DownloadErrorKind(s)] {
			*e = DownloadError{Kind: DownloadErrorKind(s)}
		} else {
			*e = DownloadError{Kind: DownloadOpaque, Message: s}
		}
		return nil
	}
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil || len(tagged) != 1 {
		return fmt.Errorf("invalid download error %s", data)
	}
	for tag, raw := range tagged {
		kind := DownloadErrorKind(tag)
		switch {
		case kind == DownloadHashMismatch:
			var hm struct {
				Desired string `json:"desired"`
				Actual  string `json:"actual"`
			}
			if err := json.Unmarshal(raw, &hm); err != nil {
				return fmt.Errorf("invalid hash mismatch payload %s", raw)
			}
			*e = DownloadError{Kind: kind, Desired: hm.Desired, Actual: hm.Actual}
		case kind == DownloadHandlingError:
			var msg string
			if err := json.Unmarshal(raw, &msg); err != nil {
				return fmt.Errorf("invalid handling error payload %s", raw)
			}
			*e = DownloadError{Kind: kind, Message: msg}
		case unitKinds[kind]:
			*e = DownloadError{Kind: kind}
		default:
			*e = DownloadError{Kind: DownloadOpaque, Message: tag}
		}
	}
	return nil
}

// FromError converts a local transfer failure into its wire form.
// Deadline and network timeouts classify as Timeout.
func FromError(err error) *DownloadError {
	if err == nil {
		return nil
	}
	var de *DownloadError
	if errors.As(err, &de) {
		return de
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeout()
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return NewTimeout()
	}
	return NewHandlingError(err.Error())
}

// ShortHash returns the first 8 hex characters of a hash for inline
// display. Full hashes are too long for notifications.
func ShortHash(h string) string {
	h = strings.TrimPrefix(h, "0x")
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
