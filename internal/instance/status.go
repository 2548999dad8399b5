package instance

import "fmt"

// Status is the connection status reported to the host runtime.
type Status int

const (
	StatusConnecting Status = iota
	StatusOk
	StatusBadConfig
	StatusError
	StatusConnectionFailure
	StatusUnknownError
)

var statusNames = map[Status]string{
	StatusConnecting:        "connecting",
	StatusOk:                "ok",
	StatusBadConfig:         "bad_config",
	StatusError:             "error",
	StatusConnectionFailure: "connection_failure",
	StatusUnknownError:      "unknown_error",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the status by name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name produced by MarshalText.
func (s *Status) UnmarshalText(text []byte) error {
	for st, name := range statusNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}
