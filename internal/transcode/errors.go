package transcode

import (
	"fmt"
	"sort"
	"strings"
)

// LaunchError is returned when the transcoder process for a variant cannot be
// spawned, e.g. the binary is missing or not executable.
type LaunchError struct {
	Variant string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch transcoder for variant %s: %v", e.Variant, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// PartialStartError is returned by StartTranscoding when some variants were
// started before another failed to launch. The started processes keep
// running; Started maps their names to publish URLs.
type PartialStartError struct {
	Started map[string]string
	Failed  string
	Err     error
}

func (e *PartialStartError) Error() string {
	names := make([]string, 0, len(e.Started))
	for name := range e.Started {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("variant %s failed to start after %d of its siblings (%s): %v",
		e.Failed, len(names), strings.Join(names, ", "), e.Err)
}

func (e *PartialStartError) Unwrap() error { return e.Err }
