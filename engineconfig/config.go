// Package engineconfig loads the fragmentation engine's tunables from a
// YAML document, mirroring pithecene-io-quarry's cli/config package:
// struct tags plus a Load function and a Validate method.
package engineconfig

import (
	"fmt"
)

// Config holds the four knobs spec.md §5 names as engine-wide
// configuration: FragmentSize governs the send side; the remaining three
// govern the receive side.
type Config struct {
	// FragmentSize is the maximum wire size (header+blob) of one outbound
	// fragment. Must be strictly greater than fragment.HeaderSize.
	FragmentSize int `yaml:"fragment_size"`

	// MaximumReceivedObjectSize bounds the cumulative reassembled size of
	// one inbound object. Zero means unbounded.
	MaximumReceivedObjectSize int `yaml:"maximum_received_object_size"`

	// MaximumReceivedDataSize bounds the cumulative inbound bytes charged
	// across both receive priorities. Zero means unbounded.
	MaximumReceivedDataSize int64 `yaml:"maximum_received_data_size"`

	// AllowTwoThreadsToProcessRawData relaxes the single-parser rule on
	// the receive side, permitting one synchronous reentrant
	// ProcessRawData call from within an object callback.
	AllowTwoThreadsToProcessRawData bool `yaml:"allow_two_threads_to_process_raw_data"`
}

// minFragmentSize is the smallest fragment size that can carry a header
// plus at least one byte of payload.
const minFragmentSize = 22

// Default returns the configuration the teacher's fragments package used
// implicitly: no size caps, single-threaded processing, and a fragment
// size large enough for typical PSRP control messages.
func Default() Config {
	return Config{
		FragmentSize:                    32768,
		MaximumReceivedObjectSize:       0,
		MaximumReceivedDataSize:         0,
		AllowTwoThreadsToProcessRawData: false,
	}
}

// Validate checks the loaded configuration for internally consistent
// values before it is handed to engine.New.
func (c Config) Validate() error {
	if c.FragmentSize < minFragmentSize {
		return fmt.Errorf("engineconfig: fragment_size must be >= %d, got %d", minFragmentSize, c.FragmentSize)
	}
	if c.MaximumReceivedObjectSize < 0 {
		return fmt.Errorf("engineconfig: maximum_received_object_size must be >= 0, got %d", c.MaximumReceivedObjectSize)
	}
	if c.MaximumReceivedDataSize < 0 {
		return fmt.Errorf("engineconfig: maximum_received_data_size must be >= 0, got %d", c.MaximumReceivedDataSize)
	}
	if c.MaximumReceivedObjectSize > 0 && c.MaximumReceivedDataSize > 0 &&
		int64(c.MaximumReceivedObjectSize) > c.MaximumReceivedDataSize {
		return fmt.Errorf("engineconfig: maximum_received_object_size (%d) exceeds maximum_received_data_size (%d)",
			c.MaximumReceivedObjectSize, c.MaximumReceivedDataSize)
	}
	return nil
}
