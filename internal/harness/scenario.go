package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one orchestrator test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config holds engine options shared by every run.
	Config Config `yaml:"config,omitempty"`

	// Platforms are the fake destinations of the account, in dispatch order.
	Platforms []PlatformSpec `yaml:"platforms"`

	// Feed is the source timeline, newest first.
	Feed []FeedPost `yaml:"feed"`

	// Setup is the store state before the first run.
	Setup Setup `yaml:"setup,omitempty"`

	// Runs are executed in order against the same store.
	Runs []RunStep `yaml:"runs"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Config maps to engine options. Zero values keep the engine defaults.
type Config struct {
	MaxConsecutiveCached int  `yaml:"max_consecutive_cached,omitempty"`
	InitialLimit         int  `yaml:"initial_limit,omitempty"`
	IncrementalLimit     int  `yaml:"incremental_limit,omitempty"`
	ForceResync          bool `yaml:"force_resync,omitempty"`
	ForceRepost          bool `yaml:"force_repost,omitempty"`
}

// PlatformSpec configures one fake destination.
type PlatformSpec struct {
	ID string `yaml:"id"`
	// Fail lists post ids the platform rejects permanently.
	Fail []string `yaml:"fail,omitempty"`
	// Skip lists post ids the platform declines without error.
	Skip []string `yaml:"skip,omitempty"`
}

// FeedPost is one feed item.
type FeedPost struct {
	ID        string `yaml:"id"`
	Text      string `yaml:"text"`
	InReplyTo string `yaml:"in_reply_to,omitempty"`
	Quote     string `yaml:"quote,omitempty"`
	// Malformed drops the id so the normalizer rejects the item.
	Malformed bool `yaml:"malformed,omitempty"`
}

// Setup is the initial store state.
type Setup struct {
	Synced  []string     `yaml:"synced,omitempty"`
	Entries []SetupEntry `yaml:"entries,omitempty"`
}

// SetupEntry is a pre-existing store value.
type SetupEntry struct {
	Post     string `yaml:"post"`
	Platform string `yaml:"platform"`
	Value    string `yaml:"value"`
}

// RunStep is one post pass. Force flags override Config for this run only.
type RunStep struct {
	ForceResync bool `yaml:"force_resync,omitempty"`
	ForceRepost bool `yaml:"force_repost,omitempty"`
	// Heal clears the Fail lists of every platform before the run.
	Heal bool `yaml:"heal,omitempty"`
	// Expect is a subset match against the run's report counters.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	Type     string   `yaml:"type"`
	Platform string   `yaml:"platform,omitempty"`
	Post     string   `yaml:"post,omitempty"`
	Posts    []string `yaml:"posts,omitempty"`
	Value    string   `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertPosted    = "posted"
	AssertEntry     = "entry"
	AssertNoEntry   = "no_entry"
	AssertSynced    = "synced"
	AssertNotSynced = "not_synced"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Platforms) == 0 {
		return fmt.Errorf("platforms list is required and must be non-empty")
	}
	if len(s.Runs) == 0 {
		return fmt.Errorf("runs list is required and must be non-empty")
	}

	platforms := make(map[string]bool)
	for i, p := range s.Platforms {
		if p.ID == "" {
			return fmt.Errorf("platforms[%d]: id is required", i)
		}
		if platforms[p.ID] {
			return fmt.Errorf("platforms[%d]: duplicate id %q", i, p.ID)
		}
		platforms[p.ID] = true
	}

	for i, p := range s.Feed {
		if p.ID == "" && !p.Malformed {
			return fmt.Errorf("feed[%d]: id is required", i)
		}
	}

	for i, e := range s.Setup.Entries {
		if e.Post == "" || e.Value == "" {
			return fmt.Errorf("setup.entries[%d]: post and value are required", i)
		}
		if !platforms[e.Platform] {
			return fmt.Errorf("setup.entries[%d]: unknown platform %q", i, e.Platform)
		}
	}

	for i, r := range s.Runs {
		for key := range r.Expect {
			if !reportFields[key] {
				return fmt.Errorf("runs[%d].expect: unknown counter %q", i, key)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, platforms); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, platforms map[string]bool) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertPosted:
		if !platforms[a.Platform] {
			return fmt.Errorf("assertions[%d]: unknown platform %q", index, a.Platform)
		}
	case AssertEntry, AssertNoEntry:
		if !platforms[a.Platform] || a.Post == "" {
			return fmt.Errorf("assertions[%d]: post and a known platform are required for %s", index, a.Type)
		}
		if a.Type == AssertEntry && a.Value == "" {
			return fmt.Errorf("assertions[%d]: value is required for entry", index)
		}
	case AssertSynced, AssertNotSynced:
		if len(a.Posts) == 0 {
			return fmt.Errorf("assertions[%d]: posts list is required for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
