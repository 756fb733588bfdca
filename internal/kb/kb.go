// Package kb holds the company knowledge base: the facts about the
// responding company that gap analysis checks against and response
// generation draws from.
package kb

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Profile is the company profile loaded from YAML.
type Profile struct {
	CompanyName    string            `yaml:"company_name"`
	Description    string            `yaml:"description"`
	Certifications []string          `yaml:"certifications"`
	Services       []string          `yaml:"services"`
	Technologies   []string          `yaml:"technologies"`
	References     []Reference       `yaml:"references"`
	Facts          map[string]string `yaml:"facts"`
}

// Reference is a past engagement the company can cite.
type Reference struct {
	Client      string `yaml:"client"`
	Summary     string `yaml:"summary"`
	Year        int    `yaml:"year"`
	ContractVal string `yaml:"contract_value,omitempty"`
}

// CompanyKB answers topic lookups over the loaded profile.
type CompanyKB struct {
	profile Profile
	topics  map[string]string
}

// Load reads a company profile from the given YAML path. A missing file
// yields an empty knowledge base rather than an error, so the pipeline can
// run before a profile has been written.
func Load(path string) (*CompanyKB, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(Profile{}), nil
		}
		return nil, eris.Wrapf(err, "kb: read profile %s", path)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, eris.Wrapf(err, "kb: parse profile %s", path)
	}
	return New(profile), nil
}

// New builds a CompanyKB over an in-memory profile.
func New(profile Profile) *CompanyKB {
	k := &CompanyKB{profile: profile, topics: map[string]string{}}

	if profile.CompanyName != "" {
		k.topics["company_name"] = profile.CompanyName
	}
	if profile.Description != "" {
		k.topics["description"] = profile.Description
	}
	if len(profile.Certifications) > 0 {
		k.topics["certifications"] = strings.Join(profile.Certifications, ", ")
	}
	if len(profile.Services) > 0 {
		k.topics["services"] = strings.Join(profile.Services, ", ")
	}
	if len(profile.Technologies) > 0 {
		k.topics["technologies"] = strings.Join(profile.Technologies, ", ")
	}
	if len(profile.References) > 0 {
		var refs []string
		for _, r := range profile.References {
			refs = append(refs, fmt.Sprintf("%s (%d): %s", r.Client, r.Year, r.Summary))
		}
		k.topics["references"] = strings.Join(refs, "; ")
	}
	for key, val := range profile.Facts {
		if val != "" {
			k.topics[strings.ToLower(key)] = val
		}
	}

	return k
}

// Profile returns the loaded profile.
func (k *CompanyKB) Profile() Profile {
	return k.profile
}

// HasInfo reports whether the knowledge base covers the topic.
func (k *CompanyKB) HasInfo(topic string) bool {
	_, ok := k.topics[strings.ToLower(strings.TrimSpace(topic))]
	return ok
}

// GetInfo returns the knowledge base entry for the topic.
func (k *CompanyKB) GetInfo(topic string) (string, bool) {
	val, ok := k.topics[strings.ToLower(strings.TrimSpace(topic))]
	return val, ok
}

// KnownTopics lists the topics the knowledge base covers, sorted.
func (k *CompanyKB) KnownTopics() []string {
	topics := make([]string, 0, len(k.topics))
	for topic := range k.topics {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// FormatForPrompt renders the knowledge base as a text block for LLM
// prompts. Deterministic: topics appear in sorted order.
func (k *CompanyKB) FormatForPrompt() string {
	if len(k.topics) == 0 {
		return "No company information available."
	}

	var sb strings.Builder
	sb.WriteString("COMPANY KNOWLEDGE BASE:\n")
	for _, topic := range k.KnownTopics() {
		fmt.Fprintf(&sb, "- %s: %s\n", topic, k.topics[topic])
	}
	return sb.String()
}
