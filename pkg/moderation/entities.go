package moderation

import (
	"regexp"
	"strings"
	"sync"
)

// EntityAction decides what replaces a disallowed entity mention.
type EntityAction string

const (
	EntityRemove  EntityAction = "REMOVE"
	EntityReplace EntityAction = "REPLACE"
	EntityRedact  EntityAction = "REDACT"
)

// Entity is a disallowed name with optional aliases. The main name and every
// alias are matched as whole words, case-insensitive.
type Entity struct {
	Name        string       `mapstructure:"name"`
	Aliases     []string     `mapstructure:"aliases"`
	Provider    string       `mapstructure:"provider"`
	Action      EntityAction `mapstructure:"action"`
	ReplaceWith string       `mapstructure:"replace_with"`
}

// EntityMatch reports one redacted entity and how often it has been seen.
type EntityMatch struct {
	Name       string `json:"name"`
	Provider   string `json:"provider"`
	Count      int    `json:"count"`
	TotalSeen  uint64 `json:"total_seen"`
	ActionUsed string `json:"action_used"`
}

// DefaultEntities covers the model and provider names a deployment usually
// wants scrubbed from model output.
func DefaultEntities() []Entity {
	return []Entity{
		{Name: "Claude", Aliases: []string{"Claude 3", "Claude 3.5", "Claude 4"}, Provider: "Anthropic", Action: EntityReplace, ReplaceWith: "the assistant"},
		{Name: "Anthropic", Provider: "Anthropic", Action: EntityReplace, ReplaceWith: "the provider"},
		{Name: "GPT", Aliases: []string{"GPT-4", "GPT-4o", "GPT-3.5", "ChatGPT"}, Provider: "OpenAI", Action: EntityReplace, ReplaceWith: "the assistant"},
		{Name: "OpenAI", Provider: "OpenAI", Action: EntityReplace, ReplaceWith: "the provider"},
		{Name: "Gemini", Aliases: []string{"Bard"}, Provider: "Google", Action: EntityReplace, ReplaceWith: "the assistant"},
		{Name: "Llama", Aliases: []string{"LLaMA"}, Provider: "Meta", Action: EntityReplace, ReplaceWith: "the assistant"},
	}
}

type compiledEntity struct {
	entity Entity
	res    []*regexp.Regexp
}

// entitySet holds compiled entities plus lifetime per-entity counters.
type entitySet struct {
	mu       sync.Mutex
	entities []compiledEntity
	counters map[string]uint64
}

func newEntitySet(entities []Entity) *entitySet {
	set := &entitySet{counters: make(map[string]uint64)}
	for _, e := range entities {
		names := append([]string{e.Name}, e.Aliases...)
		// longest first so "Claude 3.5" wins over "Claude"
		sortByLengthDesc(names)
		ce := compiledEntity{entity: e}
		for _, n := range names {
			if strings.TrimSpace(n) == "" {
				continue
			}
			ce.res = append(ce.res, wordBoundaryFn(n))
		}
		if len(ce.res) > 0 {
			set.entities = append(set.entities, ce)
		}
	}
	return set
}

func sortByLengthDesc(names []string) {
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && len(names[j]) > len(names[j-1]); j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
}

// redact applies every entity to the text and returns the scrubbed text plus
// one match record per entity that fired.
func (s *entitySet) redact(text string) (string, []EntityMatch) {
	var matches []EntityMatch
	for _, ce := range s.entities {
		count := 0
		for _, re := range ce.res {
			found := len(re.FindAllStringIndex(text, -1))
			if found == 0 {
				continue
			}
			count += found
			replacement := ""
			switch ce.entity.Action {
			case EntityReplace:
				replacement = ce.entity.ReplaceWith
				if replacement == "" {
					replacement = "[ENTITY]"
				}
			case EntityRedact:
				replacement = "[REDACTED]"
			case EntityRemove:
				replacement = ""
			default:
				replacement = "[REDACTED]"
			}
			text = re.ReplaceAllString(text, replacement)
		}
		if count == 0 {
			continue
		}
		s.mu.Lock()
		s.counters[ce.entity.Name] += uint64(count)
		total := s.counters[ce.entity.Name]
		s.mu.Unlock()
		matches = append(matches, EntityMatch{
			Name:       ce.entity.Name,
			Provider:   ce.entity.Provider,
			Count:      count,
			TotalSeen:  total,
			ActionUsed: string(ce.entity.Action),
		})
	}
	return text, matches
}

// Counters returns a copy of the lifetime per-entity detection counters.
func (s *entitySet) Counters() map[string]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]uint64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}
