// Package topic implements the topic-pattern grammar: literal labels,
// "{token}" placeholders occupying a whole level, filter derivation
// with "+" wildcards for unresolved tokens, and recovery of token
// values from a topic that matched a filter.
//
// Patterns are validated and rewritten level by level (split on "/")
// rather than against one whole-pattern regex: the grammar never lets
// a token span part of a level or a literal span multiple levels, so
// there's nothing a level-at-a-time walk loses versus matching the
// entire string at once, and it lets substitution and filter
// derivation work on the same per-level representation instead of
// re-parsing the pattern string with global regex replacements.
package topic

import (
	"regexp"
	"strings"

	"github.com/latticeforge/edgerpc/rpc/errors"
)

const labelGrammar = `[^ "+#{}/]+`

var matchLabel = regexp.MustCompile(`^` + labelGrammar + `$`)

type (
	// segment is one level of a split pattern: either a literal label
	// or a {name} placeholder awaiting substitution.
	segment struct {
		literal string
		name    string // non-empty iff this segment is a token
	}

	// Pattern applies tokens to a named topic pattern, either
	// resolving it fully for publish or deriving a Filter for
	// subscribe.
	Pattern struct {
		name     string
		segments []segment
		tokens   map[string]string
	}

	// Filter is an MQTT subscription filter derived from a Pattern,
	// capable of recovering the pattern's tokens from a matched topic.
	Filter struct {
		filter string
		names  []string
		regex  *regexp.Regexp
		tokens map[string]string
	}
)

func (s segment) isToken() bool { return s.name != "" }

func (s segment) resolve(values map[string]string) (segment, bool) {
	if !s.isToken() {
		return s, true
	}
	if v, ok := values[s.name]; ok {
		return segment{literal: v}, true
	}
	return s, false
}

// parsePattern splits pattern into levels and validates each one
// against the grammar, returning an error built from errFn if any
// level is neither a valid literal label nor a well-formed {token}.
func parsePattern(pattern string, errFn func() error) ([]segment, error) {
	if pattern == "" {
		return nil, errFn()
	}
	parts := strings.Split(pattern, "/")
	segments := make([]segment, len(parts))
	for i, part := range parts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") && len(part) > 2 {
			name := part[1 : len(part)-1]
			if !matchLabel.MatchString(name) {
				return nil, errFn()
			}
			segments[i] = segment{name: name}
			continue
		}
		if !matchLabel.MatchString(part) {
			return nil, errFn()
		}
		segments[i] = segment{literal: part}
	}
	return segments, nil
}

func joinSegments(segments []segment) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		if s.isToken() {
			parts[i] = "{" + s.name + "}"
		} else {
			parts[i] = s.literal
		}
	}
	return strings.Join(parts, "/")
}

// ValidateComponent checks a single topic-pattern string (e.g. a
// namespace or user-supplied pattern fragment) against the grammar.
func ValidateComponent(name, msgOnErr, pattern string) error {
	_, err := parsePattern(pattern, func() error {
		return &errors.Error{
			Message:       msgOnErr,
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  name,
			PropertyValue: pattern,
			IsShallow:     true,
		}
	})
	return err
}

// NewPattern validates pattern (optionally prefixed by namespace),
// substitutes the given construction-time tokens, and returns the
// result. Remaining tokens are resolved later, per-call, via Topic.
func NewPattern(
	name, pattern string,
	tokens map[string]string,
	namespace string,
) (*Pattern, error) {
	if namespace != "" {
		if !ValidTopic(namespace) {
			return nil, &errors.Error{
				Message:       "invalid topic namespace",
				Kind:          errors.ConfigurationInvalid,
				PropertyName:  "TopicNamespace",
				PropertyValue: namespace,
				IsShallow:     true,
			}
		}
		pattern = namespace + `/` + pattern
	}

	segments, err := parsePattern(pattern, func() error {
		return &errors.Error{
			Message:       "invalid topic pattern",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  name,
			PropertyValue: pattern,
			IsShallow:     true,
		}
	})
	if err != nil {
		return nil, err
	}

	if err := validateTokens(errors.ConfigurationInvalid, tokens); err != nil {
		return nil, err
	}
	for i, s := range segments {
		if resolved, ok := s.resolve(tokens); ok {
			segments[i] = resolved
		}
	}

	return &Pattern{name: name, segments: segments, tokens: tokens}, nil
}

// Topic fully resolves the pattern for publishing, applying tokens
// and rejecting the result if any placeholder remains unresolved.
func (p *Pattern) Topic(tokens map[string]string) (string, error) {
	if err := validateTokens(errors.ArgumentInvalid, tokens); err != nil {
		return "", err
	}

	resolved := make([]segment, len(p.segments))
	for i, s := range p.segments {
		next, _ := s.resolve(tokens)
		resolved[i] = next
	}

	for _, s := range resolved {
		if s.isToken() {
			return "", &errors.Error{
				Message:      "invalid topic",
				Kind:         errors.ArgumentInvalid,
				PropertyName: s.name,
				IsShallow:    true,
			}
		}
	}

	topic := joinSegments(resolved)
	if !ValidTopic(topic) {
		return "", &errors.Error{
			Message:       "invalid topic",
			Kind:          errors.ArgumentInvalid,
			PropertyName:  p.name,
			PropertyValue: topic,
			IsShallow:     true,
		}
	}
	return topic, nil
}

// Filter derives a subscription filter from the pattern, replacing
// any unresolved tokens with the "+" single-level wildcard and
// compiling a regex capable of recovering their values later.
func (p *Pattern) Filter() (*Filter, error) {
	filterParts := make([]string, len(p.segments))
	regexParts := make([]string, len(p.segments))
	var names []string

	for i, s := range p.segments {
		if s.isToken() {
			filterParts[i] = "+"
			regexParts[i] = "(" + labelGrammar + ")"
			names = append(names, s.name)
			continue
		}
		filterParts[i] = s.literal
		regexParts[i] = regexp.QuoteMeta(s.literal)
	}

	regex, err := regexp.Compile(`^` + strings.Join(regexParts, "/") + `$`)
	if err != nil {
		return nil, err
	}

	return &Filter{
		filter: strings.Join(filterParts, "/"),
		names:  names,
		regex:  regex,
		tokens: p.tokens,
	}, nil
}

// String returns the MQTT topic filter.
func (f *Filter) String() string {
	return f.filter
}

// Tokens reports whether topic matches the filter and, if so,
// recovers every named token's value from it.
func (f *Filter) Tokens(topic string) (map[string]string, bool) {
	match := f.regex.FindStringSubmatch(topic)
	if match == nil {
		return nil, false
	}

	tokens := make(map[string]string, len(f.names)+len(f.tokens))
	for name, value := range f.tokens {
		tokens[name] = value
	}
	for i, name := range f.names {
		tokens[name] = match[i+1]
	}
	return tokens, true
}

// ValidTopic reports whether topic is a fully-resolved MQTT topic
// (no wildcards, no unresolved tokens, every level a valid label).
func ValidTopic(topic string) bool {
	if topic == "" {
		return false
	}
	for _, level := range strings.Split(topic, "/") {
		if !matchLabel.MatchString(level) {
			return false
		}
	}
	return true
}

// ValidateShareName reports whether shareName is valid for use in a
// "$share/{group}/" prefix.
func ValidateShareName(shareName string) error {
	if shareName != "" && !matchLabel.MatchString(shareName) {
		return &errors.Error{
			Message:       "invalid share name",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "ShareName",
			PropertyValue: shareName,
			IsShallow:     true,
		}
	}
	return nil
}

// validateTokens checks that every token name and value is itself a
// valid single topic label. kind distinguishes construction-time
// tokens (ConfigurationInvalid) from per-call tokens (ArgumentInvalid).
func validateTokens(kind errors.Kind, tokens map[string]string) error {
	for k, v := range tokens {
		if !matchLabel.MatchString(k) || !matchLabel.MatchString(v) {
			return &errors.Error{
				Message:       "invalid topic token",
				Kind:          kind,
				PropertyName:  k,
				PropertyValue: v,
				IsShallow:     true,
			}
		}
	}
	return nil
}
