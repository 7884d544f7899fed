package topic_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticeforge/edgerpc/rpc/internal/topic"
)

func TestPatternBasic(t *testing.T) {
	pattern, err := topic.NewPattern(
		"basic",
		"a/{default}/topic/{pattern}",
		map[string]string{"default": "basic"},
		"",
	)
	require.NoError(t, err)

	resolved, err := pattern.Topic(map[string]string{
		"default": "replaced", // construction-time tokens are static
		"pattern": "resolved",
	})
	require.NoError(t, err)
	require.Equal(t, "a/basic/topic/resolved", resolved)

	_, err = pattern.Topic(nil)
	require.Error(t, err)
	require.Equal(t, "invalid topic", err.Error())

	filter, err := pattern.Filter()
	require.NoError(t, err)
	require.Equal(t, "a/basic/topic/+", filter.String())

	tokens, ok := filter.Tokens(resolved)
	require.True(t, ok)
	require.Equal(t, map[string]string{
		"default": "basic",
		"pattern": "resolved",
	}, tokens)
}

func TestPatternMetacharacterLabels(t *testing.T) {
	pattern, err := topic.NewPattern(
		"basic",
		"a/(topic)/pattern/{with}/[meta]/{characters}",
		map[string]string{"with": "without"},
		"",
	)
	require.NoError(t, err)

	resolved, err := pattern.Topic(map[string]string{"characters": "conflicts"})
	require.NoError(t, err)
	require.Equal(t, "a/(topic)/pattern/without/[meta]/conflicts", resolved)

	filter, err := pattern.Filter()
	require.NoError(t, err)
	require.Equal(t, "a/(topic)/pattern/without/[meta]/+", filter.String())

	tokens, ok := filter.Tokens(resolved)
	require.True(t, ok)
	require.Equal(t, map[string]string{
		"with":       "without",
		"characters": "conflicts",
	}, tokens)
}

func TestNamespacePrefixesPattern(t *testing.T) {
	pattern, err := topic.NewPattern("basic", "cmd/{name}", nil, "ns")
	require.NoError(t, err)

	resolved, err := pattern.Topic(map[string]string{"name": "invoke"})
	require.NoError(t, err)
	require.Equal(t, "ns/cmd/invoke", resolved)
}

func TestInvalidTopicTokenIsRejected(t *testing.T) {
	_, err := topic.NewPattern("basic", "cmd/{name}", map[string]string{"name": "a/b"}, "")
	require.Error(t, err)
}

func TestShareNameValidation(t *testing.T) {
	require.NoError(t, topic.ValidateShareName(""))
	require.NoError(t, topic.ValidateShareName("group1"))
	require.Error(t, topic.ValidateShareName("has/slash"))
}
