package hangup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/actguard/internal/core"
	"github.com/hugo-lorenzo-mato/actguard/internal/health"
)

var allHeuristics = []string{
	HeuristicSilence, HeuristicEngine, HeuristicPermission, HeuristicResource, HeuristicProcessState,
}

func analysisWith(heuristics ...string) Analysis {
	var a Analysis
	for _, h := range heuristics {
		a.Issues = append(a.Issues, Issue{Heuristic: h, Severity: health.StatusWarning})
	}
	return a
}

func TestNewBaseline(t *testing.T) {
	b := NewBaseline(analysisWith(HeuristicResource), allHeuristics, "run-1", now)
	assert.Equal(t, []string{HeuristicResource}, b.Fired)
	assert.Equal(t, []string{HeuristicSilence, HeuristicEngine, HeuristicPermission, HeuristicProcessState}, b.Clean)
	assert.Equal(t, "run-1", b.RunID)
}

func TestCompareBaseline(t *testing.T) {
	baseline := NewBaseline(analysisWith(HeuristicResource), allHeuristics, "", now)

	t.Run("previously clean heuristic fires", func(t *testing.T) {
		got := CompareBaseline(analysisWith(HeuristicEngine, HeuristicResource), &baseline)
		assert.True(t, got.RegressionSuspected)
		assert.Equal(t, []string{HeuristicEngine}, got.Regressions)
	})

	t.Run("same issues as baseline", func(t *testing.T) {
		got := CompareBaseline(analysisWith(HeuristicResource), &baseline)
		assert.False(t, got.RegressionSuspected)
		assert.Empty(t, got.Regressions)
	})

	t.Run("no baseline", func(t *testing.T) {
		got := CompareBaseline(analysisWith(HeuristicEngine), nil)
		assert.False(t, got.RegressionSuspected)
	})

	t.Run("input is not modified", func(t *testing.T) {
		in := analysisWith(HeuristicSilence)
		_ = CompareBaseline(in, &baseline)
		assert.False(t, in.RegressionSuspected)
		assert.Nil(t, in.Regressions)
	})
}

func TestBaseline_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "baseline.yaml")
	b := NewBaseline(analysisWith(HeuristicSilence), allHeuristics, "run-9", now)

	require.NoError(t, SaveBaseline(path, b))
	loaded, err := LoadBaseline(path)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.True(t, loaded.RecordedAt.Equal(now))
	assert.ElementsMatch(t, b.Clean, loaded.Clean)
	assert.Equal(t, []string{HeuristicSilence}, loaded.Fired)
}

func TestLoadBaseline_Missing(t *testing.T) {
	b, err := LoadBaseline(filepath.Join(t.TempDir(), "none.yaml"))
	assert.NoError(t, err)
	assert.Nil(t, b)
}

func TestLoadBaseline_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("clean: [unterminated"), 0o600))

	_, err := LoadBaseline(path)
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))
	assert.Contains(t, core.RemediationOf(err), "--save-baseline")
}
