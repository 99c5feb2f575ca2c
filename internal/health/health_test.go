package health

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestStatus_Ordering(t *testing.T) {
	assert.Less(t, StatusOK, StatusWarning)
	assert.Less(t, StatusWarning, StatusCritical)
	assert.Less(t, StatusCritical, StatusError)
}

func TestMax(t *testing.T) {
	assert.Equal(t, StatusOK, Max())
	assert.Equal(t, StatusWarning, Max(StatusOK, StatusWarning, StatusOK))
	assert.Equal(t, StatusError, Max(StatusError, StatusCritical))
	assert.Equal(t, StatusError, Max(StatusCritical, StatusError))
}

func TestParseStatus(t *testing.T) {
	for _, s := range []Status{StatusOK, StatusWarning, StatusCritical, StatusError} {
		got, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	got, err := ParseStatus("critical")
	require.NoError(t, err)
	assert.Equal(t, StatusCritical, got)

	_, err = ParseStatus("fatal")
	assert.Error(t, err)
}

func TestStatus_String_OutOfRange(t *testing.T) {
	assert.Equal(t, "Status(9)", Status(9).String())
	assert.False(t, Status(9).Valid())
}

func TestResult_MarshalJSON_FieldOrder(t *testing.T) {
	r := Warning("engine-socket", "socket is group-owned", "add user to docker group")

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Equal(t,
		`{"name":"engine-socket","status":"WARNING","message":"socket is group-owned","remediation":"add user to docker group"}`,
		string(data))
}

func TestResult_MarshalJSON_OmitsEmptyRemediation(t *testing.T) {
	data, err := json.Marshal(OK("x", "fine"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "remediation")
}

func TestStatus_YAML(t *testing.T) {
	out, err := yaml.Marshal(map[string]Status{"s": StatusCritical})
	require.NoError(t, err)
	assert.Contains(t, string(out), "s: CRITICAL")

	var decoded map[string]Status
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	assert.Equal(t, StatusCritical, decoded["s"])
}

func TestResult_WithDetail_DoesNotMutate(t *testing.T) {
	base := OK("x", "ok").WithDetail("a", 1)
	derived := base.WithDetail("b", 2)

	assert.Len(t, base.Details, 1)
	assert.Len(t, derived.Details, 2)
}

func TestCheckFunc_StampsName(t *testing.T) {
	c := NewCheck("named", func(context.Context) Result {
		return Result{Name: "wrong", Status: StatusOK}
	})
	r := c.Run(context.Background())
	assert.Equal(t, "named", r.Name)
	assert.Equal(t, "named", c.Name())
}
