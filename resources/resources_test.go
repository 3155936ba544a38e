package resources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/mcp-runtime/errs"
)

func TestTryAcquireSlotRespectsCapacity(t *testing.T) {
	m := NewManager(2, 1024, DefaultThresholds())

	s1, err1 := m.TryAcquireSlot()
	require.Nil(t, err1)
	s2, err2 := m.TryAcquireSlot()
	require.Nil(t, err2)

	_, err3 := m.TryAcquireSlot()
	require.NotNil(t, err3)
	assert.Equal(t, errs.ResourceExhausted, err3.Code)

	s1.Release()
	_, err4 := m.TryAcquireSlot()
	assert.Nil(t, err4)

	s2.Release()
}

func TestSlotReleaseIsIdempotent(t *testing.T) {
	m := NewManager(1, 1024, DefaultThresholds())
	s, err := m.TryAcquireSlot()
	require.Nil(t, err)

	s.Release()
	s.Release()

	got := m.GetTelemetry()
	assert.EqualValues(t, 0, got.ConcurrentExecutions)
}

func TestValidatePayloadSizeRejectsOverLimit(t *testing.T) {
	m := NewManager(1, 8, DefaultThresholds())
	err := m.ValidatePayloadSize(map[string]any{"message": "this is definitely too long"})
	require.NotNil(t, err)
	assert.Equal(t, errs.ResourceExhausted, err.Code)
}

func TestValidatePayloadSizeAcceptsUnderLimit(t *testing.T) {
	m := NewManager(1, 1024, DefaultThresholds())
	err := m.ValidatePayloadSize(map[string]any{"message": "hi"})
	assert.Nil(t, err)
}

func TestHealthStatusDegradesOnSaturation(t *testing.T) {
	m := NewManager(2, 1024, DefaultThresholds())
	s1, _ := m.TryAcquireSlot()
	s2, _ := m.TryAcquireSlot()
	defer s1.Release()
	defer s2.Release()

	assert.Equal(t, Degraded, m.GetHealthStatus())
}
