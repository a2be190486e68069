package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Twice(t *testing.T) {
	reg := prometheus.NewRegistry()

	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestRecordFrame_UnknownTypesShareLabel(t *testing.T) {
	before := testutil.ToFloat64(dealerFramesTotal.WithLabelValues("unknown"))

	RecordFrame("bogus")
	RecordFrame("other")

	after := testutil.ToFloat64(dealerFramesTotal.WithLabelValues("unknown"))
	assert.InDelta(t, 2, after-before, 0)
}

func TestRecordStatePush(t *testing.T) {
	before := testutil.ToFloat64(statePushesTotal.WithLabelValues("coalesced"))

	RecordStatePush("coalesced")

	after := testutil.ToFloat64(statePushesTotal.WithLabelValues("coalesced"))
	assert.InDelta(t, 1, after-before, 0)
}

func TestSetSequence(t *testing.T) {
	SetSequence(42)

	assert.InDelta(t, 42, testutil.ToFloat64(sequenceNumber), 0)
}
