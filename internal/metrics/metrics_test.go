package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestOperationsCounter(t *testing.T) {
	c := Operations.WithLabelValues("metrics.test", "create", Status(nil))
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "ok", Status(nil))
	assert.Equal(t, "error", Status(errors.New("boom")))
}
