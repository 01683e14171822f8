package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobsWrittenTotalIncrements(t *testing.T) {
	before := testutil.ToFloat64(BlobsWrittenTotal)
	BlobsWrittenTotal.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(BlobsWrittenTotal))
}

func TestFilesTotalTracksByClassification(t *testing.T) {
	before := testutil.ToFloat64(FilesTotal.WithLabelValues("new"))
	FilesTotal.WithLabelValues("new").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(FilesTotal.WithLabelValues("new")))
}

func TestRecordDiffSavingsSetsRatio(t *testing.T) {
	RecordDiffSavings(1000, 250)
	assert.InDelta(t, 0.75, testutil.ToFloat64(DiffSavingsRatio), 1e-9)
}

func TestRecordDiffSavingsIgnoresZeroFullSize(t *testing.T) {
	RecordDiffSavings(1000, 250)
	before := testutil.ToFloat64(DiffSavingsRatio)
	RecordDiffSavings(0, 500)
	assert.Equal(t, before, testutil.ToFloat64(DiffSavingsRatio))
}

func TestHandlerServesExposition(t *testing.T) {
	BlobsWrittenTotal.Inc()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "bkv_blobs_written_total")
}
