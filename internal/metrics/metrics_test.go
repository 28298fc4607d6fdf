package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordReportBuild(t *testing.T) {
	before := testutil.ToFloat64(ReportBuilds.WithLabelValues("ready"))

	RecordReportBuild("ready", 250*time.Millisecond)

	after := testutil.ToFloat64(ReportBuilds.WithLabelValues("ready"))
	if after != before+1 {
		t.Errorf("ReportBuilds{ready} = %v, want %v", after, before+1)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/duel", "200"))

	RecordAPIRequest("GET", "/api/v1/duel", 200, 10*time.Millisecond)
	RecordAPIRequest("GET", "/api/v1/duel", 200, 20*time.Millisecond)

	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/v1/duel", "200"))
	if after != before+2 {
		t.Errorf("APIRequestsTotal = %v, want %v", after, before+2)
	}
}

func TestRecordUpstreamRequest_NoResponse(t *testing.T) {
	RecordUpstreamRequest("activities", 0, time.Second)

	if n := testutil.CollectAndCount(UpstreamRequestDuration, "strava_request_duration_seconds"); n == 0 {
		t.Error("expected at least one upstream duration series")
	}
}
