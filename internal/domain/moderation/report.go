package moderation

import "github.com/ehgus2390/chineseapp/internal/docstore"

const ReportsCollection = "reports"

// Skip reasons written to moderationSkippedReason.
const (
	SkipTargetMissing  = "target_missing"
	SkipSelfReport     = "self_report"
	SkipPostMissing    = "post_missing"
	SkipCommentMissing = "comment_missing"
)

// Report is reports/{id} or a community content report.
type Report struct {
	ID          string
	ReporterUID string
	TargetUID   string
	Reason      string
	Processed   bool
}

func ParseReport(id string, data map[string]any) Report {
	r := Report{ID: id}
	if data == nil {
		return r
	}
	r.ReporterUID = docstore.AsString(data["reporterUid"])
	r.TargetUID = docstore.AsString(data["targetUid"])
	if r.TargetUID == "" {
		r.TargetUID = docstore.AsString(data["reportedUid"])
	}
	if s, ok := data["reason"].(string); ok {
		r.Reason = s
	} else {
		r.Reason = "Unknown"
	}
	r.Processed, _ = docstore.AsBool(data["moderationProcessed"])
	return r
}

// ProcessedData marks a report as consumed; skip may be empty.
func ProcessedData(skip string) map[string]any {
	data := map[string]any{
		"moderationProcessed":   true,
		"moderationProcessedAt": docstore.ServerTimestamp,
	}
	if skip != "" {
		data["moderationSkippedReason"] = skip
	}
	return data
}
