package manifest

import "fmt"

// Object layout under one manifest prefix P/, verbatim from §6:
//
//	P/HEAD                          — single object, small JSON.
//	P/segments/<seq:020d>.seg       — immutable segment payloads.
//	P/checkpoints/<id>.meta         — checkpoint metadata JSON.
//	P/checkpoints/<id>.payload      — checkpoint payload.
//	P/leases/<session_id>.lease     — lease JSON.
//	P/gc/PLAN                       — GC plan, CAS-guarded.
const (
	headSuffix        = "HEAD"
	segmentsSuffix    = "segments/"
	checkpointsSuffix = "checkpoints/"
	leasesSuffix      = "leases/"
	gcPlanSuffix      = "gc/PLAN"
)

func headKey(prefix string) string { return prefix + headSuffix }

func segmentsDir(prefix string) string { return prefix + segmentsSuffix }

func segmentKey(prefix string, seq uint64) string {
	return fmt.Sprintf("%s%020d.seg", segmentsDir(prefix), seq)
}

func checkpointsDir(prefix string) string { return prefix + checkpointsSuffix }

func checkpointMetaKey(prefix, id string) string {
	return checkpointsDir(prefix) + id + ".meta"
}

func checkpointPayloadKey(prefix, id string) string {
	return checkpointsDir(prefix) + id + ".payload"
}

func leasesDir(prefix string) string { return prefix + leasesSuffix }

func leaseKey(prefix, sessionID string) string {
	return leasesDir(prefix) + sessionID + ".lease"
}

func gcPlanKey(prefix string) string { return prefix + gcPlanSuffix }
