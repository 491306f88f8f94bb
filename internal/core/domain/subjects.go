package domain

// Bus subject layout. Every job goes out on the one submit subject;
// results come back on one subject per job so the correlator can watch
// them all with a single wildcard subscription.
const (
	SubjectAnnounce      = "modules.announce"
	SubjectSubmit        = "jobs.submit"
	SubjectResultPrefix  = "jobs.result."
	SubjectResultPattern = "jobs.result.*"
)

// ResultSubject returns the reply subject for one job.
func ResultSubject(id JobID) string {
	return SubjectResultPrefix + string(id)
}

// SubmitQueueGroup names the competing-consumer group for a kind. All
// workers of one kind share the group, so each submitted job is handed
// to exactly one of them.
func SubmitQueueGroup(kind ProbeKind) string {
	return string(kind) + "-workers"
}
