package jobs

type JobType string

const (
	JobProfileMissingAlert JobType = "profile.missing_alert"
)

// check to see if the job type is a known constant

func (t JobType) IsValid() bool {
	switch t {
	case JobProfileMissingAlert:
		return true
	default:
		return false
	}
}
