package massaction

// Result is the host's outcome for one processing call.
type Result struct {
	OK       int      `json:"ok"`
	KO       int      `json:"ko"`
	NoRight  int      `json:"noright"`
	Messages []string `json:"messages"`
}

// Add accumulates other into r.
func (r *Result) Add(other Result) {
	r.OK += other.OK
	r.KO += other.KO
	r.NoRight += other.NoRight
	r.Messages = append(r.Messages, other.Messages...)
}

// Total returns ok + ko + noright.
func (r Result) Total() int {
	return r.OK + r.KO + r.NoRight
}
