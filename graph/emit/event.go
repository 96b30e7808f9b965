package emit

// Event is one observable moment of a run.
//
// Msg is one of: run_start, run_end, run_error, node_start, node_end,
// node_error, node_retry, routing, fanout, conflict, checkpoint_load,
// checkpoint_save. Graph-level events carry an empty NodeID and step 0.
//
// Common Meta keys: "error" (string), "latency_ms" (time.Duration),
// "fields" ([]string), "to" (routing destination), "session_id".
type Event struct {
	RunID  string
	Step   int
	NodeID string
	Msg    string
	Meta   map[string]interface{}
}

// Err returns the "error" meta value, if present.
func (e Event) Err() (string, bool) {
	s, ok := e.Meta["error"].(string)
	return s, ok
}
