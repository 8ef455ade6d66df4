package offlinecache

// bestEffort runs fn and swallows its error after logging it. Every call site
// is a place where a failure must not reach the caller; everything else
// returns its error. Reports whether fn succeeded.
func bestEffort(log Logger, op string, f Fields, fn func() error) bool {
	err := fn()
	if err == nil {
		return true
	}
	fields := make(Fields, len(f)+2)
	for k, v := range f {
		fields[k] = v
	}
	fields["op"] = op
	fields["err"] = err
	log.Warn("best-effort operation failed", fields)
	return false
}
