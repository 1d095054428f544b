package check

// Batch groups consecutive LogLines sharing (Schema, Tb, LogType) into
// runs of at most batchSize, preserving file order (spec §4.8 "groups
// consecutive entries of the same (schema, tb, log_type) into batches").
func Batch(lines []*LogLine, batchSize int) [][]*LogLine {
	if batchSize <= 0 {
		batchSize = 1
	}
	var batches [][]*LogLine
	var cur []*LogLine

	flush := func() {
		if len(cur) > 0 {
			batches = append(batches, cur)
			cur = nil
		}
	}

	for _, line := range lines {
		if len(cur) > 0 {
			last := cur[len(cur)-1]
			sameGroup := last.Schema == line.Schema && last.Tb == line.Tb && last.LogType == line.LogType
			if !sameGroup || len(cur) >= batchSize {
				flush()
			}
		}
		cur = append(cur, line)
	}
	flush()
	return batches
}
