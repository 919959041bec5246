package fanout

// Progress counts finished units of one batch.
// Completed never exceeds Total; Total is fixed when the batch starts.
type Progress struct {
	BatchID   string
	Completed int
	Total     int
}

// NewProgress returns a zeroed counter for a batch of total units.
func NewProgress(batchID string, total int) Progress {
	if total < 0 {
		total = 0
	}
	return Progress{BatchID: batchID, Total: total}
}

// Complete records one finished unit. Returns false, leaving the counter
// unchanged, when every unit is already accounted for.
func (p *Progress) Complete() bool {
	if p.Completed >= p.Total {
		return false
	}
	p.Completed++
	return true
}

// Done reports whether every unit has finished. An empty batch is done immediately.
func (p Progress) Done() bool {
	return p.Completed == p.Total
}

// Ratio returns Completed/Total in [0, 1]; an empty batch reports 1.
func (p Progress) Ratio() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Completed) / float64(p.Total)
}
