package watermark

// Policy triggers eviction when usage exceeds Ratio of Limit.
type Policy struct {
	Limit int64
	Ratio float64
}

// Mark is the usage in bytes above which the policy asks for eviction.
func (p *Policy) Mark() int64 {
	return int64(float64(p.Limit) * p.Ratio)
}

func (p *Policy) BytesToFree(currentSize int64) (int64, error) {
	if mark := p.Mark(); currentSize > mark {
		return currentSize - mark, nil
	}
	return 0, nil
}
