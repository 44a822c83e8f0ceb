package modem

// Quality scores a record's radio conditions on a 10..40 scale by bucketing
// each present metric and averaging the buckets. It reports false when the
// record carries no metric.
func Quality(rec Record) (float64, bool) {
	var sum float64
	n := 0
	add := func(v *float64, score func(float64) float64) {
		if v == nil {
			return
		}
		sum += score(*v)
		n++
	}
	add(rec.RSRP, rsrpScore)
	add(rec.RSSI, rssiScore)
	add(rec.RSRQ, rsrqScore)
	add(rec.SINR, sinrScore)
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func rsrpScore(v float64) float64 {
	switch {
	case v >= -84:
		return 40
	case v >= -102:
		return 30
	case v >= -111:
		return 20
	}
	return 10
}

func rssiScore(v float64) float64 {
	switch {
	case v >= -65:
		return 40
	case v >= -75:
		return 30
	case v >= -85:
		return 20
	}
	return 10
}

func rsrqScore(v float64) float64 {
	switch {
	case v >= -5:
		return 40
	case v >= -6:
		return 30
	}
	return 10
}

func sinrScore(v float64) float64 {
	switch {
	case v >= 12.5:
		return 40
	case v >= 10:
		return 30
	case v >= 7:
		return 20
	}
	return 10
}
