package telemetry

import (
	"encoding/json"
	"math"
	"strconv"
)

// synthetic draws one sample: heart rate ~ N(76, 6), steps ~ N(6000, 1500),
// sleep hours ~ N(7, 1), each floored at zero.
func synthetic(normal func() float64) Record {
	heartRate := round1(math.Max(0, normal()*6+76))
	steps := int64(math.Round(math.Max(0, normal()*1500+6000)))
	sleepHours := round1(math.Max(0, normal()*1.0+7.0))

	return Record{Fields: map[string]any{
		"heart_rate":  json.Number(strconv.FormatFloat(heartRate, 'f', -1, 64)),
		"steps":       json.Number(strconv.FormatInt(steps, 10)),
		"sleep_hours": json.Number(strconv.FormatFloat(sleepHours, 'f', -1, 64)),
	}}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
