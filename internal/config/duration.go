package config

import "time"

// Duration wraps time.Duration so TOML duration literals ("500ms", "30s")
// decode directly into config structs, matching the teacher's util.Duration
// usage in cluster and range-server heartbeat intervals.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
